// Package discovery announces transmitters and reports remote services.
//
// Backend is the capability set a node uses: add, update and remove its
// transmit services, and poll for changes. Directory is an in-process
// registry with TTL expiry; Logger only logs; Multi fans out to several.
// Subscribe gives each consumer of a shared Directory its own event queue.
// Registries decode every announced SDP document, so consumers only ever
// see services that would be accepted by a receiver.
package discovery
