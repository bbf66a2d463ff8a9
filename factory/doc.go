// Package factory creates offload providers from configuration.
//
// The factory decouples engine code from the concrete provider so the same
// node can run against real UDP sockets or the in-process loopback fabric
// without changing consuming code.
//
// # Configuration
//
// Defaults may be overridden with environment variables:
//   - AOIP_OFFLOAD_DRIVER: "udp" or "loopback"
//   - AOIP_OFFLOAD_INTERFACE: network interface for multicast
//   - AOIP_OFFLOAD_TTL: multicast TTL, 0..255
//   - AOIP_OFFLOAD_DSCP: DSCP for sent packets, 0..63
//   - AOIP_OFFLOAD_QUEUE_DEPTH: receive queue multiplier, 1..1024
//   - AOIP_OFFLOAD_MULTICAST_LOOPBACK: "true" or "false"
//
// Invalid values are logged and ignored.
//
// # Usage
//
//	f := factory.NewProviderFactory()
//	provider, err := f.CreateProvider()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
// Tests usually want the loopback fabric directly:
//
//	fabric := factory.NewProviderFactory().CreateSimulationForTesting()
package factory
