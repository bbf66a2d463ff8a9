// Package main is aoipd, a daemon that runs one audio-over-IP node from a
// configuration file.
//
// # Usage
//
// Run the node described by ./aoip.yaml until interrupted:
//
//	go run ./cmd/aoipd
//
// Check a configuration and print the SDP each transmitter announces:
//
//	go run ./cmd/aoipd -config studio.yaml -check
//
// # Options
//
//   - -config: configuration file (default: aoip.yaml in ., /etc/aoip, $HOME/.aoip)
//   - -log-level: override logging.level
//   - -log-format: override logging.format (text, json)
//   - -check: validate, print transmitter SDP and exit
//
// Environment variables with the AOIP_ prefix override file values, for
// example AOIP_OFFLOAD_DRIVER=loopback or AOIP_CLOCK_TAI_OFFSET=37.
//
// # Exit Codes
//
//   - 0: clean shutdown
//   - 1: configuration or runtime error
//   - 2: invalid command line
//
// SIGINT and SIGTERM stop every engine, withdraw the announcements and exit.
package main
