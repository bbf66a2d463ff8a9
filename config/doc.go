// Package config loads node configuration.
//
// Values come from, in increasing precedence, built-in defaults, an optional
// YAML file and AOIP_* environment variables (nesting separated by
// underscores, e.g. AOIP_ENGINE_TEARDOWN_RETRIES). Stream entries can only be
// given in the file:
//
//	logging:
//	  level: info
//	  format: json
//	clock:
//	  tai_offset: 37
//	clock_domain:
//	  grandmaster_id: "00-1D-C1-FF-FE-12-34-56"
//	  domain: 0
//	offload:
//	  driver: udp
//	  interface: eth1
//	streams:
//	  - name: stage-left
//	    direction: transmit
//	    kind: aes67
//	    payload_type: 97
//	    source: 192.168.10.20
//	    destination: 239.69.10.1
//	    port: 5004
//	    sample_rate: 48000
//	    channels: 2
//	    bytes_per_sample: 3
//	    samples_per_packet: 48
//	    file: stage-left.wav
//	    loop: true
//
// ApplyLogging installs the logging section on the global logrus logger.
package config
