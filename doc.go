// Package aoip implements a real-time AES67 / SMPTE ST2110 audio-over-IP
// transport node.
//
// A Node owns one PTP-referenced time base and any number of transmit and
// receive engines. Transmitters pace RTP packets on the PTP timeline and are
// announced to the discovery backends as SDP; receivers reblock incoming
// packets into fixed-size frames for a callback or a sample ring.
//
// # Getting Started
//
// Load a configuration and run a node until interrupted:
//
//	cfg, err := config.Load("aoip.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	config.ApplyLogging(cfg.Logging)
//
//	node, err := aoip.NewNodeFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := node.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Streams From Code
//
// Engines can also be added directly. The node fills in the time base, the
// offload provider and the clock domain:
//
//	tx, err := node.AddTransmitter(av.TransmitterConfig{
//	    Info:      info,
//	    AudioPull: func(dst []int32, ts uint32) bool { return fill(dst) },
//	})
//
// Remote services arrive through Iterate, which Run calls periodically:
//
//	node.OnServiceAdded(func(svc stream.Service) {
//	    node.AddReceiver(svc, av.ReceiverConfig{AudioPush: play})
//	})
//
// # Discovery
//
// Each backend sees every local transmitter's SDP. A node polls its own
// subscription of each backend, so nodes sharing a Directory all observe
// every change. Iterate re-announces local transmitters three times per
// discovery TTL to keep their entries from expiring.
package aoip
