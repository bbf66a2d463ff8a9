// Package stream holds the records that describe one AoIP stream and the
// PTP clock domain it is referenced to.
//
// An [Info] is built by the caller, either from configuration or from a
// decoded SDP document, and is treated as an immutable snapshot by the
// engine bound to it. Changing any parameter means stopping the engine and
// building a new one from an updated Info.
//
// Exactly one of [Info.Audio] and [Info.Metadata] is populated, selected by
// [Info.Kind]:
//
//	info := stream.Info{
//	    Name:        "mix-5.1",
//	    Kind:        stream.KindAES67,
//	    PayloadType: 98,
//	    Source:      netip.MustParseAddr("192.168.10.4"),
//	    Destination: netip.MustParseAddr("239.1.2.1"),
//	    Port:        5004,
//	    SampleRate:  48000,
//	    Latency:     500 * time.Millisecond,
//	    Audio: &stream.AudioParams{
//	        Channels:         6,
//	        BytesPerSample:   3,
//	        SamplesPerPacket: 48,
//	    },
//	}
//	if err := info.Validate(); err != nil {
//	    return err
//	}
package stream
