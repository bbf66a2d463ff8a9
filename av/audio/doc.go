// Package audio converts between the engines' native sample representation
// and the RTP payload formats of AES67 and ST2110-30/31.
//
// Native samples are interleaved int32 values, left-justified: a 24-bit
// sample sits in the top 24 bits and the low byte is zero. The payload
// formats are
//
//	L16    big-endian 16-bit PCM (top 16 bits of each sample)
//	L24    big-endian 24-bit PCM (top 24 bits of each sample)
//	AM824  4-byte AES3 sub-frames: one label byte (F, B, P, C, U, V)
//	       followed by the 24-bit sample
//
// NewEncoder and NewDecoder pick the converter from a stream.Info:
//
//	enc, err := audio.NewEncoder(info)
//	n, err := enc.Encode(payload, samples)
//
// The AM824 converters carry the 192-frame channel-status block across
// calls; ChannelStatus builds and checks the professional block and its
// CRC.
//
// WAVSource and WAVSink connect files to the engines' pull and push
// callbacks. Resampler converts file rates to the stream rate, and
// EffectChain applies an optional gain trim before encoding.
package audio
