// Package sdp encodes and decodes the SDP documents that describe AES67,
// ST2110-30/31 audio and ST2110-41 metadata streams.
//
// Encode emits a fixed line order so that documents are stable across
// releases and comparable byte for byte in tests:
//
//	v=0
//	o=- 1234 1234 IN IP4 192.168.10.4
//	s=mix-5.1
//	c=IN IP4 239.1.2.1/32
//	t=0 0
//	m=audio 5004 RTP/AVP 98
//	i=L, R, C, LFE, Ls, Rs
//	a=ts-refclk:ptp=IEEE1588-2008:39-A7-94-FF-FE-07-CB-D0:0
//	a=clock-domain:PTPv2 0
//	a=source-filter: incl IN IP4 239.1.2.1 192.168.10.4
//	a=rtpmap:98 L24/48000/6
//	a=framecount:48
//	a=ptime:1
//	a=mediaclk:direct=0
//	a=recvonly
//	a=sync-time:0
//
// Decode is called continuously on untrusted network input. It never panics
// and never returns an error; a malformed document yields ok == false and a
// debug log entry naming the rejected rule.
package sdp
