package sdp

import "errors"

// Decode rejection reasons. Decode reports them only through its log entry;
// they are exported for callers that use DecodeDetailed.
var (
	// ErrMalformed indicates text that is not a well-formed SDP document.
	ErrMalformed = errors.New("malformed sdp")

	// ErrMediaCount indicates zero or several candidate media sections.
	ErrMediaCount = errors.New("expected exactly one media section")

	// ErrTransport indicates a media transport other than RTP/AVP.
	ErrTransport = errors.New("unsupported media transport")

	// ErrPayloadType indicates a payload type outside the dynamic range.
	ErrPayloadType = errors.New("payload type outside dynamic range")

	// ErrRtpmap indicates a missing, duplicated or malformed rtpmap attribute.
	ErrRtpmap = errors.New("invalid rtpmap")

	// ErrCodec indicates an encoding name this codec does not know.
	ErrCodec = errors.New("unsupported codec")

	// ErrPacketTime indicates neither framecount nor ptime yields a packet size.
	ErrPacketTime = errors.New("missing packet time")

	// ErrDataItemTypes indicates a metadata stream without a decodable DIT list.
	ErrDataItemTypes = errors.New("invalid data item type list")

	// ErrAddress indicates a missing or non-IPv4 address.
	ErrAddress = errors.New("invalid address")

	// ErrGroup indicates a DUP group whose first leg has no media section.
	ErrGroup = errors.New("invalid duplicate group")
)
