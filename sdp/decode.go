package sdp

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/opd-ai/aoip/limits"
	"github.com/opd-ai/aoip/stream"
	pionsdp "github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// defaultMetadataPayload applies when a metadata fmtp omits MaxPayloadSize.
const defaultMetadataPayload = limits.MaxRTPPayload

// Decode parses SDP text into a stream record and its clock domain. ok is
// false when the document fails any validation rule; the reason is logged at
// debug level.
func Decode(text string) (stream.Info, stream.ClockDomain, bool) {
	info, clk, err := DecodeDetailed(text)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sdp.Decode",
			"size":     len(text),
			"error":    err.Error(),
		}).Debug("Rejected stream description")
		return stream.Info{}, stream.ClockDomain{}, false
	}
	return info, clk, true
}

// DecodeService decodes text into a Service that keeps the original SDP.
func DecodeService(text string) (stream.Service, bool) {
	info, clk, ok := Decode(text)
	if !ok {
		return stream.Service{}, false
	}
	return stream.Service{Info: info, Clock: clk, SDP: text}, true
}

// DecodeDetailed is Decode with the rejection reason as an error.
func DecodeDetailed(text string) (info stream.Info, clk stream.ClockDomain, err error) {
	defer func() {
		// The SDP lexer works on untrusted input; never let it take the caller down.
		if r := recover(); r != nil {
			info, clk, err = stream.Info{}, stream.ClockDomain{}, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	if err := limits.ValidateSDP(text); err != nil {
		return info, clk, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	var desc pionsdp.SessionDescription
	if err := desc.UnmarshalString(text); err != nil {
		return info, clk, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if desc.SessionName == "" {
		return info, clk, fmt.Errorf("%w: empty session name", ErrMalformed)
	}

	md, err := selectMedia(&desc)
	if err != nil {
		return info, clk, err
	}

	info.Name = string(desc.SessionName)
	info.SessionID = desc.Origin.SessionID
	if info.Source, err = parseIPv4(desc.Origin.UnicastAddress); err != nil {
		return stream.Info{}, clk, err
	}

	conn := md.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return stream.Info{}, clk, fmt.Errorf("%w: no connection line", ErrAddress)
	}
	if info.Destination, err = parseIPv4(conn.Address.Address); err != nil {
		return stream.Info{}, clk, err
	}
	if src, ok := sourceFilter(md); ok {
		info.Source = src
	}

	if err := decodeMedia(md, &info); err != nil {
		return stream.Info{}, clk, err
	}

	clk = decodeClock(md, &desc)

	if err := info.Validate(); err != nil {
		return stream.Info{}, stream.ClockDomain{}, err
	}
	return info, clk, nil
}

// selectMedia returns the single media section to parse. With a DUP group
// only the first listed leg is considered.
func selectMedia(desc *pionsdp.SessionDescription) (*pionsdp.MediaDescription, error) {
	if group, ok := desc.Attribute(attrGroup); ok {
		fields := strings.Fields(group)
		if len(fields) >= 2 && fields[0] == "DUP" {
			var found *pionsdp.MediaDescription
			for _, md := range desc.MediaDescriptions {
				if mid, ok := md.Attribute(attrMid); ok && strings.TrimSpace(mid) == fields[1] {
					if found != nil {
						return nil, fmt.Errorf("%w: mid %q repeated", ErrGroup, fields[1])
					}
					found = md
				}
			}
			if found == nil {
				return nil, fmt.Errorf("%w: no media for mid %q", ErrGroup, fields[1])
			}
			return found, checkTransport(found)
		}
	}

	if len(desc.MediaDescriptions) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrMediaCount, len(desc.MediaDescriptions))
	}
	md := desc.MediaDescriptions[0]
	return md, checkTransport(md)
}

func checkTransport(md *pionsdp.MediaDescription) error {
	if strings.Join(md.MediaName.Protos, "/") != "RTP/AVP" {
		return fmt.Errorf("%w: %s", ErrTransport, strings.Join(md.MediaName.Protos, "/"))
	}
	if len(md.MediaName.Formats) != 1 {
		return fmt.Errorf("%w: %d formats", ErrPayloadType, len(md.MediaName.Formats))
	}
	return nil
}

func decodeMedia(md *pionsdp.MediaDescription, info *stream.Info) error {
	pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8)
	if err != nil || pt < stream.MinPayloadType || pt > stream.MaxPayloadType {
		return fmt.Errorf("%w: %q", ErrPayloadType, md.MediaName.Formats[0])
	}
	info.PayloadType = uint8(pt)

	port := md.MediaName.Port.Value
	if port <= 0 || port > math.MaxUint16 {
		return fmt.Errorf("%w: port %d", ErrAddress, port)
	}
	info.Port = uint16(port)

	rtpmap, err := matchingRtpmap(md, md.MediaName.Formats[0])
	if err != nil {
		return err
	}
	parts := strings.Split(rtpmap, "/")
	if len(parts) < 2 {
		return fmt.Errorf("%w: %q", ErrRtpmap, rtpmap)
	}
	rate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || rate == 0 {
		return fmt.Errorf("%w: clock rate %q", ErrRtpmap, parts[1])
	}
	info.SampleRate = uint32(rate)
	codec := parts[0]

	switch md.MediaName.Media {
	case "audio":
		return decodeAudio(md, info, codec, parts)
	case "application":
		if codec != stream.CodecMetadata {
			return fmt.Errorf("%w: %q in application media", ErrCodec, codec)
		}
		return decodeMetadata(md, info)
	case offloadMetadataMedia:
		if codec != offloadMetadataCodec {
			return fmt.Errorf("%w: %q in video media", ErrCodec, codec)
		}
		return decodeMetadata(md, info)
	default:
		return fmt.Errorf("%w: media %q", ErrCodec, md.MediaName.Media)
	}
}

// matchingRtpmap returns the encoding part of the one rtpmap for pt.
func matchingRtpmap(md *pionsdp.MediaDescription, pt string) (string, error) {
	var found string
	count := 0
	for _, a := range md.Attributes {
		if a.Key != attrRtpmap {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) != 2 || fields[0] != pt {
			continue
		}
		found = fields[1]
		count++
	}
	if count != 1 {
		return "", fmt.Errorf("%w: %d entries for payload type %s", ErrRtpmap, count, pt)
	}
	return found, nil
}

func decodeAudio(md *pionsdp.MediaDescription, info *stream.Info, codec string, parts []string) error {
	audio := &stream.AudioParams{}
	switch codec {
	case stream.CodecL16:
		info.Kind, audio.BytesPerSample = stream.KindAES67, 2
	case stream.CodecL24:
		info.Kind, audio.BytesPerSample = stream.KindAES67, 3
	case stream.CodecAM824:
		info.Kind, audio.BytesPerSample = stream.KindAM824, 4
	default:
		return fmt.Errorf("%w: %q", ErrCodec, codec)
	}

	if len(parts) != 3 {
		return fmt.Errorf("%w: channel count missing", ErrRtpmap)
	}
	channels, err := strconv.Atoi(parts[2])
	if err != nil || channels < 1 {
		return fmt.Errorf("%w: channel count %q", ErrRtpmap, parts[2])
	}
	audio.Channels = channels

	if fc, ok := md.Attribute(attrFramecount); ok {
		n, err := strconv.Atoi(strings.TrimSpace(fc))
		if err != nil || n < 1 {
			return fmt.Errorf("%w: framecount %q", ErrPacketTime, fc)
		}
		audio.SamplesPerPacket = n
	} else {
		ms, ok := ptime(md)
		if !ok {
			return ErrPacketTime
		}
		audio.SamplesPerPacket = int(math.Round(ms * float64(info.SampleRate) / 1000))
		if audio.SamplesPerPacket < 1 {
			return fmt.Errorf("%w: ptime %g", ErrPacketTime, ms)
		}
	}

	if md.MediaTitle != nil {
		labels := strings.Split(string(*md.MediaTitle), ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		// A title that is not one label per channel is free text.
		if len(labels) == channels {
			audio.ChannelLabels = labels
		}
	}

	info.Audio = audio
	return nil
}

func decodeMetadata(md *pionsdp.MediaDescription, info *stream.Info) error {
	info.Kind = stream.KindMetadata
	meta := &stream.MetadataParams{MaxPayloadSize: defaultMetadataPayload}

	ms, ok := ptime(md)
	if !ok || ms < 1 {
		return ErrPacketTime
	}
	meta.PeriodMs = int(math.Round(ms))

	pt := strconv.Itoa(int(info.PayloadType))
	var params string
	for _, a := range md.Attributes {
		if a.Key != attrFmtp {
			continue
		}
		if fields := strings.SplitN(strings.TrimSpace(a.Value), " ", 2); len(fields) == 2 && fields[0] == pt {
			params = fields[1]
			break
		}
	}

	for _, param := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "DIT":
			for _, tok := range strings.Split(value, ",") {
				dit, err := strconv.ParseUint(strings.TrimSpace(tok), 0, 32)
				if err != nil {
					return fmt.Errorf("%w: %q", ErrDataItemTypes, tok)
				}
				meta.DataItemTypes = append(meta.DataItemTypes, uint32(dit))
			}
		case "MaxPayloadSize":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 1 {
				return fmt.Errorf("%w: MaxPayloadSize %q", ErrDataItemTypes, value)
			}
			meta.MaxPayloadSize = n
		}
	}
	if len(meta.DataItemTypes) == 0 {
		return ErrDataItemTypes
	}

	info.Metadata = meta
	return nil
}

func ptime(md *pionsdp.MediaDescription) (float64, bool) {
	value, ok := md.Attribute(attrPtime)
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || ms <= 0 || math.IsInf(ms, 0) || math.IsNaN(ms) {
		return 0, false
	}
	return ms, true
}

// decodeClock reads the PTP attributes best effort; absent or malformed
// values leave the zero ClockDomain fields in place.
func decodeClock(md *pionsdp.MediaDescription, desc *pionsdp.SessionDescription) stream.ClockDomain {
	var clk stream.ClockDomain

	refclk, ok := md.Attribute(attrTSRefClk)
	if !ok {
		refclk, ok = desc.Attribute(attrTSRefClk)
	}
	if ok && strings.HasPrefix(refclk, "ptp=") {
		// version:gmid[:domain], where gmid may itself be colon separated.
		parts := strings.Split(strings.TrimPrefix(refclk, "ptp="), ":")
		ids := parts[1:]
		if len(parts) >= 3 {
			if d, err := strconv.ParseUint(parts[len(parts)-1], 10, 8); err == nil {
				clk.Domain = uint8(d)
				ids = parts[1 : len(parts)-1]
			}
		}
		if gmid := strings.Join(ids, ":"); gmid != "" && gmid != ptpTraceable {
			clk.GrandmasterID = gmid
		}
	}

	domain, ok := md.Attribute(attrClockDomain)
	if !ok {
		domain, ok = desc.Attribute(attrClockDomain)
	}
	if ok {
		if fields := strings.Fields(domain); len(fields) == 2 && fields[0] == "PTPv2" {
			if d, err := strconv.ParseUint(fields[1], 10, 8); err == nil {
				clk.Domain = uint8(d)
			}
		}
	}
	return clk
}

func sourceFilter(md *pionsdp.MediaDescription) (netip.Addr, bool) {
	value, ok := md.Attribute(attrSourceFilter)
	if !ok {
		return netip.Addr{}, false
	}
	fields := strings.Fields(value)
	if len(fields) < 5 || fields[0] != "incl" {
		return netip.Addr{}, false
	}
	addr, err := parseIPv4(fields[len(fields)-1])
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

func parseIPv4(s string) (netip.Addr, error) {
	host, _, _ := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrAddress, s)
	}
	return addr, nil
}
