package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/aoip/limits"
	"github.com/opd-ai/aoip/stream"
	pionsdp "github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// Variant selects the SDP dialect.
type Variant uint8

const (
	// VariantStandard uses the spellings other AES67/ST2110 devices expect.
	VariantStandard Variant = iota
	// VariantOffload uses the dialect of the NIC offload layer, which has no
	// metadata media type and carries ST2110-41 as ancillary video.
	VariantOffload
)

// String returns the variant name.
func (v Variant) String() string {
	if v == VariantOffload {
		return "offload"
	}
	return "standard"
}

// Spellings used by the offload dialect for metadata streams.
const (
	offloadMetadataMedia = "video"
	offloadMetadataCodec = "smpte291"
)

const (
	multicastTTL     = 32
	ptpVersion       = "IEEE1588-2008"
	ptpTraceable     = "traceable"
	attrTSRefClk     = "ts-refclk"
	attrClockDomain  = "clock-domain"
	attrSourceFilter = "source-filter"
	attrRtpmap       = "rtpmap"
	attrFramecount   = "framecount"
	attrPtime        = "ptime"
	attrFmtp         = "fmtp"
	attrMediaClk     = "mediaclk"
	attrRecvOnly     = "recvonly"
	attrSyncTime     = "sync-time"
	attrGroup        = "group"
	attrMid          = "mid"
	labelSeparator   = ", "
)

// Encode renders info and its clock domain as SDP text with '\n' line
// endings. It fails only when info itself is invalid.
func Encode(info stream.Info, clk stream.ClockDomain, variant Variant) (string, error) {
	if err := info.Validate(); err != nil {
		return "", fmt.Errorf("sdp encode: %w", err)
	}
	codec, err := info.Codec()
	if err != nil {
		return "", fmt.Errorf("sdp encode: %w", err)
	}

	media := "audio"
	if info.Kind == stream.KindMetadata {
		media = "application"
		if variant == VariantOffload {
			media = offloadMetadataMedia
			codec = offloadMetadataCodec
		}
	}

	pt := strconv.Itoa(int(info.PayloadType))
	md := &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   media,
			Port:    pionsdp.RangedPort{Value: int(info.Port)},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
	}
	if info.Audio != nil && len(info.Audio.ChannelLabels) > 0 {
		title := pionsdp.Information(strings.Join(info.Audio.ChannelLabels, labelSeparator))
		md.MediaTitle = &title
	}

	dst := info.Destination.String()
	md.Attributes = append(md.Attributes,
		pionsdp.NewAttribute(attrTSRefClk, refClock(clk)),
		pionsdp.NewAttribute(attrClockDomain, fmt.Sprintf("PTPv2 %d", clk.Domain)),
		pionsdp.NewAttribute(attrSourceFilter, fmt.Sprintf(" incl IN IP4 %s %s", dst, info.Source)),
	)

	if a := info.Audio; a != nil {
		md.Attributes = append(md.Attributes,
			pionsdp.NewAttribute(attrRtpmap, fmt.Sprintf("%s %s/%d/%d", pt, codec, info.SampleRate, a.Channels)),
			pionsdp.NewAttribute(attrFramecount, strconv.Itoa(a.SamplesPerPacket)),
			pionsdp.NewAttribute(attrPtime, formatPtime(a.SamplesPerPacket, info.SampleRate)),
		)
	} else {
		m := info.Metadata
		md.Attributes = append(md.Attributes,
			pionsdp.NewAttribute(attrRtpmap, fmt.Sprintf("%s %s/%d", pt, codec, info.SampleRate)),
			pionsdp.NewAttribute(attrPtime, strconv.Itoa(m.PeriodMs)),
		)
	}

	if variant == VariantStandard {
		md.Attributes = append(md.Attributes, pionsdp.NewAttribute(attrMediaClk, "direct=0"))
	}
	md.Attributes = append(md.Attributes,
		pionsdp.NewPropertyAttribute(attrRecvOnly),
		pionsdp.NewAttribute(attrSyncTime, "0"),
	)
	if m := info.Metadata; m != nil {
		md.Attributes = append(md.Attributes, pionsdp.NewAttribute(attrFmtp, fmt.Sprintf("%s %s", pt, formatFmtp(m))))
	}

	conn := &pionsdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &pionsdp.Address{Address: dst},
	}
	if info.Destination.IsMulticast() {
		ttl := multicastTTL
		conn.Address.TTL = &ttl
	}

	desc := &pionsdp.SessionDescription{
		Version: 0,
		Origin: pionsdp.Origin{
			Username:       "-",
			SessionID:      info.SessionID,
			SessionVersion: info.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: info.Source.String(),
		},
		SessionName:           pionsdp.SessionName(info.Name),
		ConnectionInformation: conn,
		TimeDescriptions:      []pionsdp.TimeDescription{{Timing: pionsdp.Timing{}}},
		MediaDescriptions:     []*pionsdp.MediaDescription{md},
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp encode: %w", err)
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if err := limits.ValidateSDP(text); err != nil {
		return "", fmt.Errorf("sdp encode: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sdp.Encode",
		"stream":   info.Name,
		"kind":     info.Kind.String(),
		"variant":  variant.String(),
		"size":     len(text),
	}).Debug("Encoded stream description")

	return text, nil
}

func refClock(clk stream.ClockDomain) string {
	gmid := clk.GrandmasterID
	if gmid == "" {
		gmid = ptpTraceable
	}
	return fmt.Sprintf("ptp=%s:%s:%d", ptpVersion, gmid, clk.Domain)
}

// formatPtime renders the packet time in milliseconds with the shortest
// exact decimal, e.g. "1", "0.125" or "4".
func formatPtime(samples int, rate uint32) string {
	ms := float64(samples) * 1000 / float64(rate)
	return strconv.FormatFloat(ms, 'f', -1, 64)
}

func formatFmtp(m *stream.MetadataParams) string {
	dits := make([]string, len(m.DataItemTypes))
	for i, dit := range m.DataItemTypes {
		dits[i] = fmt.Sprintf("0x%x", dit)
	}
	return fmt.Sprintf("DIT=%s;MaxPayloadSize=%d", strings.Join(dits, ","), m.MaxPayloadSize)
}
