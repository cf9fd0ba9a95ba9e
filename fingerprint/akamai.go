package fingerprint

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// pseudoLetters maps pseudo-headers to their Akamai fingerprint letter.
var pseudoLetters = map[string]string{
	":method":    "m",
	":authority": "a",
	":scheme":    "s",
	":path":      "p",
}

// HTTP2Params is the connection-level HTTP/2 configuration derived from a
// profile, ready for the frame writer.
type HTTP2Params struct {
	Settings        []Setting
	SettingsPayload []byte // SETTINGS frame payload, in profile order
	WindowUpdate    uint32 // connection WINDOW_UPDATE increment, 0 for none

	// HEADERS priority block. HasPriority is false when the browser sends none.
	HasPriority      bool
	StreamDependency uint32
	StreamExclusive  bool
	Weight           uint8 // wire value, i.e. weight-1

	PseudoHeaderOrder []string
	HeaderOrder       []string

	HeaderTableSize   uint32
	InitialWindowSize uint32
	MaxFrameSize      uint32
	MaxHeaderListSize uint32
}

// BuildHTTP2Params derives the HTTP/2 parameters for a profile.
func BuildHTTP2Params(p *Profile) (*HTTP2Params, error) {
	sig := &p.HTTP2

	seen := make(map[string]bool, len(sig.PseudoHeaderOrder))
	for _, ph := range sig.PseudoHeaderOrder {
		if _, ok := pseudoLetters[ph]; !ok {
			return nil, &SignatureError{Profile: p.ID, Field: "pseudo-header " + ph, Reason: "unknown pseudo-header"}
		}
		if seen[ph] {
			return nil, &SignatureError{Profile: p.ID, Field: "pseudo-header " + ph, Reason: "listed twice"}
		}
		seen[ph] = true
	}
	if len(seen) != len(pseudoLetters) {
		return nil, &SignatureError{Profile: p.ID, Field: "pseudo-header order", Value: uint16(len(seen)), Reason: "must list all four request pseudo-headers"}
	}
	if sig.StreamWeight > 256 {
		return nil, &SignatureError{Profile: p.ID, Field: "stream weight", Value: sig.StreamWeight, Reason: "out of range 1-256"}
	}

	payload := make([]byte, 0, 6*len(sig.Settings))
	for _, s := range sig.Settings {
		payload = binary.BigEndian.AppendUint16(payload, s.ID)
		payload = binary.BigEndian.AppendUint32(payload, s.Value)
	}

	params := &HTTP2Params{
		Settings:          append([]Setting(nil), sig.Settings...),
		SettingsPayload:   payload,
		WindowUpdate:      sig.ConnectionWindowUpdate,
		PseudoHeaderOrder: append([]string(nil), sig.PseudoHeaderOrder...),
		HeaderOrder:       append([]string(nil), sig.HeaderOrder...),
		HeaderTableSize:   sig.HeaderTableSize(),
		InitialWindowSize: sig.InitialWindowSize(),
		MaxFrameSize:      sig.MaxFrameSize(),
		MaxHeaderListSize: sig.MaxHeaderListSize(),
	}
	if sig.StreamWeight > 0 {
		params.HasPriority = true
		params.StreamDependency = sig.StreamDependency
		params.StreamExclusive = sig.StreamExclusive
		params.Weight = uint8(sig.StreamWeight - 1)
	}
	return params, nil
}

// Akamai renders the HTTP/2 fingerprint string
// SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER, e.g.
// "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p".
//
// PRIORITY lists standalone PRIORITY frames, which no catalog entry sends, so
// it is always "0".
func (s *HTTP2Signature) Akamai() string {
	settings := lo.Map(s.Settings, func(st Setting, _ int) string {
		return fmt.Sprintf("%d:%d", st.ID, st.Value)
	})
	pseudo := lo.Map(s.PseudoHeaderOrder, func(ph string, _ int) string {
		return pseudoLetters[ph]
	})
	return strings.Join([]string{
		strings.Join(settings, ";"),
		strconv.FormatUint(uint64(s.ConnectionWindowUpdate), 10),
		"0",
		strings.Join(pseudo, ","),
	}, "|")
}
