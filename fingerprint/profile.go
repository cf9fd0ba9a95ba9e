// Package fingerprint holds the closed catalog of impersonation profiles and the
// builders that turn a profile into a concrete uTLS ClientHelloSpec and HTTP/2
// connection parameters.
//
// A profile is the full wire signature of one browser or runtime release:
//
//  1. TLS: cipher order, extension order, groups, key shares, signature schemes, ALPN
//  2. HTTP/2: SETTINGS order and values, WINDOW_UPDATE, HEADERS priority, pseudo-header order
//  3. Headers: default header set with casing and order
//
// Profiles are looked up by identifier with Resolve. There is no fallback: an
// unknown identifier is an error.
package fingerprint

import "strings"

// GREASE marks a position where the browser inserts a GREASE value (RFC 8701).
// The concrete value is chosen per handshake by uTLS.
const GREASE uint16 = 0x0a0a

// TLS extension codepoints used by the catalog.
const (
	ExtServerName           uint16 = 0
	ExtStatusRequest        uint16 = 5
	ExtSupportedGroups      uint16 = 10
	ExtECPointFormats       uint16 = 11
	ExtSignatureAlgorithms  uint16 = 13
	ExtALPN                 uint16 = 16
	ExtSCT                  uint16 = 18
	ExtPadding              uint16 = 21
	ExtExtendedMasterSecret uint16 = 23
	ExtCompressCertificate  uint16 = 27
	ExtRecordSizeLimit      uint16 = 28
	ExtDelegatedCredentials uint16 = 34
	ExtSessionTicket        uint16 = 35
	ExtPreSharedKey         uint16 = 41
	ExtSupportedVersions    uint16 = 43
	ExtPSKKeyExchangeModes  uint16 = 45
	ExtSignatureAlgsCert    uint16 = 50
	ExtKeyShare             uint16 = 51
	ExtALPS                 uint16 = 17513
	ExtALPSNew              uint16 = 17613
	ExtEncryptedClientHello uint16 = 65037
	ExtRenegotiationInfo    uint16 = 65281
)

// HTTP/2 SETTINGS identifiers (RFC 9113 section 6.5.2).
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
	SettingNoRFC7540Priorities  uint16 = 0x9
)

// Profile is one immutable catalog entry.
type Profile struct {
	ID       string // e.g. "chrome_131"
	Browser  string
	Version  string
	Platform string

	TLS   TLSSignature
	HTTP2 HTTP2Signature

	// Headers is the default header set, in emission order, with the casing
	// used on HTTP/1.1.
	Headers []HeaderField
}

// TLSSignature describes a ClientHello. Order matters in every slice.
type TLSSignature struct {
	CipherSuites       []uint16
	Extensions         []uint16
	CompressionMethods []uint8

	SupportedGroups         []uint16
	KeyShareGroups          []uint16
	PointFormats            []uint8
	SignatureAlgorithms     []uint16
	SignatureAlgorithmsCert []uint16
	ALPN                    []string
	ALPS                    []string
	SupportedVersions       []uint16
	MinVersion              uint16
	MaxVersion              uint16
	CertCompression         []uint16
	PSKModes                []uint8
	DelegatedCredentials    []uint16
	RecordSizeLimit         uint16
}

// Setting is one HTTP/2 SETTINGS entry.
type Setting struct {
	ID    uint16
	Value uint32
}

// HTTP2Signature describes the HTTP/2 connection preamble and HEADERS shape.
type HTTP2Signature struct {
	Settings               []Setting
	ConnectionWindowUpdate uint32

	// Priority block on HEADERS frames. Weight 0 means the browser sends none.
	StreamWeight     uint16
	StreamExclusive  bool
	StreamDependency uint32

	PseudoHeaderOrder []string
	HeaderOrder       []string
}

// HeaderField is a header name and value. Name keeps its casing.
type HeaderField struct {
	Name  string
	Value string
}

func (s *HTTP2Signature) setting(id uint16) (uint32, bool) {
	for _, st := range s.Settings {
		if st.ID == id {
			return st.Value, true
		}
	}
	return 0, false
}

// HeaderTableSize returns SETTINGS_HEADER_TABLE_SIZE, or the protocol default.
func (s *HTTP2Signature) HeaderTableSize() uint32 {
	if v, ok := s.setting(SettingHeaderTableSize); ok {
		return v
	}
	return 4096
}

// InitialWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE, or the protocol default.
func (s *HTTP2Signature) InitialWindowSize() uint32 {
	if v, ok := s.setting(SettingInitialWindowSize); ok {
		return v
	}
	return 65535
}

// MaxFrameSize returns SETTINGS_MAX_FRAME_SIZE, or the protocol default.
func (s *HTTP2Signature) MaxFrameSize() uint32 {
	if v, ok := s.setting(SettingMaxFrameSize); ok {
		return v
	}
	return 16384
}

// MaxHeaderListSize returns SETTINGS_MAX_HEADER_LIST_SIZE, or 0 when unset.
func (s *HTTP2Signature) MaxHeaderListSize() uint32 {
	v, _ := s.setting(SettingMaxHeaderListSize)
	return v
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	c.TLS = TLSSignature{
		CipherSuites:            append([]uint16(nil), p.TLS.CipherSuites...),
		Extensions:              append([]uint16(nil), p.TLS.Extensions...),
		CompressionMethods:      append([]uint8(nil), p.TLS.CompressionMethods...),
		SupportedGroups:         append([]uint16(nil), p.TLS.SupportedGroups...),
		KeyShareGroups:          append([]uint16(nil), p.TLS.KeyShareGroups...),
		PointFormats:            append([]uint8(nil), p.TLS.PointFormats...),
		SignatureAlgorithms:     append([]uint16(nil), p.TLS.SignatureAlgorithms...),
		SignatureAlgorithmsCert: append([]uint16(nil), p.TLS.SignatureAlgorithmsCert...),
		ALPN:                    append([]string(nil), p.TLS.ALPN...),
		ALPS:                    append([]string(nil), p.TLS.ALPS...),
		SupportedVersions:       append([]uint16(nil), p.TLS.SupportedVersions...),
		MinVersion:              p.TLS.MinVersion,
		MaxVersion:              p.TLS.MaxVersion,
		CertCompression:         append([]uint16(nil), p.TLS.CertCompression...),
		PSKModes:                append([]uint8(nil), p.TLS.PSKModes...),
		DelegatedCredentials:    append([]uint16(nil), p.TLS.DelegatedCredentials...),
		RecordSizeLimit:         p.TLS.RecordSizeLimit,
	}
	c.HTTP2 = p.HTTP2
	c.HTTP2.Settings = append([]Setting(nil), p.HTTP2.Settings...)
	c.HTTP2.PseudoHeaderOrder = append([]string(nil), p.HTTP2.PseudoHeaderOrder...)
	c.HTTP2.HeaderOrder = append([]string(nil), p.HTTP2.HeaderOrder...)
	c.Headers = append([]HeaderField(nil), p.Headers...)
	return &c
}

// UserAgent returns the profile's User-Agent header value.
func (p *Profile) UserAgent() string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "user-agent") {
			return h.Value
		}
	}
	return ""
}
