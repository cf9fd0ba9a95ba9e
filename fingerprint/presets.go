package fingerprint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// ErrUnsupportedTarget is returned by Resolve for identifiers outside the catalog.
var ErrUnsupportedTarget = errors.New("unsupported impersonation target")

// platformInfo holds the platform-specific pieces of headers.
type platformInfo struct {
	UserAgentOS        string // e.g. "(Windows NT 10.0; Win64; x64)"
	Platform           string // sec-ch-ua-platform value
	FirefoxUserAgentOS string
}

var platforms = map[string]platformInfo{
	"windows": {
		UserAgentOS:        "(Windows NT 10.0; Win64; x64)",
		Platform:           "Windows",
		FirefoxUserAgentOS: "(Windows NT 10.0; Win64; x64; rv:133.0)",
	},
	"macos": {
		UserAgentOS:        "(Macintosh; Intel Mac OS X 10_15_7)",
		Platform:           "macOS",
		FirefoxUserAgentOS: "(Macintosh; Intel Mac OS X 10.15; rv:133.0)",
	},
	"linux": {
		UserAgentOS:        "(X11; Linux x86_64)",
		Platform:           "Linux",
		FirefoxUserAgentOS: "(X11; Linux x86_64; rv:133.0)",
	},
	"ios": {
		UserAgentOS: "(iPhone; CPU iPhone OS 18_0 like Mac OS X)",
		Platform:    "iOS",
	},
}

// catalog is built once at init and never mutated; Resolve hands out clones.
var catalog = map[string]*Profile{}

func register(p *Profile) {
	if _, dup := catalog[p.ID]; dup {
		panic("fingerprint: duplicate profile " + p.ID)
	}
	if len(p.HTTP2.HeaderOrder) == 0 {
		p.HTTP2.HeaderOrder = lo.Map(p.Headers, func(h HeaderField, _ int) string {
			return strings.ToLower(h.Name)
		})
	}
	catalog[p.ID] = p
}

func init() {
	for _, p := range []*Profile{
		chrome131(),
		chrome133(),
		chrome142(),
		chrome143(),
		edge131(),
		safari17(),
		safari18(),
		safariIOS18(),
		firefox133(),
		okhttp412(),
	} {
		register(p)
	}
}

// Resolve returns a copy of the profile registered under id. Identifiers are
// matched exactly; there is no nearest-version fallback.
func Resolve(id string) (*Profile, error) {
	p, ok := catalog[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTarget, id)
	}
	return p.Clone(), nil
}

// Available returns the sorted list of profile identifiers.
func Available() []string {
	ids := lo.Keys(catalog)
	sort.Strings(ids)
	return ids
}

// Chrome family

var chromeCiphers = []uint16{
	GREASE,
	0x1301, 0x1302, 0x1303,
	0xc02b, 0xc02f, 0xc02c, 0xc030,
	0xcca9, 0xcca8,
	0xc013, 0xc014,
	0x009c, 0x009d, 0x002f, 0x0035,
}

var chromeSigAlgs = []uint16{0x0403, 0x0804, 0x0401, 0x0503, 0x0805, 0x0501, 0x0806, 0x0601}

func chromeTLS(extensions []uint16) TLSSignature {
	return TLSSignature{
		CipherSuites:        chromeCiphers,
		Extensions:          extensions,
		CompressionMethods:  []uint8{0},
		SupportedGroups:     []uint16{GREASE, 0x11ec, 0x001d, 0x0017, 0x0018},
		KeyShareGroups:      []uint16{GREASE, 0x11ec, 0x001d},
		PointFormats:        []uint8{0},
		SignatureAlgorithms: chromeSigAlgs,
		ALPN:                []string{"h2", "http/1.1"},
		ALPS:                []string{"h2"},
		SupportedVersions:   []uint16{GREASE, 0x0304, 0x0303},
		MinVersion:          0x0303,
		MaxVersion:          0x0304,
		CertCompression:     []uint16{2},
		PSKModes:            []uint8{1},
	}
}

func chromeHTTP2() HTTP2Signature {
	return HTTP2Signature{
		Settings: []Setting{
			{SettingHeaderTableSize, 65536},
			{SettingEnablePush, 0},
			{SettingInitialWindowSize, 6291456},
			{SettingMaxHeaderListSize, 262144},
		},
		ConnectionWindowUpdate: 15663105,
		StreamWeight:           256,
		StreamExclusive:        true,
		PseudoHeaderOrder:      []string{":method", ":authority", ":scheme", ":path"},
	}
}

// chromeHeaders is the navigation header set. Client hints stay low-entropy:
// Chrome only sends the rest after an Accept-CH.
func chromeHeaders(secChUA, userAgent, platform string) []HeaderField {
	return []HeaderField{
		{"sec-ch-ua", secChUA},
		{"sec-ch-ua-mobile", "?0"},
		{"sec-ch-ua-platform", `"` + platform + `"`},
		{"Upgrade-Insecure-Requests", "1"},
		{"User-Agent", userAgent},
		{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-User", "?1"},
		{"Sec-Fetch-Dest", "document"},
		{"Accept-Encoding", "gzip, deflate, br, zstd"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Priority", "u=0, i"},
	}
}

func chromeUA(major string, plat platformInfo) string {
	return "Mozilla/5.0 " + plat.UserAgentOS + " AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
}

// Extension order of the 131/132 line, ALPS on the old codepoint.
var chrome131Extensions = []uint16{
	GREASE,
	ExtServerName, ExtExtendedMasterSecret, ExtRenegotiationInfo, ExtSupportedGroups,
	ExtECPointFormats, ExtSessionTicket, ExtALPN, ExtStatusRequest, ExtSignatureAlgorithms,
	ExtSCT, ExtKeyShare, ExtPSKKeyExchangeModes, ExtSupportedVersions, ExtCompressCertificate,
	ExtALPS, ExtEncryptedClientHello,
	GREASE,
}

func chrome131() *Profile {
	plat := platforms["windows"]
	return &Profile{
		ID:       "chrome_131",
		Browser:  "chrome",
		Version:  "131",
		Platform: plat.Platform,
		TLS:      chromeTLS(chrome131Extensions),
		HTTP2:    chromeHTTP2(),
		Headers: chromeHeaders(
			`"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			chromeUA("131", plat), plat.Platform),
	}
}

func chrome133() *Profile {
	plat := platforms["windows"]
	exts := lo.Map(chrome131Extensions, func(id uint16, _ int) uint16 {
		if id == ExtALPS {
			return ExtALPSNew
		}
		return id
	})
	return &Profile{
		ID:       "chrome_133",
		Browser:  "chrome",
		Version:  "133",
		Platform: plat.Platform,
		TLS:      chromeTLS(exts),
		HTTP2:    chromeHTTP2(),
		Headers: chromeHeaders(
			`"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`,
			chromeUA("133", plat), plat.Platform),
	}
}

func chrome142() *Profile {
	plat := platforms["linux"]
	return &Profile{
		ID:       "chrome_142",
		Browser:  "chrome",
		Version:  "142",
		Platform: plat.Platform,
		TLS: chromeTLS([]uint16{
			GREASE,
			ExtPSKKeyExchangeModes, ExtSignatureAlgorithms, ExtSessionTicket, ExtSupportedGroups,
			ExtExtendedMasterSecret, ExtStatusRequest, ExtKeyShare, ExtServerName, ExtALPSNew,
			ExtCompressCertificate, ExtRenegotiationInfo, ExtSupportedVersions, ExtECPointFormats,
			ExtEncryptedClientHello, ExtSCT, ExtALPN,
			GREASE,
		}),
		HTTP2: chromeHTTP2(),
		Headers: chromeHeaders(
			`"Chromium";v="142", "Google Chrome";v="142", "Not_A Brand";v="99"`,
			chromeUA("142", plat), plat.Platform),
	}
}

func chrome143() *Profile {
	plat := platforms["windows"]
	return &Profile{
		ID:       "chrome_143",
		Browser:  "chrome",
		Version:  "143",
		Platform: plat.Platform,
		TLS: chromeTLS([]uint16{
			GREASE,
			ExtPSKKeyExchangeModes, ExtSCT, ExtKeyShare, ExtStatusRequest, ExtSupportedGroups,
			ExtSessionTicket, ExtEncryptedClientHello, ExtECPointFormats, ExtSupportedVersions,
			ExtServerName, ExtSignatureAlgorithms, ExtALPSNew, ExtCompressCertificate,
			ExtExtendedMasterSecret, ExtALPN, ExtRenegotiationInfo,
			GREASE,
		}),
		HTTP2: chromeHTTP2(),
		Headers: chromeHeaders(
			`"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`,
			chromeUA("143", plat), plat.Platform),
	}
}

func edge131() *Profile {
	plat := platforms["windows"]
	return &Profile{
		ID:       "edge_131",
		Browser:  "edge",
		Version:  "131",
		Platform: plat.Platform,
		TLS:      chromeTLS(chrome131Extensions),
		HTTP2:    chromeHTTP2(),
		Headers: chromeHeaders(
			`"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			chromeUA("131", plat)+" Edg/131.0.0.0", plat.Platform),
	}
}

// Safari family

func safariTLS() TLSSignature {
	return TLSSignature{
		CipherSuites: []uint16{
			GREASE,
			0x1301, 0x1302, 0x1303,
			0xc02c, 0xc02b, 0xcca9, 0xc030, 0xc02f, 0xcca8,
			0xc00a, 0xc009, 0xc014, 0xc013,
			0x009d, 0x009c, 0x0035, 0x002f,
			0xc008, 0xc012, 0x000a,
		},
		Extensions: []uint16{
			GREASE,
			ExtServerName, ExtExtendedMasterSecret, ExtRenegotiationInfo, ExtSupportedGroups,
			ExtECPointFormats, ExtALPN, ExtStatusRequest, ExtSignatureAlgorithms, ExtSCT,
			ExtKeyShare, ExtPSKKeyExchangeModes, ExtSupportedVersions, ExtCompressCertificate,
			ExtPadding,
			GREASE,
		},
		CompressionMethods: []uint8{0},
		SupportedGroups:    []uint16{GREASE, 0x001d, 0x0017, 0x0018, 0x0019},
		KeyShareGroups:     []uint16{GREASE, 0x001d},
		PointFormats:       []uint8{0},
		SignatureAlgorithms: []uint16{
			0x0403, 0x0804, 0x0401, 0x0503, 0x0203, 0x0805,
			0x0805, 0x0501, 0x0806, 0x0601, 0x0201,
		},
		ALPN:              []string{"h2", "http/1.1"},
		SupportedVersions: []uint16{GREASE, 0x0304, 0x0303, 0x0302, 0x0301},
		MinVersion:        0x0301,
		MaxVersion:        0x0304,
		CertCompression:   []uint16{1},
		PSKModes:          []uint8{1},
	}
}

func safariHeaders(userAgent string) []HeaderField {
	return []HeaderField{
		{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Dest", "document"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Sec-Fetch-Mode", "navigate"},
		{"User-Agent", userAgent},
		{"Accept-Encoding", "gzip, deflate, br"},
	}
}

// safari18HTTP2 is shared by desktop and iOS 18: RFC 7540 priorities are
// disabled so HEADERS carry no priority block.
func safari18HTTP2() HTTP2Signature {
	return HTTP2Signature{
		Settings: []Setting{
			{SettingEnablePush, 0},
			{SettingMaxConcurrentStreams, 100},
			{SettingInitialWindowSize, 2097152},
			{SettingNoRFC7540Priorities, 1},
		},
		ConnectionWindowUpdate: 10420225,
		PseudoHeaderOrder:      []string{":method", ":scheme", ":authority", ":path"},
	}
}

func safari17() *Profile {
	plat := platforms["macos"]
	return &Profile{
		ID:       "safari_17",
		Browser:  "safari",
		Version:  "17",
		Platform: plat.Platform,
		TLS:      safariTLS(),
		HTTP2: HTTP2Signature{
			Settings: []Setting{
				{SettingEnablePush, 0},
				{SettingInitialWindowSize, 4194304},
				{SettingMaxConcurrentStreams, 100},
			},
			ConnectionWindowUpdate: 10485760,
			StreamWeight:           255,
			PseudoHeaderOrder:      []string{":method", ":scheme", ":path", ":authority"},
		},
		Headers: safariHeaders("Mozilla/5.0 " + plat.UserAgentOS + " AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"),
	}
}

func safari18() *Profile {
	plat := platforms["macos"]
	return &Profile{
		ID:       "safari_18",
		Browser:  "safari",
		Version:  "18",
		Platform: plat.Platform,
		TLS:      safariTLS(),
		HTTP2:    safari18HTTP2(),
		Headers:  safariHeaders("Mozilla/5.0 " + plat.UserAgentOS + " AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15"),
	}
}

func safariIOS18() *Profile {
	plat := platforms["ios"]
	return &Profile{
		ID:       "safari_ios_18",
		Browser:  "safari",
		Version:  "18",
		Platform: plat.Platform,
		TLS:      safariTLS(),
		HTTP2:    safari18HTTP2(),
		Headers:  safariHeaders("Mozilla/5.0 " + plat.UserAgentOS + " AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Mobile/15E148 Safari/604.1"),
	}
}

// Others

func firefox133() *Profile {
	plat := platforms["windows"]
	return &Profile{
		ID:       "firefox_133",
		Browser:  "firefox",
		Version:  "133",
		Platform: plat.Platform,
		TLS: TLSSignature{
			CipherSuites: []uint16{
				0x1301, 0x1303, 0x1302,
				0xc02b, 0xc02f, 0xcca9, 0xcca8, 0xc02c, 0xc030,
				0xc00a, 0xc009, 0xc013, 0xc014,
				0x009c, 0x009d, 0x002f, 0x0035,
			},
			Extensions: []uint16{
				ExtServerName, ExtExtendedMasterSecret, ExtRenegotiationInfo, ExtSupportedGroups,
				ExtECPointFormats, ExtSessionTicket, ExtALPN, ExtStatusRequest,
				ExtDelegatedCredentials, ExtSCT, ExtKeyShare, ExtSupportedVersions,
				ExtSignatureAlgorithms, ExtPSKKeyExchangeModes, ExtRecordSizeLimit,
				ExtCompressCertificate, ExtEncryptedClientHello,
			},
			CompressionMethods: []uint8{0},
			SupportedGroups:    []uint16{0x11ec, 0x001d, 0x0017, 0x0018, 0x0019, 0x0100, 0x0101},
			KeyShareGroups:     []uint16{0x11ec, 0x001d, 0x0017},
			PointFormats:       []uint8{0},
			SignatureAlgorithms: []uint16{
				0x0403, 0x0503, 0x0603, 0x0804, 0x0805, 0x0806,
				0x0401, 0x0501, 0x0601, 0x0203, 0x0201,
			},
			ALPN:                 []string{"h2", "http/1.1"},
			SupportedVersions:    []uint16{0x0304, 0x0303},
			MinVersion:           0x0303,
			MaxVersion:           0x0304,
			CertCompression:      []uint16{1, 2, 3},
			PSKModes:             []uint8{1},
			DelegatedCredentials: []uint16{0x0403, 0x0503, 0x0603, 0x0203},
			RecordSizeLimit:      0x4001,
		},
		HTTP2: HTTP2Signature{
			Settings: []Setting{
				{SettingHeaderTableSize, 65536},
				{SettingEnablePush, 0},
				{SettingInitialWindowSize, 131072},
				{SettingMaxFrameSize, 16384},
			},
			ConnectionWindowUpdate: 12517377,
			StreamWeight:           42,
			PseudoHeaderOrder:      []string{":method", ":path", ":authority", ":scheme"},
		},
		Headers: []HeaderField{
			{"User-Agent", "Mozilla/5.0 " + plat.FirefoxUserAgentOS + " Gecko/20100101 Firefox/133.0"},
			{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
			{"Accept-Language", "en-US,en;q=0.5"},
			{"Accept-Encoding", "gzip, deflate, br, zstd"},
			{"Upgrade-Insecure-Requests", "1"},
			{"Sec-Fetch-Dest", "document"},
			{"Sec-Fetch-Mode", "navigate"},
			{"Sec-Fetch-Site", "none"},
			{"Sec-Fetch-User", "?1"},
			{"Priority", "u=0, i"},
		},
	}
}

func okhttp412() *Profile {
	return &Profile{
		ID:       "okhttp_4.12",
		Browser:  "okhttp",
		Version:  "4.12",
		Platform: "Android",
		TLS: TLSSignature{
			CipherSuites: []uint16{
				0x1301, 0x1302, 0x1303,
				0xc02b, 0xc02c, 0xcca9, 0xc02f, 0xc030, 0xcca8,
				0xc013, 0xc014,
				0x009c, 0x009d, 0x002f, 0x0035,
			},
			Extensions: []uint16{
				ExtServerName, ExtExtendedMasterSecret, ExtRenegotiationInfo, ExtSupportedGroups,
				ExtECPointFormats, ExtSessionTicket, ExtALPN, ExtStatusRequest,
				ExtSignatureAlgorithms, ExtKeyShare, ExtPSKKeyExchangeModes, ExtSupportedVersions,
				ExtPadding,
			},
			CompressionMethods: []uint8{0},
			SupportedGroups:    []uint16{0x001d, 0x0017, 0x0018},
			KeyShareGroups:     []uint16{0x001d},
			PointFormats:       []uint8{0},
			SignatureAlgorithms: []uint16{
				0x0403, 0x0804, 0x0401, 0x0503, 0x0805, 0x0501, 0x0806, 0x0601, 0x0201,
			},
			ALPN:              []string{"h2", "http/1.1"},
			SupportedVersions: []uint16{0x0304, 0x0303},
			MinVersion:        0x0303,
			MaxVersion:        0x0304,
			PSKModes:          []uint8{1},
		},
		HTTP2: HTTP2Signature{
			Settings: []Setting{
				{SettingInitialWindowSize, 16777216},
			},
			ConnectionWindowUpdate: 16711681,
			PseudoHeaderOrder:      []string{":method", ":path", ":authority", ":scheme"},
		},
		Headers: []HeaderField{
			{"Accept-Encoding", "gzip"},
			{"User-Agent", "okhttp/4.12.0"},
		},
	}
}
