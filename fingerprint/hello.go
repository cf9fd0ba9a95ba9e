package fingerprint

import (
	"fmt"

	tls "github.com/sardanioss/utls"
)

// SignatureError reports a profile value the TLS or HTTP/2 stack cannot
// reproduce exactly. It is fatal for the profile: nothing falls back to a
// weaker signature.
type SignatureError struct {
	Profile string
	Field   string
	Value   uint16
	Reason  string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("fingerprint: profile %s: %s 0x%04x: %s", e.Profile, e.Field, e.Value, e.Reason)
}

// BuildOptions narrows a profile for one connection.
type BuildOptions struct {
	// ALPN replaces the profile's ALPN list when non-empty (forced HTTP/1.1).
	ALPN []string
}

// advertiseOnly lists suites browsers still offer that the TLS stack does not
// implement. They may be sent; a server never picks them over the modern suites
// ahead of them in every catalog entry.
var advertiseOnly = map[uint16]bool{
	0xc008: true, // TLS_ECDHE_ECDSA_WITH_3DES_EDE_CBC_SHA
}

var expressible = func() map[uint16]bool {
	m := make(map[uint16]bool)
	for _, cs := range tls.CipherSuites() {
		m[cs.ID] = true
	}
	for _, cs := range tls.InsecureCipherSuites() {
		m[cs.ID] = true
	}
	for id := range advertiseOnly {
		m[id] = true
	}
	return m
}()

// isGREASE returns true if the value is a TLS GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

// ExpressibleCipher reports whether the cipher can be put in a ClientHello.
func ExpressibleCipher(id uint16) bool {
	return isGREASE(id) || expressible[id]
}

// BuildClientHelloSpec turns the profile's TLS signature into a uTLS spec.
// Cipher and extension order is kept as is and GREASE markers stay where the
// browser puts them.
func BuildClientHelloSpec(p *Profile, opts BuildOptions) (*tls.ClientHelloSpec, error) {
	sig := &p.TLS

	ciphers := make([]uint16, 0, len(sig.CipherSuites))
	for _, cs := range sig.CipherSuites {
		switch {
		case isGREASE(cs):
			ciphers = append(ciphers, tls.GREASE_PLACEHOLDER)
		case expressible[cs]:
			ciphers = append(ciphers, cs)
		default:
			return nil, &SignatureError{Profile: p.ID, Field: "cipher", Value: cs, Reason: "not supported by the TLS stack"}
		}
	}

	alpn := sig.ALPN
	if len(opts.ALPN) > 0 {
		alpn = opts.ALPN
	}

	b := &extBuilder{p: p, alpn: alpn}
	exts := make([]tls.TLSExtension, 0, len(sig.Extensions))
	for _, id := range sig.Extensions {
		ext, err := b.extension(id)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}

	compression := sig.CompressionMethods
	if len(compression) == 0 {
		compression = []uint8{0}
	}

	return &tls.ClientHelloSpec{
		TLSVersMin:         sig.MinVersion,
		TLSVersMax:         sig.MaxVersion,
		CipherSuites:       ciphers,
		CompressionMethods: append([]uint8(nil), compression...),
		Extensions:         exts,
	}, nil
}

type extBuilder struct {
	p    *Profile
	alpn []string
}

func (b *extBuilder) fail(id uint16, reason string) error {
	return &SignatureError{Profile: b.p.ID, Field: "extension", Value: id, Reason: reason}
}

func (b *extBuilder) curves() []tls.CurveID {
	out := make([]tls.CurveID, 0, len(b.p.TLS.SupportedGroups))
	for _, g := range b.p.TLS.SupportedGroups {
		if isGREASE(g) {
			out = append(out, tls.CurveID(tls.GREASE_PLACEHOLDER))
			continue
		}
		out = append(out, tls.CurveID(g))
	}
	return out
}

func schemes(ids []uint16) []tls.SignatureScheme {
	out := make([]tls.SignatureScheme, len(ids))
	for i, id := range ids {
		out[i] = tls.SignatureScheme(id)
	}
	return out
}

// extension returns the uTLS extension for one codepoint, parameterised from
// the profile.
func (b *extBuilder) extension(id uint16) (tls.TLSExtension, error) {
	sig := &b.p.TLS
	if isGREASE(id) {
		return &tls.UtlsGREASEExtension{}, nil
	}

	switch id {
	case ExtServerName:
		return &tls.SNIExtension{}, nil

	case ExtStatusRequest:
		return &tls.StatusRequestExtension{}, nil

	case ExtSupportedGroups:
		if len(sig.SupportedGroups) == 0 {
			return nil, b.fail(id, "no supported groups")
		}
		return &tls.SupportedCurvesExtension{Curves: b.curves()}, nil

	case ExtECPointFormats:
		pf := sig.PointFormats
		if len(pf) == 0 {
			pf = []uint8{0}
		}
		return &tls.SupportedPointsExtension{SupportedPoints: append([]uint8(nil), pf...)}, nil

	case ExtSignatureAlgorithms:
		if len(sig.SignatureAlgorithms) == 0 {
			return nil, b.fail(id, "no signature algorithms")
		}
		return &tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: schemes(sig.SignatureAlgorithms)}, nil

	case ExtALPN:
		if len(b.alpn) == 0 {
			return nil, b.fail(id, "empty ALPN list")
		}
		return &tls.ALPNExtension{AlpnProtocols: append([]string(nil), b.alpn...)}, nil

	case ExtSCT:
		return &tls.SCTExtension{}, nil

	case ExtPadding:
		return &tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle}, nil

	case ExtExtendedMasterSecret:
		return &tls.UtlsExtendedMasterSecretExtension{}, nil

	case ExtCompressCertificate:
		if len(sig.CertCompression) == 0 {
			return nil, b.fail(id, "no certificate compression algorithms")
		}
		algs := make([]tls.CertCompressionAlgo, len(sig.CertCompression))
		for i, a := range sig.CertCompression {
			algs[i] = tls.CertCompressionAlgo(a)
		}
		return &tls.UtlsCompressCertExtension{Algorithms: algs}, nil

	case ExtRecordSizeLimit:
		limit := sig.RecordSizeLimit
		if limit == 0 {
			limit = 0x4001
		}
		return &tls.FakeRecordSizeLimitExtension{Limit: limit}, nil

	case ExtDelegatedCredentials:
		if len(sig.DelegatedCredentials) == 0 {
			return nil, b.fail(id, "no delegated credential schemes")
		}
		return &tls.DelegatedCredentialsExtension{SupportedSignatureAlgorithms: schemes(sig.DelegatedCredentials)}, nil

	case ExtSessionTicket:
		return &tls.SessionTicketExtension{}, nil

	case ExtPreSharedKey:
		// Filled in by uTLS when a session is resumed.
		return &tls.UtlsPreSharedKeyExtension{}, nil

	case ExtSupportedVersions:
		if len(sig.SupportedVersions) == 0 {
			return nil, b.fail(id, "no supported versions")
		}
		versions := make([]uint16, len(sig.SupportedVersions))
		for i, v := range sig.SupportedVersions {
			if isGREASE(v) {
				v = tls.GREASE_PLACEHOLDER
			}
			versions[i] = v
		}
		return &tls.SupportedVersionsExtension{Versions: versions}, nil

	case ExtPSKKeyExchangeModes:
		modes := sig.PSKModes
		if len(modes) == 0 {
			modes = []uint8{tls.PskModeDHE}
		}
		return &tls.PSKKeyExchangeModesExtension{Modes: append([]uint8(nil), modes...)}, nil

	case ExtSignatureAlgsCert:
		if len(sig.SignatureAlgorithmsCert) == 0 {
			return nil, b.fail(id, "no certificate signature algorithms")
		}
		return &tls.SignatureAlgorithmsCertExtension{SupportedSignatureAlgorithms: schemes(sig.SignatureAlgorithmsCert)}, nil

	case ExtKeyShare:
		if len(sig.KeyShareGroups) == 0 {
			return nil, b.fail(id, "no key share groups")
		}
		shares := make([]tls.KeyShare, 0, len(sig.KeyShareGroups))
		for _, g := range sig.KeyShareGroups {
			if isGREASE(g) {
				shares = append(shares, tls.KeyShare{Group: tls.CurveID(tls.GREASE_PLACEHOLDER), Data: []byte{0}})
				continue
			}
			shares = append(shares, tls.KeyShare{Group: tls.CurveID(g)})
		}
		return &tls.KeyShareExtension{KeyShares: shares}, nil

	case ExtALPS:
		return &tls.ApplicationSettingsExtension{SupportedProtocols: append([]string(nil), sig.ALPS...)}, nil

	case ExtALPSNew:
		return &tls.ApplicationSettingsExtensionNew{SupportedProtocols: append([]string(nil), sig.ALPS...)}, nil

	case ExtEncryptedClientHello:
		return tls.BoringGREASEECH(), nil

	case ExtRenegotiationInfo:
		return &tls.RenegotiationInfoExtension{Renegotiation: tls.RenegotiateOnceAsClient}, nil
	}

	return nil, b.fail(id, "no uTLS extension for this codepoint")
}
