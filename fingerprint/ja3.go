package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// JA3 renders the profile's ClientHello as a JA3 string:
// TLSVersion,CipherSuites,Extensions,EllipticCurves,PointFormats
// with dash-separated decimal values and GREASE removed.
//
// The version field is the legacy ClientHello version, which is 771 (TLS 1.2)
// for every TLS 1.3 client.
//
// The padding extension (21) is listed whenever the profile carries it, but
// the handshake pads BoringSSL style: the extension is only sent when the
// unpadded ClientHello falls between 256 and 511 bytes. For a handshake that
// needed no padding the observed JA3 is JA3Unpadded.
func (p *Profile) JA3() string {
	return p.ja3(p.TLS.Extensions)
}

// JA3Unpadded is JA3 without the padding extension. It equals JA3 for
// profiles that never pad.
func (p *Profile) JA3Unpadded() string {
	return p.ja3(lo.Without(p.TLS.Extensions, ExtPadding))
}

// PadsClientHello reports whether the profile may send the padding
// extension, which makes the observed JA3 depend on the ClientHello size.
func (p *Profile) PadsClientHello() bool {
	return lo.Contains(p.TLS.Extensions, ExtPadding)
}

func (p *Profile) ja3(extensions []uint16) string {
	version := p.TLS.MaxVersion
	if version > 0x0303 {
		version = 0x0303
	}
	notGREASE := func(v uint16, _ int) bool { return !isGREASE(v) }

	fields := []string{
		strconv.Itoa(int(version)),
		joinDash(lo.Filter(p.TLS.CipherSuites, notGREASE)),
		joinDash(lo.Filter(extensions, notGREASE)),
		joinDash(lo.Filter(p.TLS.SupportedGroups, notGREASE)),
		joinDash(lo.Map(p.TLS.PointFormats, func(v uint8, _ int) uint16 { return uint16(v) })),
	}
	return strings.Join(fields, ",")
}

// JA3Hash returns the hex MD5 of JA3.
func (p *Profile) JA3Hash() string {
	sum := md5.Sum([]byte(p.JA3()))
	return hex.EncodeToString(sum[:])
}

func joinDash(vals []uint16) string {
	return strings.Join(lo.Map(vals, func(v uint16, _ int) string {
		return strconv.Itoa(int(v))
	}), "-")
}
