//go:build e2e

package primp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sardanioss/primp/client"
	"github.com/sardanioss/primp/fingerprint"
)

// peetResponse is the subset of tls.peet.ws/api/all used here.
type peetResponse struct {
	TLS struct {
		JA3     string `json:"ja3"`
		JA3Hash string `json:"ja3_hash"`
	} `json:"tls"`
	HTTP2 struct {
		AkamaiFingerprint string `json:"akamai_fingerprint"`
	} `json:"http2"`
	HTTPVersion string `json:"http_version"`
}

func isGREASE(s string) bool {
	var v uint16
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
		v = v*10 + uint16(c-'0')
	}
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

// normalizeJA3 removes GREASE values from every dash-separated JA3 field, and
// the padding extension, which BoringSSL-style padding only emits for some
// ClientHello sizes.
func normalizeJA3(ja3 string) string {
	fields := strings.Split(ja3, ",")
	for i, f := range fields {
		var kept []string
		for _, v := range strings.Split(f, "-") {
			if !isGREASE(v) && !(i == 2 && v == "21") {
				kept = append(kept, v)
			}
		}
		fields[i] = strings.Join(kept, "-")
	}
	return strings.Join(fields, ",")
}

// Run with: go test -tags e2e -run TestProfileSignaturesE2E -v -count=1
func TestProfileSignaturesE2E(t *testing.T) {
	for _, id := range []string{"chrome_131", "chrome_143", "firefox_133", "safari_18"} {
		t.Run(id, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			profile, err := fingerprint.Resolve(id)
			if err != nil {
				t.Fatal(err)
			}
			c, err := New(client.WithImpersonate(id))
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			resp, err := c.Get(ctx, "https://tls.peet.ws/api/all")
			if err != nil {
				t.Fatalf("request to tls.peet.ws failed: %v", err)
			}
			var result peetResponse
			if err := resp.DecodeJSON(&result); err != nil {
				t.Fatalf("failed to parse response JSON: %v", err)
			}
			t.Logf("observed JA3: %s", result.TLS.JA3)
			t.Logf("observed Akamai: %s", result.HTTP2.AkamaiFingerprint)

			if got, want := normalizeJA3(result.TLS.JA3), normalizeJA3(profile.JA3()); got != want {
				t.Errorf("JA3 mismatch:\n  profile:  %s\n  observed: %s", want, got)
			}
			if result.HTTPVersion != "h2" {
				t.Fatalf("expected h2, got %s", result.HTTPVersion)
			}
			if want := profile.HTTP2.Akamai(); result.HTTP2.AkamaiFingerprint != want {
				t.Errorf("Akamai mismatch:\n  profile:  %s\n  observed: %s", want, result.HTTP2.AkamaiFingerprint)
			}
		})
	}
}
