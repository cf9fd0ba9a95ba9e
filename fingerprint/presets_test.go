package fingerprint

import (
	"errors"
	"sort"
	"testing"
)

func TestAvailable(t *testing.T) {
	ids := Available()
	want := []string{
		"chrome_131", "chrome_133", "chrome_142", "chrome_143", "edge_131",
		"firefox_133", "okhttp_4.12", "safari_17", "safari_18", "safari_ios_18",
	}
	if len(ids) != len(want) {
		t.Fatalf("Available() returned %d ids, want %d: %v", len(ids), len(want), ids)
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("Available() not sorted: %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id %d: got %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, id := range []string{"chrome_999", "chrome", "Chrome_131", "chrome_131 ", ""} {
		p, err := Resolve(id)
		if err == nil {
			t.Errorf("Resolve(%q) = %s, want error", id, p.ID)
			continue
		}
		if !errors.Is(err, ErrUnsupportedTarget) {
			t.Errorf("Resolve(%q) error %v does not wrap ErrUnsupportedTarget", id, err)
		}
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	a, err := Resolve("chrome_131")
	if err != nil {
		t.Fatal(err)
	}
	a.TLS.CipherSuites[1] = 0xffff
	a.HTTP2.Settings[0].Value = 1
	a.Headers[0].Value = "mutated"

	b, err := Resolve("chrome_131")
	if err != nil {
		t.Fatal(err)
	}
	if b.TLS.CipherSuites[1] != 0x1301 {
		t.Errorf("catalog cipher mutated: 0x%04x", b.TLS.CipherSuites[1])
	}
	if b.HTTP2.Settings[0].Value != 65536 {
		t.Errorf("catalog setting mutated: %d", b.HTTP2.Settings[0].Value)
	}
	if b.Headers[0].Value == "mutated" {
		t.Error("catalog headers mutated")
	}

	// chrome_131 and edge_131 share cipher tables internally.
	e, _ := Resolve("edge_131")
	if e.TLS.CipherSuites[1] != 0x1301 {
		t.Errorf("edge_131 cipher mutated: 0x%04x", e.TLS.CipherSuites[1])
	}
}

func TestProfilesComplete(t *testing.T) {
	for _, id := range Available() {
		t.Run(id, func(t *testing.T) {
			p, err := Resolve(id)
			if err != nil {
				t.Fatal(err)
			}
			if p.ID != id {
				t.Errorf("ID = %q", p.ID)
			}
			if p.UserAgent() == "" {
				t.Error("no User-Agent header")
			}
			if len(p.TLS.CipherSuites) == 0 || len(p.TLS.Extensions) == 0 {
				t.Error("empty TLS signature")
			}
			if len(p.HTTP2.Settings) == 0 {
				t.Error("no HTTP/2 settings")
			}
			if len(p.HTTP2.HeaderOrder) != len(p.Headers) {
				t.Errorf("header order has %d names for %d headers", len(p.HTTP2.HeaderOrder), len(p.Headers))
			}
			for _, cs := range p.TLS.CipherSuites {
				if !ExpressibleCipher(cs) {
					t.Errorf("cipher 0x%04x not expressible", cs)
				}
			}
		})
	}
}

func TestHTTP2SignatureDefaults(t *testing.T) {
	p, _ := Resolve("okhttp_4.12")
	if got := p.HTTP2.HeaderTableSize(); got != 4096 {
		t.Errorf("HeaderTableSize = %d, want protocol default 4096", got)
	}
	if got := p.HTTP2.InitialWindowSize(); got != 16777216 {
		t.Errorf("InitialWindowSize = %d", got)
	}
	if got := p.HTTP2.MaxFrameSize(); got != 16384 {
		t.Errorf("MaxFrameSize = %d", got)
	}
	if got := p.HTTP2.MaxHeaderListSize(); got != 0 {
		t.Errorf("MaxHeaderListSize = %d", got)
	}
}
