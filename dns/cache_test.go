package dns

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
)

// startServer runs a DNS server on loopback that answers A and AAAA for any
// name under test.
func startServer(t *testing.T, queries *atomic.Int32) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	handler := mdns.HandlerFunc(func(w mdns.ResponseWriter, r *mdns.Msg) {
		queries.Add(1)
		m := new(mdns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch q.Qtype {
		case mdns.TypeA:
			rr, _ := mdns.NewRR(q.Name + " 120 IN A 192.0.2.10")
			m.Answer = append(m.Answer, rr)
			rr, _ = mdns.NewRR(q.Name + " 120 IN A 192.0.2.11")
			m.Answer = append(m.Answer, rr)
		case mdns.TypeAAAA:
			rr, _ := mdns.NewRR(q.Name + " 120 IN AAAA 2001:db8::1")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolveIPLiteral(t *testing.T) {
	c := NewCache()
	ips, err := c.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("got %v", ips)
	}
	if c.Len() != 0 {
		t.Error("IP literals should not be cached")
	}
}

func TestResolveWithServer(t *testing.T) {
	var queries atomic.Int32
	addr := startServer(t, &queries)
	c := NewCache(WithServer(addr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ips, err := c.Resolve(ctx, "example.test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ips) != 3 {
		t.Fatalf("got %d addresses, want 3: %v", len(ips), ips)
	}
	if got := queries.Load(); got != 2 {
		t.Errorf("got %d queries, want 2 (A and AAAA)", got)
	}

	if _, err := c.Resolve(ctx, "example.test"); err != nil {
		t.Fatal(err)
	}
	if got := queries.Load(); got != 2 {
		t.Errorf("cached lookup hit the server: %d queries", got)
	}

	c.Invalidate("example.test")
	if _, err := c.Resolve(ctx, "example.test"); err != nil {
		t.Fatal(err)
	}
	if got := queries.Load(); got != 4 {
		t.Errorf("lookup after Invalidate: %d queries, want 4", got)
	}
}

func TestResolveAllSorted(t *testing.T) {
	var queries atomic.Int32
	c := NewCache(WithServer(startServer(t, &queries)))

	ips, err := c.ResolveAllSorted(context.Background(), "sorted.test")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2001:db8::1", "192.0.2.10", "192.0.2.11"}
	if len(ips) != len(want) {
		t.Fatalf("got %v", ips)
	}
	for i, w := range want {
		if !ips[i].Equal(net.ParseIP(w)) {
			t.Errorf("ips[%d] = %s, want %s", i, ips[i], w)
		}
	}
}

func TestWithServerDefaultPort(t *testing.T) {
	c := NewCache(WithServer("9.9.9.9"))
	if c.Server() != "9.9.9.9:53" {
		t.Errorf("Server() = %q", c.Server())
	}
}
