// Command primp sends one request with a browser profile, or prints what a
// profile looks like on the wire.
//
//	primp -impersonate chrome_131 https://tls.peet.ws/api/all
//	primp -list
//	primp -fingerprint -impersonate firefox_133
//
// PRIMP_IMPERSONATE, PRIMP_PROXY and PRIMP_TIMEOUT provide defaults and may
// be set in a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp"
	"github.com/sardanioss/primp/client"
	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/keylog"
)

type headerFlags map[string]string

func (h headerFlags) String() string { return fmt.Sprint(map[string]string(h)) }

func (h headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header %q is not in Name: value form", v)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		klog.Warningf("failed to load .env: %v", err)
	}

	headers := headerFlags{}
	klog.InitFlags(nil)
	var (
		impersonate = flag.String("impersonate", os.Getenv("PRIMP_IMPERSONATE"), "browser profile, see -list")
		proxyURL    = flag.String("proxy", os.Getenv("PRIMP_PROXY"), "http, https or socks5 proxy URL")
		timeout     = flag.Duration("timeout", envDuration("PRIMP_TIMEOUT", 30*time.Second), "total request timeout")
		method      = flag.String("X", "GET", "request method")
		data        = flag.String("d", "", "raw request body")
		jsonBody    = flag.String("json", "", "JSON request body")
		follow      = flag.Bool("L", false, "follow redirects")
		maxRedirect = flag.Int("max-redirects", 20, "redirect limit with -L")
		insecure    = flag.Bool("k", false, "skip certificate verification")
		http1       = flag.Bool("http1", false, "HTTP/1.1 only")
		http2       = flag.Bool("http2", false, "HTTP/2 only")
		include     = flag.Bool("i", false, "print response headers")
		list        = flag.Bool("list", false, "list profiles and exit")
		fp          = flag.Bool("fingerprint", false, "print the profile's JA3 and Akamai fingerprints and exit")
		keyLogFile  = flag.String("keylog", "", "append TLS secrets to this file in SSLKEYLOGFILE format")
	)
	flag.Var(headers, "H", "request header \"Name: value\" (repeatable)")
	flag.Parse()
	defer klog.Flush()

	switch {
	case *list:
		for _, id := range primp.Profiles() {
			fmt.Println(id)
		}
		return
	case *fp:
		if err := printFingerprint(*impersonate); err != nil {
			fatal(err)
		}
		return
	}

	if *keyLogFile != "" {
		if err := keylog.SetFile(*keyLogFile); err != nil {
			fatal(err)
		}
		defer keylog.Close()
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: primp [flags] URL")
		flag.PrintDefaults()
		os.Exit(2)
	}

	opts := []client.Option{
		client.WithImpersonate(*impersonate),
		client.WithTimeout(*timeout),
		client.WithFollowRedirects(*follow),
		client.WithMaxRedirects(*maxRedirect),
		client.WithVerify(!*insecure),
	}
	if *proxyURL != "" {
		opts = append(opts, client.WithProxy(*proxyURL))
	}
	if *http1 {
		opts = append(opts, client.WithHTTP1Only())
	}
	if *http2 {
		opts = append(opts, client.WithHTTP2Only())
	}
	c, err := primp.New(opts...)
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	var reqOpts []client.RequestOption
	if len(headers) > 0 {
		reqOpts = append(reqOpts, client.Headers(headers))
	}
	if *data != "" {
		reqOpts = append(reqOpts, client.Content([]byte(*data)))
	}
	if *jsonBody != "" {
		reqOpts = append(reqOpts, client.Content([]byte(*jsonBody)), client.Headers(map[string]string{"Content-Type": "application/json"}))
	}

	resp, err := c.Request(context.Background(), strings.ToUpper(*method), flag.Arg(0), reqOpts...)
	if err != nil {
		fatal(err)
	}
	if *include {
		fmt.Printf("%s %d\n", resp.Protocol, resp.StatusCode)
		h := resp.Headers()
		for _, k := range h.Keys() {
			for _, v := range h.Values(k) {
				fmt.Printf("%s: %s\n", k, v)
			}
		}
		fmt.Println()
	}
	body, err := resp.Text()
	if err != nil {
		fatal(err)
	}
	fmt.Print(body)
}

func printFingerprint(id string) error {
	p, err := fingerprint.Resolve(id)
	if err != nil {
		return err
	}
	fmt.Printf("Profile:    %s\n", p.ID)
	fmt.Printf("User-Agent: %s\n", p.UserAgent())
	fmt.Printf("JA3:        %s\n", p.JA3())
	fmt.Printf("JA3 hash:   %s\n", p.JA3Hash())
	if p.PadsClientHello() {
		// Extension 21 is only on the wire when the ClientHello needs padding.
		fmt.Printf("JA3 (no padding): %s\n", p.JA3Unpadded())
	}
	fmt.Printf("Akamai:     %s\n", p.HTTP2.Akamai())
	return nil
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		klog.Warningf("ignoring %s=%q: %v", key, v, err)
		return def
	}
	return d
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "primp: %v\n", err)
	klog.Flush()
	os.Exit(1)
}
