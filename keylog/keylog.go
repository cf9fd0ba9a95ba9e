// Package keylog holds the process-wide TLS key log writer in SSLKEYLOGFILE
// format, so captured impersonated handshakes can be decrypted in Wireshark.
//
// Setting SSLKEYLOGFILE before start enables it for every client; a client
// built with its own key log writer uses that one instead.
package keylog

import (
	"io"
	"os"
	"sync"

	"k8s.io/klog/v2"
)

var (
	globalWriter io.Writer
	globalMu     sync.RWMutex
)

func init() {
	path := os.Getenv("SSLKEYLOGFILE")
	if path == "" {
		return
	}
	f, err := openFile(path)
	if err != nil {
		klog.Warningf("keylog: ignoring SSLKEYLOGFILE: %v", err)
		return
	}
	globalWriter = f
}

func openFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
}

// Writer returns override when set, otherwise the global writer, which may
// be nil.
func Writer(override io.Writer) io.Writer {
	if override != nil {
		return override
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalWriter
}

// SetFile points the global writer at path, replacing SSLKEYLOGFILE. An empty
// path disables global key logging.
func SetFile(path string) error {
	var w io.Writer
	if path != "" {
		f, err := openFile(path)
		if err != nil {
			return err
		}
		w = f
	}
	swap(w)
	return nil
}

// SetWriter replaces the global writer. Pass nil to disable.
func SetWriter(w io.Writer) {
	swap(w)
}

// Close closes the global writer if this package opened it.
func Close() error {
	return swap(nil)
}

func swap(w io.Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	var err error
	if f, ok := globalWriter.(*os.File); ok {
		err = f.Close()
	}
	globalWriter = w
	return err
}
