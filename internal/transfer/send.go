// Package transfer implements the byte-stream file relay protocol: one file
// per connection, a 10-byte zero-padded decimal size, the file name
// terminated by '\n', then exactly size raw bytes.
package transfer

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const dialTimeout = 10 * time.Second

// Send streams one file to host:port using the relay protocol.
func Send(host string, port int, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("send %s: not a regular file", filePath)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(w, "%010d", info.Size()); err != nil {
		return fmt.Errorf("send size header: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", filepath.Base(filePath)); err != nil {
		return fmt.Errorf("send file name: %w", err)
	}
	if _, err := w.ReadFrom(f); err != nil {
		return fmt.Errorf("send file content: %w", err)
	}
	return w.Flush()
}
