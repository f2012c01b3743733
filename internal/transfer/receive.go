package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Receiver accepts relay connections and writes each received file into an
// output folder.
type Receiver struct {
	outputDir string
	log       zerolog.Logger
	ln        net.Listener
}

// NewReceiver creates a receiver that stores files under outputDir, creating
// it if absent.
func NewReceiver(outputDir string, log zerolog.Logger) (*Receiver, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}
	return &Receiver{outputDir: outputDir, log: log}, nil
}

// Listen binds the receiver to addr.
func (r *Receiver) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.ln = ln
	return nil
}

// Addr returns the bound listener address, or empty before Listen.
func (r *Receiver) Addr() string {
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener closes.
// Each connection carries exactly one file; per-connection failures are
// logged and do not stop the server.
func (r *Receiver) Serve(ctx context.Context) error {
	if r.ln == nil {
		return fmt.Errorf("receiver: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = r.ln.Close()
	}()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := r.receiveFile(conn); err != nil {
				r.log.Error().Err(err).Msg("receive failed")
			}
		}()
	}
}

// receiveFile reads one file off the connection per the relay protocol.
func (r *Receiver) receiveFile(conn net.Conn) error {
	defer conn.Close()

	br := bufio.NewReader(conn)

	header := make([]byte, 10)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("read size header: %w", err)
	}
	size, err := strconv.ParseInt(strings.TrimLeft(string(header), "0 "), 10, 64)
	if err != nil {
		if strings.Trim(string(header), "0 ") == "" {
			size = 0
		} else {
			return fmt.Errorf("parse size header %q: %w", string(header), err)
		}
	}

	nameLine, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read file name: %w", err)
	}
	// Base strips any path the sender smuggled in; files land flat in the
	// output folder.
	name := filepath.Base(strings.TrimSpace(nameLine))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid file name %q", nameLine)
	}

	dest := filepath.Join(r.outputDir, name)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	written, err := io.Copy(f, io.LimitReader(br, size))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if written != size {
		return fmt.Errorf("short transfer for %s: got %d of %d bytes", name, written, size)
	}

	r.log.Info().Str("file", name).Int64("bytes", size).Msg("received file")
	return nil
}
