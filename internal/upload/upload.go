// Package upload posts recorded files to a remote endpoint as multipart
// form data. Server errors and network failures are retried with backoff;
// client errors are not.
package upload

import (
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the upload client.
type Config struct {
	TimeoutSeconds int // default 120
	Retries        int // default 3, applies to retryable failures only
}

// Client uploads files over HTTP.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	log         zerolog.Logger
	backoffBase time.Duration // tests override to keep runs fast
}

// New creates an upload client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		cfg:         cfg,
		log:         log,
		backoffBase: time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// UploadFile posts one file to endpoint with optional extra form fields and
// headers. Any non-2xx response is a failure; 5xx and transport errors are
// retried up to the configured limit.
func (c *Client) UploadFile(endpoint, filePath string, fields, headers map[string]string) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log.Warn().
				Str("file", filepath.Base(filePath)).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying upload")
			time.Sleep(backoff)
		}

		err := c.doUpload(endpoint, filePath, fields, headers)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return fmt.Errorf("upload %s: %w", filepath.Base(filePath), err)
		}
		lastErr = err
	}
	return fmt.Errorf("upload %s: retries exhausted: %w", filepath.Base(filePath), lastErr)
}

// doUpload performs a single multipart POST.
func (c *Client) doUpload(endpoint, filePath string, fields, headers map[string]string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- fmt.Errorf("copy file data: %w", err)
			return
		}
		for k, v := range fields {
			_ = writer.WriteField(k, v)
		}
		errCh <- writer.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, endpoint, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return fmt.Errorf("multipart write: %w", writeErr)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body, 200))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return nil
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*retryableError)
	return ok
}

// backoff returns base * 2^(attempt-1) plus up to 25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
