// Package fetch downloads remote source images into a scratch directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 32 << 20
)

// ErrFetch matches every download failure.
var ErrFetch = errors.New("fetch failed")

// Error describes why a download failed.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrFetch }

// Source is a downloaded file on local disk.
type Source struct {
	Path        string
	Filename    string
	Size        int64
	ContentType string
}

// Cleanup removes the scratch file.
func (s *Source) Cleanup() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Fetcher performs bounded HTTP GETs.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   http.DefaultClient,
		timeout:  DefaultTimeout,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL into a new file under dir. On any error no file is
// left behind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (*Source, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("content length %d exceeds limit %d", resp.ContentLength, f.maxBytes)}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("mkdir: %w", err)}
	}
	name := filenameFromURL(rawURL)
	temp, err := os.CreateTemp(dir, "src-*-"+name)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("create temp file: %w", err)}
	}

	n, err := io.Copy(temp, io.LimitReader(resp.Body, f.maxBytes+1))
	if err == nil && n > f.maxBytes {
		err = fmt.Errorf("body exceeds limit %d", f.maxBytes)
	}
	if err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return nil, &Error{URL: rawURL, Err: err}
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("close temp file: %w", err)}
	}

	return &Source{
		Path:        temp.Name(),
		Filename:    name,
		Size:        n,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func filenameFromURL(rawURL string) string {
	base := "source"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	return strings.NewReplacer("*", "_", string(os.PathSeparator), "_").Replace(base)
}
