package fetchhttp

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/charlesnicholson/envy/pkg/defaults"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"golang.org/x/time/rate"
)

const userAgent = "envy/1.0"

var (
	defaultConnectTimeout        = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 10
)

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient overrides the underlying *http.Client.
func WithClient(client *http.Client) Option {
	return func(d *Downloader) { d.client = client }
}

// WithRateLimitPerHost overrides the default per-host request rate.
func WithRateLimitPerHost(perSecond int) Option {
	return func(d *Downloader) { d.ratePerHost = perSecond }
}

// Downloader fetches recipe scripts and asset archives over HTTP,
// verifying content against a declared sha256 as the response streams
// to disk (§4.2, §4.7 fetch).
type Downloader struct {
	client      *http.Client
	ratePerHost int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Downloader with pooled, timeout-bounded transport
// settings in the teacher's HttpReader style.
func New(opts ...Option) *Downloader {
	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	d := &Downloader{
		client:      &http.Client{Timeout: defaults.DownloadTimeout, Transport: transport},
		ratePerHost: defaults.RateLimitPerHost,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Downloader) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.ratePerHost), d.ratePerHost)
		d.limiters[host] = l
	}
	return l
}

// Download fetches rawURL into destPath, optionally verifying the
// streamed content's sha256 against wantSHA256 (empty skips
// verification). A sha256 mismatch is fatal (§4.2).
func (d *Downloader) Download(ctx context.Context, rawURL, destPath, wantSHA256 string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "parse download url", err)
	}
	if err := d.limiterFor(u.Host).Wait(ctx); err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "build download request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "http get", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return envyerrors.New(envyerrors.KindIOError, rawURL, fmt.Sprintf("unexpected status %s", resp.Status))
	}

	tmp := destPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "create destination file", err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "stream download body", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "close destination file", closeErr)
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(h.Sum(nil))
		if got != wantSHA256 {
			os.Remove(tmp)
			return envyerrors.New(envyerrors.KindHashMismatch, rawURL,
				fmt.Sprintf("sha256 mismatch: want %s got %s", wantSHA256, got))
		}
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return envyerrors.Wrap(envyerrors.KindIOError, rawURL, "move downloaded file into place", err)
	}
	return nil
}
