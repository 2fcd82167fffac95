package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFetchFailed wraps every reason a remote profile could not be produced.
var ErrFetchFailed = errors.New("fetch remote profile failed")

const maxProfileSize = 4 << 20

// Fetcher downloads remote profiles.
type Fetcher struct {
	Client *http.Client
	Now    func() time.Time
}

// NewFetcher returns a Fetcher with a bounded request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{Client: &http.Client{Timeout: timeout}, Now: time.Now}
}

// FetchRemote GETs rawURL and wraps the body, unchanged, as a new remote profile.
// No profile is returned on any failure, including an empty body.
func (f *Fetcher) FetchRemote(ctx context.Context, rawURL string) (Profile, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Profile{}, fmt.Errorf("%w: invalid url %q", ErrFetchFailed, rawURL)
	}
	body, err := f.get(ctx, u.String())
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return New(nameFromURL(u), body, Origin{Kind: OriginRemote, URL: u.String()}, f.now()), nil
}

func (f *Fetcher) get(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxProfileSize {
		return "", fmt.Errorf("body exceeds %d bytes", maxProfileSize)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", errors.New("empty response body")
	}
	return string(data), nil
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// nameFromURL uses the last non-empty path segment, falling back to the host.
func nameFromURL(u *url.URL) string {
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			return seg
		}
	}
	return u.Hostname()
}
