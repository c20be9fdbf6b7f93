package offlinecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// originFetcher issues requests against the origin server. Incoming
// requests carry only a path; the fetcher rewrites them to absolute origin
// URLs, the same way a reverse proxy director would.
type originFetcher struct {
	client     *http.Client
	scheme     string
	host       string
	hostHeader string
}

func newOriginFetcher(origin url.URL, originHost string) *originFetcher {
	hostHeader := origin.Host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &originFetcher{
		client:     &http.Client{Transport: transport},
		scheme:     origin.Scheme,
		host:       origin.Host,
		hostHeader: hostHeader,
	}
}

// do sends the given request to the origin. Timeouts and cancellation come
// from ctx; every fallback decision upstream relies on ctx carrying a
// bounded deadline. Transport failures map to the local failure taxonomy.
func (f *originFetcher) do(ctx context.Context, method, uri string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}
	req.URL.Scheme = f.scheme
	req.URL.Host = f.host
	req.Host = f.hostHeader
	req.RequestURI = ""

	res, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, uri)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetworkUnavailable, method, uri, err)
	}
	return res, nil
}

// forward replays an incoming client request against the origin.
func (f *originFetcher) forward(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f.do(ctx, r.Method, r.URL.RequestURI(), r.Header, r.Body)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
