package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/system"
)

// Client downloads reference files from a database mirror. Implementations
// must be safe for concurrent use.
type Client interface {
	// FetchDatabase downloads the object database for one game type. A non
	// empty etag makes the request conditional and ErrNotModified is
	// returned while the mirror still serves that version.
	FetchDatabase(ctx context.Context, game string, etag string) (*Download, error)

	// FetchSchema downloads the shared metadata schema under the same
	// conditional rules as FetchDatabase. One schema file covers every game
	// type a mirror serves.
	FetchSchema(ctx context.Context, etag string) (*Download, error)
}

type client struct {
	httpClient    *http.Client
	baseUrl       string
	maxAttempts   int
	customHeaders map[string]string
}

// New returns a client for the mirror at base. Transient failures are
// retried with exponential backoff until the context is canceled or the
// elapsed ceiling gives up.
func New(base string, opts ...ClientOption) Client {
	c := client{
		baseUrl:    strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: time.Second * 30},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// NewFromConfig builds a client for the mirror named in the application
// configuration.
func NewFromConfig(cfg config.RemoteDatabaseConfiguration) Client {
	return New(cfg.URL,
		WithTimeout(time.Duration(cfg.Timeout)*time.Second),
		WithCustomHeaders(cfg.CustomHeaders),
	)
}

type ClientOption func(*client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *client) {
		c.httpClient.Timeout = d
	}
}

// WithHttpClient sets the underlying http client used for requests.
func WithHttpClient(hc *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithMaxAttempts caps the number of retries for a failing request. Zero
// keeps retrying until the backoff gives up on its own.
func WithMaxAttempts(n int) ClientOption {
	return func(c *client) {
		c.maxAttempts = n
	}
}

// WithCustomHeaders adds custom headers to every request. Mirrors sitting
// behind access services need their tokens on each fetch.
func WithCustomHeaders(headers map[string]string) ClientOption {
	return func(c *client) {
		c.customHeaders = headers
	}
}

func (c *client) FetchDatabase(ctx context.Context, game string, etag string) (*Download, error) {
	return c.fetch(ctx, fmt.Sprintf("/%s/%s", strings.ToLower(game), naming.DatabaseFile), etag)
}

func (c *client) FetchSchema(ctx context.Context, etag string) (*Download, error) {
	return c.fetch(ctx, "/"+naming.SchemaFile, etag)
}

// fetch performs a conditional GET with retries. Transport errors and server
// side failures are retried, anything the mirror rejects outright is
// permanent.
func (c *client) fetch(ctx context.Context, path string, etag string) (*Download, error) {
	var out *Download
	err := backoff.Retry(func() error {
		res, err := c.get(ctx, path, etag)
		if err != nil {
			return errors.WrapIf(err, "remote: request failed")
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode == http.StatusNotModified:
			return backoff.Permanent(ErrNotModified)
		case res.StatusCode >= http.StatusInternalServerError && res.StatusCode != http.StatusNotImplemented:
			return &RequestError{StatusCode: res.StatusCode, URL: c.baseUrl + path}
		case res.StatusCode != http.StatusOK:
			return backoff.Permanent(&RequestError{StatusCode: res.StatusCode, URL: c.baseUrl + path})
		}

		b, err := io.ReadAll(res.Body)
		if err != nil {
			return errors.Wrap(err, "remote: failed to read response body")
		}
		out = &Download{Body: b, ETag: res.Header.Get("ETag")}
		return nil
	}, c.backoff(ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) get(ctx context.Context, path string, etag string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+path, nil)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("EMM Core/v%s", system.Version))
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	for k, v := range c.customHeaders {
		req.Header.Set(k, v)
	}
	log.WithFields(log.Fields{"endpoint": c.baseUrl + path, "conditional": etag != ""}).Debug("requesting file from database mirror")
	return c.httpClient.Do(req)
}

func (c *client) backoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Second * 12
	b.MaxElapsedTime = time.Minute
	if c.maxAttempts > 0 {
		return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts)), ctx)
	}
	return backoff.WithContext(b, ctx)
}
