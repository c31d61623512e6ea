package jwkscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultResponseTimeout = 3 * time.Second
	DefaultIdleTimeout     = 1500 * time.Millisecond
	DefaultMaxBodyBytes    = 1 << 20
)

// Fetcher retrieves a JSON document over the network.
type Fetcher interface {
	FetchJSON(ctx context.Context, uri string) ([]byte, error)
}

// HTTPFetcher GETs JSON documents, retrying once immediately on transport
// errors and 429 responses.
type HTTPFetcher struct {
	client          *retryablehttp.Client
	log             logrus.FieldLogger
	responseTimeout time.Duration
	idleTimeout     time.Duration
	maxBody         int64
}

// FetcherOpt configures an HTTPFetcher.
type FetcherOpt func(*HTTPFetcher)

// WithResponseTimeout bounds the whole request, body included.
func WithResponseTimeout(d time.Duration) FetcherOpt {
	return func(f *HTTPFetcher) { f.responseTimeout = d }
}

// WithIdleTimeout bounds the wait for response headers.
func WithIdleTimeout(d time.Duration) FetcherOpt {
	return func(f *HTTPFetcher) { f.idleTimeout = d }
}

// WithMaxBodyBytes caps how much of a response is read.
func WithMaxBodyBytes(n int64) FetcherOpt {
	return func(f *HTTPFetcher) { f.maxBody = n }
}

// WithFetchLogger sets the logger used for retries.
func WithFetchLogger(l logrus.FieldLogger) FetcherOpt {
	return func(f *HTTPFetcher) { f.log = l }
}

func NewHTTPFetcher(opts ...FetcherOpt) *HTTPFetcher {
	f := &HTTPFetcher{
		log:             logrus.StandardLogger(),
		responseTimeout: DefaultResponseTimeout,
		idleTimeout:     DefaultIdleTimeout,
		maxBody:         DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = f.idleTimeout
	httpClient := &http.Client{Transport: transport, Timeout: f.responseTimeout}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = nil
	rc.RetryMax = 1
	rc.RetryWaitMin = 0
	rc.RetryWaitMax = 0
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return 0 }
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			f.log.WithFields(logrus.Fields{"jwks_uri": req.URL.String(), "attempt": attempt}).Warn("retrying jwks fetch")
		}
	}
	f.client = rc
	return f
}

// checkRetry retries transport failures and rate limiting only.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode == http.StatusTooManyRequests, nil
}

// FetchJSON returns the body of a 200 application/json response that parses
// as JSON. Malformed responses are reported as non-retryable.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: "invalid jwks uri " + uri, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, jwtkit.WrapError(jwtkit.KindKeySetFetch, err, "fetch %s", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, jwtkit.NewError(jwtkit.KindKeySetFetch, "fetch %s: rate limited (429)", uri)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: fmt.Sprintf("fetch %s: unexpected status %d", uri, resp.StatusCode)}
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: fmt.Sprintf("fetch %s: unexpected content type %q", uri, resp.Header.Get("Content-Type"))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, jwtkit.WrapError(jwtkit.KindKeySetFetch, err, "read %s", uri)
	}
	if int64(len(body)) > f.maxBody {
		return nil, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: fmt.Sprintf("fetch %s: response exceeds %d bytes", uri, f.maxBody)}
	}
	if !json.Valid(body) {
		return nil, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: fmt.Sprintf("fetch %s: response is not valid JSON", uri)}
	}
	return body, nil
}

// IsRetryable reports whether a fetch failure may succeed on a later call.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jwtkit.ErrNonRetryableFetch) {
		return false
	}
	return errors.Is(err, jwtkit.ErrKeySetFetch)
}
