package fetch

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/cache"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openapi_mesh_upstream_requests_total",
		Help: "HTTP requests sent to the OpenAPI upstream, by method and status code.",
	}, []string{"method", "code"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openapi_mesh_fetch_cache_hits_total",
		Help: "Upstream responses served from the fetch cache.",
	})
)

// cacheableStatus lists the status codes a shared cache may store when the
// response carries an explicit lifetime.
var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusPermanentRedirect:    true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusGone:                 true,
	http.StatusRequestURITooLong:    true,
	http.StatusNotImplemented:       true,
}

type cachedResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// Vary holds the request values of the headers the response varies on.
	Vary map[string]string
}

// Cached is a shared cache for GET responses. It honors Cache-Control
// lifetimes, never stores private responses and matches Vary headers.
type Cached struct {
	next  Fetcher
	cache cache.KeyValueCache
	log   *zerolog.Logger
}

func NewCached(next Fetcher, c cache.KeyValueCache, log *zerolog.Logger) *Cached {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Cached{next: next, cache: c, log: log}
}

func (f *Cached) Fetch(req *http.Request) (*http.Response, error) {
	if !isCacheableRequest(req) {
		return f.do(req)
	}

	key := "fetch:" + req.Method + " " + req.URL.String()
	if v, ok := f.cache.Get(req.Context(), key); ok {
		if cached, ok := v.(*cachedResponse); ok && cached.matches(req) {
			cacheHits.Inc()
			f.log.Debug().Str("url", req.URL.String()).Msg("Serving upstream response from cache")
			return cached.response(req), nil
		}
	}

	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}

	ttl := cacheTTL(resp)
	if ttl <= 0 {
		return resp, nil
	}
	vary, ok := varyValues(req, resp)
	if !ok {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	if err != nil {
		return nil, err
	}
	cached := &cachedResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
		Vary:       vary,
	}
	f.cache.Set(req.Context(), key, cached, ttl)

	return cached.response(req), nil
}

func (f *Cached) do(req *http.Request) (*http.Response, error) {
	resp, err := f.next.Fetch(req)
	if err != nil {
		upstreamRequests.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}
	upstreamRequests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// Requests carrying credentials are never cached, their responses are
// specific to the caller.
func isCacheableRequest(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	return req.Header.Get("Authorization") == "" && req.Header.Get("Cookie") == ""
}

func cacheTTL(resp *http.Response) time.Duration {
	if !cacheableStatus[resp.StatusCode] {
		return 0
	}
	header := strings.Join(resp.Header.Values("Cache-Control"), ", ")
	if header == "" {
		return 0
	}

	// a bare "private" carries no value, so check the raw tokens
	tokens, err := httpcc.ParseResponseDirectives(header)
	if err != nil {
		return 0
	}
	for _, token := range tokens {
		switch strings.ToLower(token.Name) {
		case httpcc.NoStore, httpcc.NoCache, httpcc.Private:
			return 0
		}
	}

	directives, err := httpcc.ParseResponse(header)
	if err != nil {
		return 0
	}
	if sMaxAge, ok := directives.SMaxAge(); ok {
		return time.Duration(sMaxAge) * time.Second
	}
	maxAge, ok := directives.MaxAge()
	if !ok {
		return 0
	}
	return time.Duration(maxAge) * time.Second
}

// varyValues records the request values of every header named by Vary.
// "Vary: *" never matches a later request.
func varyValues(req *http.Request, resp *http.Response) (map[string]string, bool) {
	values := make(map[string]string)
	for _, line := range resp.Header.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			switch name {
			case "":
				continue
			case "*":
				return nil, false
			}
			name = http.CanonicalHeaderKey(name)
			values[name] = strings.Join(req.Header.Values(name), ",")
		}
	}
	return values, true
}

func (c *cachedResponse) matches(req *http.Request) bool {
	for name, value := range c.Vary {
		if strings.Join(req.Header.Values(name), ",") != value {
			return false
		}
	}
	return true
}

func (c *cachedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    c.StatusCode,
		Status:        c.Status,
		Header:        c.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}
