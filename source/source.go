// Package source reads OpenAPI documents from local files or URLs.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"sigs.k8s.io/yaml"

	"openapi-mesh-handler/cache"
	"openapi-mesh-handler/interpolation"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"

	defaultTimeout = 30 * time.Second
)

var ErrNotOpenAPI = errors.New("document is neither OpenAPI 3 nor Swagger 2")

type ReadOptions struct {
	// Headers are sent when location is a URL. Values may use {env.X}.
	Headers map[string]string
	// FallbackFormat is used when the location has no known extension.
	FallbackFormat string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
}

func IsURL(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func cacheKey(location string) string {
	return "source:" + location
}

// ReadFileOrURL loads and parses the document at location, caching the
// parsed result under the location.
func ReadFileOrURL(ctx context.Context, location string, c cache.KeyValueCache, opts ReadOptions) (*openapi3.T, error) {
	log := opts.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	if !IsURL(location) {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", location)
		}
		location = abs
	}

	if c != nil {
		if v, ok := c.Get(ctx, cacheKey(location)); ok {
			if doc, ok := v.(*openapi3.T); ok {
				log.Debug().Str("source", location).Msg("Using cached OpenAPI document")
				return doc, nil
			}
		}
	}

	var (
		data []byte
		err  error
	)
	if IsURL(location) {
		data, err = readURL(ctx, location, opts)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", location)
	}

	doc, err := Parse(ctx, data, Format(location, opts.FallbackFormat), location)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", location)
	}
	event := log.Info().Str("source", location)
	if doc.Info != nil {
		event = event.Str("title", doc.Info.Title)
	}
	event.Msg("Loaded OpenAPI document")

	if c != nil {
		c.Set(ctx, cacheKey(location), doc, 0)
	}
	return doc, nil
}

// Invalidate drops the cached document for location.
func Invalidate(ctx context.Context, c cache.KeyValueCache, location string) {
	if c == nil {
		return
	}
	c.Delete(ctx, cacheKey(location))
	if !IsURL(location) {
		if abs, err := filepath.Abs(location); err == nil {
			c.Delete(ctx, cacheKey(abs))
		}
	}
}

func readURL(ctx context.Context, location string, opts ReadOptions) ([]byte, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, interpolation.Interpolate(value, interpolation.ResolverData{}))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Format guesses the document format from the location extension.
func Format(location, fallback string) string {
	if u, err := url.Parse(location); err == nil && IsURL(location) {
		location = u.Path
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return strings.ToLower(fallback)
}

// Parse decodes a JSON or YAML document. Swagger 2 documents are converted
// to OpenAPI 3.
func Parse(ctx context.Context, data []byte, format, location string) (*openapi3.T, error) {
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Swagger string `json:"swagger"`
		OpenAPI string `json:"openapi"`
	}
	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, err
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true

	switch {
	case strings.HasPrefix(probe.Swagger, "2"):
		var doc2 openapi2.T
		if err := json.Unmarshal(jsonData, &doc2); err != nil {
			return nil, err
		}
		doc, err := openapi2conv.ToV3(&doc2)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert swagger 2 document")
		}
		if err := loader.ResolveRefsIn(doc, nil); err != nil {
			return nil, err
		}
		return doc, nil
	case strings.HasPrefix(probe.OpenAPI, "3"):
		if IsURL(location) {
			u, _ := url.Parse(location)
			return loader.LoadFromDataWithPath(jsonData, u)
		}
		return loader.LoadFromDataWithPath(jsonData, &url.URL{Path: filepath.ToSlash(location)})
	}
	return nil, ErrNotOpenAPI
}

func toJSON(data []byte, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			return nil, errors.New("invalid JSON document")
		}
		return data, nil
	case FormatYAML:
		return yaml.YAMLToJSON(data)
	}
	if json.Valid(data) {
		return data, nil
	}
	return yaml.YAMLToJSON(data)
}
