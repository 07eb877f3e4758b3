// Package meshcontext carries the per-request values a host injects for
// generated resolvers.
package meshcontext

import (
	"context"
	"net/url"

	"openapi-mesh-handler/fetch"
)

type (
	variablesKey  struct{}
	fetcherKey    struct{}
	queryKey      struct{}
	oauthTokenKey struct{}
)

// WithVariables stores the context variables templates refer to as {context.x}.
func WithVariables(ctx context.Context, vars map[string]interface{}) context.Context {
	return context.WithValue(ctx, variablesKey{}, vars)
}

func Variables(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	vars, _ := ctx.Value(variablesKey{}).(map[string]interface{})
	return vars
}

// WithFetcher overrides the fetch implementation for this request.
func WithFetcher(ctx context.Context, f fetch.Fetcher) context.Context {
	return context.WithValue(ctx, fetcherKey{}, f)
}

func Fetcher(ctx context.Context) (fetch.Fetcher, bool) {
	if ctx == nil {
		return nil, false
	}
	f, ok := ctx.Value(fetcherKey{}).(fetch.Fetcher)
	return f, ok && f != nil
}

// WithQueryString replaces the configured query string for this request.
func WithQueryString(ctx context.Context, qs url.Values) context.Context {
	return context.WithValue(ctx, queryKey{}, qs)
}

func QueryString(ctx context.Context) (url.Values, bool) {
	if ctx == nil {
		return nil, false
	}
	qs, ok := ctx.Value(queryKey{}).(url.Values)
	return qs, ok && qs != nil
}

func WithOAuthToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, oauthTokenKey{}, token)
}

func OAuthToken(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(oauthTokenKey{}).(string)
	return token
}
