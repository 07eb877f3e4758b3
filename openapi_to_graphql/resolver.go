package openapitographql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	meshcontext "openapi-mesh-handler/mesh_context"
	oas_utils "openapi-mesh-handler/oas_utils"
	typebuilder "openapi-mesh-handler/type_builder"
	"openapi-mesh-handler/types"
	"openapi-mesh-handler/utils"
)

const accessTokenParam = "access_token"

var tracer = otel.Tracer("openapi-mesh-handler/openapi_to_graphql")

// HTTPError is returned by resolvers when the upstream answers with a status
// of 400 or above.
type HTTPError struct {
	StatusCode   int
	StatusText   string
	URL          string
	Method       string
	ResponseBody interface{}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("StatusCode: %v. Status: %v. Response body: %v", e.StatusCode, e.StatusText, e.ResponseBody)
}

// Extensions is rendered into the "extensions" member of the GraphQL error.
func (e *HTTPError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"statusCode":   e.StatusCode,
		"statusText":   e.StatusText,
		"url":          e.URL,
		"method":       e.Method,
		"responseBody": e.ResponseBody,
	}
}

func (c *converter) resolverFactory() ResolverFactory {
	return func(getParams func() ResolverParams) graphql.FieldResolveFn {
		return func(p graphql.ResolveParams) (interface{}, error) {
			return c.resolve(p, getParams())
		}
	}
}

func (c *converter) resolve(p graphql.ResolveParams, params ResolverParams) (interface{}, error) {
	op := params.Operation
	if p.Context == nil {
		p.Context = context.Background()
	}
	ctx, span := tracer.Start(p.Context, op.FieldName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	request, err := c.buildRequest(p, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	request = request.WithContext(ctx)
	span.SetAttributes(
		attribute.String("http.method", request.Method),
		attribute.String("http.url", request.URL.String()),
	)

	fetcher := params.Fetch
	if fetcher == nil {
		fetcher = c.opts.Fetch
	}
	response, err := fetcher.Fetch(request)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "request %s %s failed", request.Method, request.URL.String())
	}
	defer response.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if response.StatusCode >= 400 {
		httpErr := &HTTPError{
			StatusCode:   response.StatusCode,
			StatusText:   http.StatusText(response.StatusCode),
			URL:          request.URL.String(),
			Method:       request.Method,
			ResponseBody: decodeLoosely(responseBody),
		}
		span.SetStatus(codes.Error, httpErr.Error())
		c.log.Debug().Int("status", response.StatusCode).Str("url", httpErr.URL).Msg("Upstream returned an error")
		return nil, httpErr
	}

	data, err := c.decodeResponse(op, response, responseBody)
	if err != nil {
		return nil, err
	}

	if c.opts.IncludeHTTPDetails {
		attachHttpDetails(data, httpDetails(request, response))
	}

	if op.LimitArgument {
		return applyLimit(data, p.Args[limitArgName])
	}
	return data, nil
}

func (c *converter) buildRequest(p graphql.ResolveParams, params ResolverParams) (*http.Request, error) {
	op := params.Operation
	path := op.Path
	baseURL, query := splitQuery(params.BaseURL)
	headers := http.Header{}
	var cookies []*http.Cookie

	for argName, param := range op.Arguments {
		value, ok := p.Args[argName]
		if !ok || value == nil {
			continue
		}
		switch param.In {
		case openapi3.ParameterInPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(utils.CastToString(value)))
		case openapi3.ParameterInQuery:
			serializeQueryParam(query, param, value)
		case openapi3.ParameterInHeader:
			headers.Set(param.Name, utils.CastToString(value))
		case openapi3.ParameterInCookie:
			cookies = append(cookies, &http.Cookie{Name: param.Name, Value: utils.CastToString(value)})
		}
	}

	for key, values := range params.QS {
		query[key] = append([]string(nil), values...)
	}

	if token := meshcontext.OAuthToken(p.Context); token != "" {
		if c.opts.SendOAuthTokenInQuery {
			query.Set(accessTokenParam, token)
		} else {
			headers.Set("Authorization", "Bearer "+token)
		}
	}

	endpoint := strings.TrimSuffix(baseURL, "/") + path
	if encoded := query.Encode(); encoded != "" {
		endpoint = endpoint + "?" + encoded
	}

	var body io.Reader
	if op.RequestBody != nil {
		if value, ok := p.Args[op.RequestBody.ArgumentName]; ok && value != nil {
			payload := &oas_utils.Body{
				ContentType: op.RequestBody.ContentType,
				Data:        c.builder.RestoreInput(op.RequestBody.DataDefinition.InputGraphQLType, value),
			}
			encoded, err := payload.Encode()
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode request body")
			}
			body = encoded
			headers.Set("Content-Type", op.RequestBody.ContentType)
		}
	}

	request, err := http.NewRequest(op.Method, endpoint, body)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid request url %q", endpoint)
	}
	if op.ResponseContentType != "" {
		request.Header.Set("Accept", op.ResponseContentType)
	}
	for key, values := range headers {
		request.Header[key] = values
	}
	for key, values := range params.RequestOptions.Headers {
		request.Header.Del(key)
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	return request, nil
}

func serializeQueryParam(query url.Values, param *openapi3.Parameter, value interface{}) {
	if param.Style == openapi3.SerializationDeepObject {
		utils.Serialize(query, value, param.Name)
		return
	}
	if items, ok := value.([]interface{}); ok && param.Explode != nil && !*param.Explode {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, utils.CastToString(item))
		}
		query.Set(param.Name, strings.Join(parts, ","))
		return
	}
	utils.Serialize(query, value, param.Name)
}

func (c *converter) decodeResponse(op *Operation, response *http.Response, body []byte) (interface{}, error) {
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = op.ResponseContentType
	}
	isJSON := oas_utils.IsJSONContentType(contentType)

	if op.Response.TargetGraphQLType == types.String {
		var text string
		if isJSON && json.Unmarshal(body, &text) == nil {
			return text, nil
		}
		return string(body), nil
	}
	if len(body) == 0 {
		return nil, nil
	}
	if !isJSON {
		return string(body), nil
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, errors.Wrap(err, "failed to decode response body")
	}
	return data, nil
}

func decodeLoosely(body []byte) interface{} {
	var data interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		return data
	}
	return string(body)
}

func httpDetails(request *http.Request, response *http.Response) map[string]interface{} {
	headers := make(map[string]interface{}, len(response.Header))
	for key := range response.Header {
		headers[key] = response.Header.Get(key)
	}
	return map[string]interface{}{
		"status":     response.StatusCode,
		"statusText": http.StatusText(response.StatusCode),
		"url":        request.URL.String(),
		"method":     request.Method,
		"headers":    headers,
	}
}

func attachHttpDetails(data interface{}, details map[string]interface{}) {
	switch value := data.(type) {
	case map[string]interface{}:
		value[typebuilder.HttpDetailsField] = details
	case []interface{}:
		for _, item := range value {
			if obj, ok := item.(map[string]interface{}); ok {
				obj[typebuilder.HttpDetailsField] = details
			}
		}
	}
}

func applyLimit(data interface{}, limitArg interface{}) (interface{}, error) {
	limit, ok := limitArg.(int)
	if !ok {
		return data, nil
	}
	if limit < 0 {
		return nil, errors.Errorf("limit must be a non-negative integer, got %d", limit)
	}
	items, ok := data.([]interface{})
	if !ok || limit >= len(items) {
		return data, nil
	}
	return items[:limit], nil
}
