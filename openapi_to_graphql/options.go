package openapitographql

import (
	"net/http"
	"net/url"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/fetch"
	"openapi-mesh-handler/types"
)

// OasTitlePathMethodObject maps document title -> path -> lower-case method.
type OasTitlePathMethodObject map[string]map[string]map[string]types.OperationType

// Set records the operation type for one title/path/method triple.
func (o OasTitlePathMethodObject) Set(title, path, method string, operationType types.OperationType) {
	if o[title] == nil {
		o[title] = make(map[string]map[string]types.OperationType)
	}
	if o[title][path] == nil {
		o[title][path] = make(map[string]types.OperationType)
	}
	o[title][path][method] = operationType
}

func (o OasTitlePathMethodObject) Get(title, path, method string) (types.OperationType, bool) {
	operationType, ok := o[title][path][method]
	return operationType, ok
}

type Options struct {
	// Fetch performs upstream calls. Defaults to http.DefaultClient.
	Fetch fetch.Fetcher
	// BaseURL replaces the first server of the document.
	BaseURL string
	// RequestOptions holds headers sent with every upstream call.
	RequestOptions RequestOptions
	// QS holds query parameters sent with every upstream call. A query in
	// the server URL is added to it.
	QS url.Values

	// OperationIDFieldNames names root fields after the operationId.
	OperationIDFieldNames bool
	// FillEmptyResponses exposes operations without a response body as String fields.
	FillEmptyResponses bool
	// IncludeHTTPDetails adds the HttpDetails field to object types.
	IncludeHTTPDetails bool
	// GenericPayloadArgName names every request body argument "requestBody".
	GenericPayloadArgName bool
	// SelectQueryOrMutationField overrides the GET=Query, other=Mutation rule.
	SelectQueryOrMutationField OasTitlePathMethodObject
	// AddLimitArgument adds "limit" to list-returning fields.
	AddLimitArgument bool
	// SendOAuthTokenInQuery sends the request's OAuth token as access_token
	// query parameter instead of an Authorization header.
	SendOAuthTokenInQuery bool
	// Viewer is not supported and only logged when set.
	Viewer bool
	// EquivalentToMessages appends "Equivalent to METHOD path" to descriptions.
	EquivalentToMessages bool

	ResolverMiddleware ResolverMiddleware

	Logger *zerolog.Logger
}

// Operation is one path/method pair of the document as exposed in GraphQL.
type Operation struct {
	OperationID   string
	FieldName     string
	Path          string
	Method        string
	OperationType types.OperationType
	Description   string
	Operation     *openapi3.Operation

	// Arguments maps GraphQL argument names to the parameters they fill.
	Arguments           map[string]*openapi3.Parameter
	RequestBody         *types.RequestBodyDefinition
	ResponseContentType string
	Response            *types.DataDefinition
	LimitArgument       bool
}

type RequestOptions struct {
	Headers http.Header
}

// ResolverParams is what a generated resolver uses to build its HTTP call.
type ResolverParams struct {
	Operation      *Operation
	BaseURL        string
	RequestOptions RequestOptions
	Fetch          fetch.Fetcher
	QS             url.Values
}

// ResolverFactory builds the resolver of one operation from its params.
type ResolverFactory func(getParams func() ResolverParams) graphql.FieldResolveFn

// ResolverMiddleware wraps the resolver of every operation.
type ResolverMiddleware func(getParams func() ResolverParams, factory ResolverFactory) graphql.FieldResolveFn
