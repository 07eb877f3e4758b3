// Package meshhandler exposes an OpenAPI source as a GraphQL mesh source.
package meshhandler

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/cache"
	"openapi-mesh-handler/config"
	"openapi-mesh-handler/fetch"
	"openapi-mesh-handler/interpolation"
	meshcontext "openapi-mesh-handler/mesh_context"
	openapitographql "openapi-mesh-handler/openapi_to_graphql"
	"openapi-mesh-handler/source"
	"openapi-mesh-handler/types"
)

// FetchContextVariable is always part of MeshSource.ContextVariables. The
// host puts a fetcher under it with meshcontext.WithFetcher.
const FetchContextVariable = "fetch"

type Options struct {
	Name   string
	Config config.OpenapiHandler
	// Cache holds parsed documents and cacheable upstream responses.
	// Defaults to an in-memory LRU.
	Cache  cache.KeyValueCache
	Logger *zerolog.Logger
	// HTTPClient fetches the document and, without customFetch, calls the API.
	HTTPClient *http.Client
}

// MeshSource is a GraphQL schema plus the context variables its resolvers read.
type MeshSource struct {
	Schema           *graphql.Schema
	ContextVariables []string
}

type Handler struct {
	name   string
	config config.OpenapiHandler
	cache  cache.KeyValueCache
	log    *zerolog.Logger
	client *http.Client
}

func New(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	sourceLog := log.With().Str("source", opts.Name).Logger()

	c := opts.Cache
	if c == nil {
		// NewLRU only fails for a non-positive size
		c, _ = cache.NewLRU(cache.DefaultSize)
	}

	return &Handler{
		name:   opts.Name,
		config: opts.Config,
		cache:  c,
		log:    &sourceLog,
		client: opts.HTTPClient,
	}
}

func (h *Handler) Name() string {
	return h.name
}

// Source is the configured document location.
func (h *Handler) Source() string {
	return h.config.Source
}

// Invalidate drops the cached document, the next GetMeshSource reads it again.
func (h *Handler) Invalidate(ctx context.Context) {
	source.Invalidate(ctx, h.cache, h.config.Source)
}

func (h *Handler) GetMeshSource(ctx context.Context) (*MeshSource, error) {
	cfg := h.config

	doc, err := source.ReadFileOrURL(ctx, cfg.Source, h.cache, source.ReadOptions{
		Headers:        cfg.SchemaHeaders,
		FallbackFormat: cfg.SourceFormat,
		HTTPClient:     h.client,
		Logger:         h.log,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load OpenAPI document for source %q", h.name)
	}

	fetcher, err := h.fetcher()
	if err != nil {
		return nil, err
	}

	selectQueryOrMutationField, err := selectOperationTypes(cfg.SelectQueryOrMutationField)
	if err != nil {
		return nil, err
	}

	result, err := openapitographql.CreateGraphQLSchema(doc, openapitographql.Options{
		Fetch:                      fetcher,
		BaseURL:                    cfg.BaseUrl,
		OperationIDFieldNames:      true,
		FillEmptyResponses:         true,
		IncludeHTTPDetails:         cfg.IncludeHttpDetails,
		GenericPayloadArgName:      cfg.GenericPayloadArg(),
		SelectQueryOrMutationField: selectQueryOrMutationField,
		AddLimitArgument:           cfg.LimitArgument(),
		SendOAuthTokenInQuery:      true,
		Viewer:                     false,
		EquivalentToMessages:       true,
		ResolverMiddleware:         h.resolverMiddleware(),
		Logger:                     h.log,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create GraphQL schema for source %q", h.name)
	}
	for operation, skipErr := range result.Skipped {
		h.log.Warn().Err(skipErr).Str("operation", operation).Msg("Operation is not part of the schema")
	}

	args, contextVariables := interpolation.ParseInterpolationStrings(headerTemplates(cfg.OperationHeaders))
	if err := addArgsToRootFields(&result.Schema, args); err != nil {
		return nil, errors.Wrapf(err, "failed to add interpolation arguments for source %q", h.name)
	}
	contextVariables = append(contextVariables, FetchContextVariable)

	h.log.Info().Int("operations", len(result.Operations)).Strs("contextVariables", contextVariables).Msg("Mesh source ready")

	schema := result.Schema
	return &MeshSource{
		Schema:           &schema,
		ContextVariables: contextVariables,
	}, nil
}

func (h *Handler) fetcher() (fetch.Fetcher, error) {
	if h.config.CustomFetch != "" {
		f, err := fetch.Lookup(h.config.CustomFetch)
		if err != nil {
			return nil, errors.Wrapf(err, "customFetch of source %q", h.name)
		}
		return f, nil
	}
	return fetch.NewCached(fetch.FromClient(h.client), h.cache, h.log), nil
}

func (h *Handler) resolverMiddleware() openapitographql.ResolverMiddleware {
	cfg := h.config
	baseURLFactory := interpolation.StringFactory(cfg.BaseUrl)
	headersFactory := interpolation.NewHeadersFactory(cfg.OperationHeaders)

	qsNames := make([]string, 0, len(cfg.QS))
	qsFactories := make(map[string]interpolation.Factory, len(cfg.QS))
	for name, template := range cfg.QS {
		qsNames = append(qsNames, name)
		qsFactories[name] = interpolation.StringFactory(template)
	}
	sort.Strings(qsNames)

	return func(getParams func() openapitographql.ResolverParams, factory openapitographql.ResolverFactory) graphql.FieldResolveFn {
		return func(p graphql.ResolveParams) (interface{}, error) {
			data := interpolation.ResolverData{
				Root:    p.Source,
				Args:    p.Args,
				Context: meshcontext.Variables(p.Context),
				Info:    p.Info,
			}

			params := getParams()
			params.RequestOptions = openapitographql.RequestOptions{
				Headers: headersFactory(data),
			}

			if cfg.BaseUrl != "" {
				params.BaseURL = baseURLFactory(data)
			}

			if params.BaseURL != "" {
				for _, name := range qsNames {
					params.QS.Set(name, qsFactories[name](data))
				}
			}

			if f, ok := meshcontext.Fetcher(p.Context); ok {
				params.Fetch = f
			}

			if qs, ok := meshcontext.QueryString(p.Context); ok {
				params.QS = qs
			}

			return factory(func() openapitographql.ResolverParams { return params })(p)
		}
	}
}

func headerTemplates(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	templates := make([]string, 0, len(names))
	for _, name := range names {
		templates = append(templates, headers[name])
	}
	return templates
}

func selectOperationTypes(fields []config.SelectQueryOrMutationField) (openapitographql.OasTitlePathMethodObject, error) {
	selected := openapitographql.OasTitlePathMethodObject{}
	for _, field := range fields {
		operationType, err := types.ParseOperationType(field.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "selectQueryOrMutationField %s %s", field.Method, field.Path)
		}
		if operationType == types.Subscription {
			return nil, errors.Errorf("selectQueryOrMutationField %s %s: type must be Query or Mutation, got %q", field.Method, field.Path, field.Type)
		}
		selected.Set(field.Title, field.Path, strings.ToLower(field.Method), operationType)
	}
	return selected, nil
}

// addArgsToRootFields appends args to every Query, Mutation and Subscription
// field that has no argument of the same name. The argument types are added
// to the type map so variables can reference them.
func addArgsToRootFields(schema *graphql.Schema, args graphql.FieldConfigArgument) error {
	if len(args) == 0 {
		return nil
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
		if err := schema.AppendType(args[name].Type); err != nil {
			return err
		}
	}
	sort.Strings(names)

	for _, rootType := range []*graphql.Object{schema.QueryType(), schema.MutationType(), schema.SubscriptionType()} {
		if rootType == nil {
			continue
		}
		for _, field := range rootType.Fields() {
			for _, name := range names {
				if hasArg(field, name) {
					continue
				}
				arg := args[name]
				field.Args = append(field.Args, &graphql.Argument{
					PrivateName:        name,
					Type:               arg.Type,
					DefaultValue:       arg.DefaultValue,
					PrivateDescription: arg.Description,
				})
			}
		}
	}
	return nil
}

func hasArg(field *graphql.FieldDefinition, name string) bool {
	for _, arg := range field.Args {
		if arg.Name() == name {
			return true
		}
	}
	return false
}
