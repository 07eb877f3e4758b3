package openapitographql

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/fetch"
	oas_utils "openapi-mesh-handler/oas_utils"
	typebuilder "openapi-mesh-handler/type_builder"
	"openapi-mesh-handler/types"
	"openapi-mesh-handler/utils"
)

const (
	genericPayloadArgName = "requestBody"
	limitArgName          = "limit"
	emptyQueryFieldName   = "_empty"
)

// Result is the outcome of a conversion.
type Result struct {
	Schema     graphql.Schema
	Operations []*Operation
	// Skipped holds operations that could not be translated, keyed by "METHOD path".
	Skipped map[string]error
}

type converter struct {
	doc       *openapi3.T
	opts      Options
	log       *zerolog.Logger
	builder   *typebuilder.Builder
	serverURL string
}

// CreateGraphQLSchema translates doc into a GraphQL schema whose resolvers
// call the described API.
func CreateGraphQLSchema(doc *openapi3.T, opts Options) (*Result, error) {
	if doc == nil {
		return nil, errors.New("openapi document is nil")
	}
	log := opts.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	if opts.Fetch == nil {
		opts.Fetch = fetch.FromClient(nil)
	}
	if opts.Viewer {
		log.Warn().Msg("Viewers are not supported, ignoring the viewer option")
	}

	c := &converter{
		doc:     doc,
		opts:    opts,
		log:     log,
		builder: typebuilder.New(log, opts.IncludeHTTPDetails),
	}

	c.serverURL = opts.BaseURL
	if c.serverURL == "" {
		serverURL, err := oas_utils.GetServerUrl(doc)
		if err != nil {
			log.Warn().Msg("There is no base URL defined for this OpenAPI definition, define one manually")
		}
		c.serverURL = serverURL
	}

	return c.translate()
}

func (c *converter) title() string {
	if c.doc.Info == nil {
		return ""
	}
	return c.doc.Info.Title
}

func (c *converter) translate() (*Result, error) {
	result := &Result{Skipped: make(map[string]error)}

	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}
	subscriptionFields := graphql.Fields{}

	paths := make([]string, 0)
	if c.doc.Paths != nil {
		for path := range c.doc.Paths.Map() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		pathItem := c.doc.Paths.Value(path)
		if pathItem == nil {
			continue
		}
		for _, key := range types.HttpMethodsList() {
			method, err := types.GetHttpMethod(key)
			if err != nil {
				continue
			}
			operation := pathItem.GetOperation(method)
			if operation == nil {
				continue
			}

			op, err := c.createOperation(path, method, pathItem, operation)
			if err != nil {
				c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Skipping operation")
				result.Skipped[method+" "+path] = err
				continue
			}

			var fields graphql.Fields
			switch op.OperationType {
			case types.Mutation:
				fields = mutationFields
			case types.Subscription:
				fields = subscriptionFields
			default:
				fields = queryFields
			}
			op.FieldName = uniqueFieldName(fields, op.FieldName)
			fields[op.FieldName] = c.createField(op)
			result.Operations = append(result.Operations, op)

			c.log.Debug().Str("field", op.FieldName).Str("type", op.OperationType.String()).Msg("Added field")
		}
		c.log.Debug().Str("path", path).Msg("Path processed")
	}

	if len(queryFields) == 0 {
		queryFields[emptyQueryFieldName] = &graphql.Field{
			Type:        graphql.String,
			Description: "Placeholder, the API has no query operations.",
		}
	}

	config := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
	}
	if len(mutationFields) > 0 {
		config.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutationFields,
		})
	}
	if len(subscriptionFields) > 0 {
		config.Subscription = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Subscription",
			Fields: subscriptionFields,
		})
	}

	schema, err := graphql.NewSchema(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create graphql schema")
	}
	result.Schema = schema

	return result, nil
}

func uniqueFieldName(fields graphql.Fields, name string) string {
	candidate := name
	for i := 2; ; i++ {
		if _, taken := fields[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s%d", name, i)
	}
}

func (c *converter) createOperation(path, method string, pathItem *openapi3.PathItem, operation *openapi3.Operation) (*Operation, error) {
	op := &Operation{
		OperationID: operation.OperationID,
		Path:        path,
		Method:      method,
		Operation:   operation,
		Arguments:   make(map[string]*openapi3.Parameter),
	}

	op.OperationType = types.Query
	if method != types.HttpMethod.Get {
		op.OperationType = types.Mutation
	}
	if selected, ok := c.opts.SelectQueryOrMutationField.Get(c.title(), path, strings.ToLower(method)); ok {
		op.OperationType = selected
	}

	op.FieldName = c.fieldName(op)
	op.Description = c.description(op)

	_, response, err := oas_utils.GetSuccessResponse(operation.Responses)
	if err != nil {
		return nil, err
	}
	if err := c.createResponseDefinition(op, response); err != nil {
		return nil, err
	}
	return op, nil
}

func (c *converter) fieldName(op *Operation) string {
	if c.opts.OperationIDFieldNames && op.OperationID != "" {
		return utils.ToFieldName(op.OperationID)
	}
	resource := utils.InferResourceNameFromPath(op.Path)
	if op.OperationType == types.Query && op.Method == types.HttpMethod.Get {
		return utils.ToFieldName(resource)
	}
	return utils.ToFieldName(strings.ToLower(op.Method) + resource)
}

func (c *converter) description(op *Operation) string {
	description := op.Operation.Description
	if description == "" {
		description = op.Operation.Summary
	}
	if c.opts.EquivalentToMessages {
		equivalent := fmt.Sprintf("Equivalent to %s %s", op.Method, op.Path)
		if description == "" {
			return equivalent
		}
		return description + "\n\n" + equivalent
	}
	return description
}

func (c *converter) createResponseDefinition(op *Operation, response *openapi3.Response) error {
	contentType, content := oas_utils.GetResponseContent(response)
	op.ResponseContentType = contentType

	switch {
	case content == nil:
		if !c.opts.FillEmptyResponses {
			return errors.New("response content not found")
		}
		op.Response = &types.DataDefinition{
			Path:              op.Path,
			TargetGraphQLType: types.String,
			GraphQLType:       graphql.String,
			InputGraphQLType:  graphql.String,
		}
	case content.Schema == nil && strings.HasPrefix(contentType, "text/"):
		op.Response = &types.DataDefinition{
			Path:              op.Path,
			TargetGraphQLType: types.String,
			GraphQLType:       graphql.String,
			InputGraphQLType:  graphql.String,
		}
	default:
		names := types.SchemaNames{
			FromPath: utils.InferResourceNameFromPath(op.Path),
		}
		if content.Schema != nil {
			names.FromRef = utils.GetRefName(content.Schema.Ref)
			if content.Schema.Value != nil {
				names.FromSchema = content.Schema.Value.Title
			}
		}
		op.Response = c.builder.CreateDataDefinition(content.Schema, names, op.Path, false)
	}
	return nil
}

func (c *converter) createArgs(op *Operation, pathItem *openapi3.PathItem) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{}

	for _, parameter := range mergeParameters(pathItem.Parameters, op.Operation.Parameters) {
		p := parameter.Value
		schema := p.Schema
		if schema == nil {
			if media, ok := p.Content[oas_utils.ContentTypeJSON]; ok && media != nil {
				schema = media.Schema
			}
		}
		if schema == nil {
			c.log.Debug().Str("field", op.FieldName).Str("parameter", p.Name).Msg("Skipping parameter, schema not found")
			continue
		}

		names := types.SchemaNames{
			FromRef:  utils.GetRefName(schema.Ref),
			FromPath: utils.ToPascalCase(op.FieldName) + utils.ToPascalCase(p.Name),
		}
		if schema.Value != nil {
			names.FromSchema = schema.Value.Title
		}
		def := c.builder.CreateDataDefinition(schema, names, op.Path, p.Required)

		name := utils.ToFieldName(p.Name)
		if _, taken := args[name]; taken {
			name = utils.ToFieldName(p.Name + " " + p.In)
		}
		args[name] = &graphql.ArgumentConfig{
			Type:        def.InputGraphQLType,
			Description: p.Description,
		}
		op.Arguments[name] = p
	}

	if requestBody := op.Operation.RequestBody; requestBody != nil && requestBody.Value != nil {
		if body, err := c.createRequestBody(op, requestBody.Value); err != nil {
			c.log.Debug().Err(err).Str("field", op.FieldName).Msg("Skipping request body")
		} else {
			op.RequestBody = body
			args[body.ArgumentName] = &graphql.ArgumentConfig{
				Type:        body.DataDefinition.InputGraphQLType,
				Description: requestBody.Value.Description,
			}
		}
	}

	if c.opts.AddLimitArgument && op.Response.TargetGraphQLType == types.List {
		if _, taken := args[limitArgName]; !taken {
			op.LimitArgument = true
			args[limitArgName] = &graphql.ArgumentConfig{
				Type:        graphql.Int,
				Description: "Maximum number of items to return.",
			}
		}
	}

	return args
}

func (c *converter) createRequestBody(op *Operation, requestBody *openapi3.RequestBody) (*types.RequestBodyDefinition, error) {
	contentType, content, err := oas_utils.GetRequestContent(requestBody)
	if err != nil {
		return nil, err
	}

	schemaNames := types.SchemaNames{
		FromPath: utils.InferResourceNameFromPath(op.Path),
	}
	if content.Schema != nil {
		schemaNames.FromRef = utils.GetRefName(content.Schema.Ref)
		if content.Schema.Value != nil {
			schemaNames.FromSchema = content.Schema.Value.Title
		}
	}
	def := c.builder.CreateDataDefinition(content.Schema, schemaNames, op.Path, requestBody.Required)

	argName := genericPayloadArgName
	if !c.opts.GenericPayloadArgName {
		if named, ok := graphql.GetNamed(def.InputGraphQLType).(*graphql.InputObject); ok {
			argName = utils.ToFieldName(named.Name())
		}
	}

	return &types.RequestBodyDefinition{
		ContentType:    contentType,
		ArgumentName:   argName,
		Required:       requestBody.Required,
		DataDefinition: def,
	}, nil
}

// mergeParameters lets operation parameters override path item parameters
// with the same name and location.
func mergeParameters(pathParams, opParams openapi3.Parameters) openapi3.Parameters {
	merged := openapi3.Parameters{}
	index := make(map[string]int)
	for _, params := range []openapi3.Parameters{pathParams, opParams} {
		for _, p := range params {
			if p == nil || p.Value == nil {
				continue
			}
			key := p.Value.In + ":" + p.Value.Name
			if i, ok := index[key]; ok {
				merged[i] = p
				continue
			}
			index[key] = len(merged)
			merged = append(merged, p)
		}
	}
	return merged
}

func (c *converter) createField(op *Operation) *graphql.Field {
	pathItem := c.doc.Paths.Value(op.Path)
	args := c.createArgs(op, pathItem)

	baseURL, serverQS := splitQuery(c.serverURL)
	for key, values := range c.opts.QS {
		serverQS[key] = values
	}
	base := ResolverParams{
		Operation:      op,
		BaseURL:        baseURL,
		RequestOptions: c.opts.RequestOptions,
		Fetch:          c.opts.Fetch,
		QS:             serverQS,
	}
	getParams := func() ResolverParams {
		params, err := cloneParams(base)
		if err != nil {
			c.log.Error().Err(err).Str("operation", op.FieldName).Msg("Failed to copy resolver params")
		}
		return params
	}

	factory := c.resolverFactory()
	var resolve graphql.FieldResolveFn
	if c.opts.ResolverMiddleware != nil {
		resolve = c.opts.ResolverMiddleware(getParams, factory)
	} else {
		resolve = factory(getParams)
	}

	return &graphql.Field{
		Name:        op.FieldName,
		Description: op.Description,
		Args:        args,
		Type:        op.Response.GraphQLType,
		Resolve:     resolve,
	}
}

// cloneParams deep-copies the headers and query values of base, so a
// middleware can change them for one call without touching other calls.
func cloneParams(base ResolverParams) (ResolverParams, error) {
	params := base
	params.RequestOptions = RequestOptions{Headers: http.Header{}}
	params.QS = url.Values{}

	if err := copier.CopyWithOption(&params.RequestOptions, &base.RequestOptions, copier.Option{DeepCopy: true}); err != nil {
		return params, errors.Wrap(err, "failed to copy request options")
	}
	if params.RequestOptions.Headers == nil {
		params.RequestOptions.Headers = http.Header{}
	}
	if err := copier.CopyWithOption(&params.QS, &base.QS, copier.Option{DeepCopy: true}); err != nil {
		return params, errors.Wrap(err, "failed to copy query string")
	}
	return params, nil
}

// splitQuery separates the query of a base URL from the URL.
func splitQuery(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw, url.Values{}
	}
	query := u.Query()
	u.RawQuery = ""
	return u.String(), query
}
