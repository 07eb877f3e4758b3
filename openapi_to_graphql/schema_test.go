package openapitographql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meshcontext "openapi-mesh-handler/mesh_context"
	"openapi-mesh-handler/source"
	"openapi-mesh-handler/testserver"
	"openapi-mesh-handler/types"
)

type TestCase struct {
	name         string
	query        string
	expectedJson string
}

func newPetstore(t *testing.T) (*httptest.Server, *openapi3.T) {
	t.Helper()
	srv := httptest.NewServer(testserver.New())
	t.Cleanup(srv.Close)

	doc, err := source.Parse(context.Background(), testserver.Document(srv.URL), source.FormatYAML, "")
	require.NoError(t, err)
	return srv, doc
}

func defaultOptions() Options {
	return Options{
		OperationIDFieldNames: true,
		FillEmptyResponses:    true,
		AddLimitArgument:      true,
	}
}

func do(ctx context.Context, schema graphql.Schema, query string) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: query,
		Context:       ctx,
	})
}

func requireJSON(t *testing.T, expected string, r *graphql.Result) {
	t.Helper()
	require.Empty(t, r.Errors)
	got, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, expected, string(got))
}

var cases = []TestCase{
	{
		name: "findPets",
		query: `{
			findPets {
				id
				name
				tag
			}
		}`,
		expectedJson: `{"data":{"findPets":[{"id":1,"name":"cat","tag":"cute"},{"id":2,"name":"dog","tag":"gentle"},{"id":3,"name":"dog2","tag":"dangerous"},{"id":4,"name":"wolf","tag":"dangerous"}]}}`,
	},
	{
		name: "findPets with filters",
		query: `{
			findPets(limit: 1, tags: ["dangerous"]) {
				id
				name
			}
		}`,
		expectedJson: `{"data":{"findPets":[{"id":3,"name":"dog2"}]}}`,
	},
	{
		name: "findPetById",
		query: `{
			findPetById(id: 1) {
				id
				status
			}
		}`,
		expectedJson: `{"data":{"findPetById":{"id":1,"status":"available"}}}`,
	},
	{
		name: "noResponseSchema",
		query: `{
			noResponseSchema
		}`,
		expectedJson: `{"data":{"noResponseSchema":{"branch":"ECE","float":10.5,"language":"C++","name":"Pikachu","particles":498}}}`,
	},
	{
		name: "union cat",
		query: `mutation {
			breeds(breedQueryInput: { catBreed: true }) {
				__typename
				... on CatMember {
					catBreed
				}
			}
		}`,
		expectedJson: `{"data":{"breeds":{"__typename":"CatMember","catBreed":"Sphynx"}}}`,
	},
	{
		name: "union dog",
		query: `mutation {
			breeds(breedQueryInput: { dogBreed: true }) {
				__typename
				... on DogMember {
					dogBreed
				}
			}
		}`,
		expectedJson: `{"data":{"breeds":{"__typename":"DogMember","dogBreed":"Labrador"}}}`,
	},
	{
		name: "nestedParameter",
		query: `{
			nestedReferenceInParameter(russianDoll: {
				name: "name"
				nestedDoll: {
					name: "name1",
					nestedDoll: {
						name: "name2"
					}
				}
			})
		}`,
		expectedJson: `{"data":{"nestedReferenceInParameter":"name,name1,name2"}}`,
	},
	{
		name: "addPet",
		query: `mutation {
			addPet(newPetInput: {
				tag: "newTag",
				name: "newName",
			}) {
				id
				name
				tag
			}
		}`,
		expectedJson: `{"data":{"addPet":{"id":5,"name":"newName","tag":"newTag"}}}`,
	},
	{
		name: "updatePet",
		query: `mutation {
			updatePet(id: 2, newPetInput: {
				tag: "tag",
				name: "name",
			}) {
				id
				name
				tag
			}
		}`,
		expectedJson: `{"data":{"updatePet":{"id":2,"name":"name","tag":"tag"}}}`,
	},
	{
		name: "deletePet",
		query: `mutation {
			deletePet(id: 4)
		}`,
		expectedJson: `{"data":{"deletePet":""}}`,
	},
	{
		name: "ping",
		query: `{
			ping
		}`,
		expectedJson: `{"data":{"ping":"pong"}}`,
	},
}

func TestCases(t *testing.T) {
	_, doc := newPetstore(t)

	result, err := CreateGraphQLSchema(doc, defaultOptions())
	require.NoError(t, err)
	require.Empty(t, result.Skipped)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireJSON(t, tc.expectedJson, do(context.Background(), result.Schema, tc.query))
		})
	}
}

func TestSchemaShape(t *testing.T) {
	_, doc := newPetstore(t)

	opts := defaultOptions()
	opts.EquivalentToMessages = true
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	queries := result.Schema.QueryType().Fields()
	for _, name := range []string{"findPets", "findPetById", "noResponseSchema", "nestedReferenceInParameter", "echo", "ping"} {
		assert.Contains(t, queries, name)
	}
	mutations := result.Schema.MutationType().Fields()
	for _, name := range []string{"addPet", "updatePet", "deletePet", "breeds"} {
		assert.Contains(t, mutations, name)
	}
	assert.Nil(t, result.Schema.SubscriptionType())

	argNames := func(field *graphql.FieldDefinition) []string {
		var names []string
		for _, arg := range field.Args {
			names = append(names, arg.Name())
		}
		return names
	}
	assert.ElementsMatch(t, []string{"tags", "limit"}, argNames(queries["findPets"]))
	assert.ElementsMatch(t, []string{"id"}, argNames(queries["findPetById"]))
	assert.ElementsMatch(t, []string{"segment", "xTrace"}, argNames(queries["echo"]))
	assert.ElementsMatch(t, []string{"id", "newPetInput"}, argNames(mutations["updatePet"]))

	assert.Equal(t, "Returns all pets, optionally filtered by tag\n\nEquivalent to GET /pets", queries["findPets"].Description)
	assert.Equal(t, "Equivalent to DELETE /pets/{id}", mutations["deletePet"].Description)

	assert.Equal(t, "Int!", queries["findPetById"].Args[0].Type.String())
	assert.Equal(t, "[Pet]", queries["findPets"].Type.String())
	assert.Equal(t, "Breeds", mutations["breeds"].Type.String())
}

func TestGenericPayloadArgName(t *testing.T) {
	_, doc := newPetstore(t)

	opts := defaultOptions()
	opts.GenericPayloadArgName = true
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	r := do(context.Background(), result.Schema, `mutation {
		addPet(requestBody: { name: "generic" }) {
			name
		}
	}`)
	requireJSON(t, `{"data":{"addPet":{"name":"generic"}}}`, r)
}

func TestSelectQueryOrMutationField(t *testing.T) {
	_, doc := newPetstore(t)

	opts := defaultOptions()
	opts.SelectQueryOrMutationField = OasTitlePathMethodObject{}
	opts.SelectQueryOrMutationField.Set("Petstore", "/breeds", "post", types.Query)
	opts.SelectQueryOrMutationField.Set("Petstore", "/pets", "get", types.Mutation)
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	assert.Contains(t, result.Schema.QueryType().Fields(), "breeds")
	assert.NotContains(t, result.Schema.QueryType().Fields(), "findPets")
	assert.Contains(t, result.Schema.MutationType().Fields(), "findPets")

	r := do(context.Background(), result.Schema, `{
		breeds(breedQueryInput: { catBreed: true }) {
			... on CatMember {
				catBreed
			}
		}
	}`)
	requireJSON(t, `{"data":{"breeds":{"catBreed":"Sphynx"}}}`, r)
}

func TestHTTPError(t *testing.T) {
	srv, doc := newPetstore(t)

	result, err := CreateGraphQLSchema(doc, defaultOptions())
	require.NoError(t, err)

	r := do(context.Background(), result.Schema, `{ findPetById(id: 99) { id } }`)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "StatusCode: 404. Status: Not Found. Response body: map[message:Pet not found]", r.Errors[0].Message)

	ext := r.Errors[0].Extensions
	require.NotNil(t, ext)
	assert.Equal(t, 404, ext["statusCode"])
	assert.Equal(t, "Not Found", ext["statusText"])
	assert.Equal(t, "GET", ext["method"])
	assert.Equal(t, srv.URL+"/pets/99", ext["url"])
	assert.Equal(t, map[string]interface{}{"message": "Pet not found"}, ext["responseBody"])
}

func TestNegativeLimit(t *testing.T) {
	_, doc := newPetstore(t)

	result, err := CreateGraphQLSchema(doc, defaultOptions())
	require.NoError(t, err)

	r := do(context.Background(), result.Schema, `{ findPets(limit: -1) { id } }`)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, "limit must be a non-negative integer")
}

func TestIncludeHTTPDetails(t *testing.T) {
	srv, doc := newPetstore(t)

	opts := defaultOptions()
	opts.IncludeHTTPDetails = true
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	r := do(context.Background(), result.Schema, `{
		findPetById(id: 1) {
			id
			_openAPIToGraphQL {
				status
				statusText
				method
				url
			}
		}
	}`)
	requireJSON(t, `{"data":{"findPetById":{"id":1,"_openAPIToGraphQL":{"status":200,"statusText":"OK","method":"GET","url":"`+srv.URL+`/pets/1"}}}}`, r)
}

func TestResolverMiddleware(t *testing.T) {
	srv, doc := newPetstore(t)

	var calls int
	opts := defaultOptions()
	opts.BaseURL = "http://127.0.0.1:1"
	opts.SendOAuthTokenInQuery = true
	opts.ResolverMiddleware = func(getParams func() ResolverParams, factory ResolverFactory) graphql.FieldResolveFn {
		return func(p graphql.ResolveParams) (interface{}, error) {
			calls++
			params := getParams()
			params.BaseURL = srv.URL
			params.RequestOptions.Headers.Set("X-Api", "secret")
			params.QS.Set("api_key", "k1")
			return factory(func() ResolverParams { return params })(p)
		}
	}
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	ctx := meshcontext.WithOAuthToken(context.Background(), "token")
	r := do(ctx, result.Schema, `{
		echo(segment: "abc", xTrace: "t1") {
			method
			path
			query
			headers
		}
	}`)
	require.Empty(t, r.Errors)
	assert.Equal(t, 1, calls)

	echo := r.Data.(map[string]interface{})["echo"].(map[string]interface{})
	assert.Equal(t, "GET", echo["method"])
	assert.Equal(t, "/echo/abc", echo["path"])

	query := echo["query"].(map[string]interface{})
	assert.Equal(t, "k1", query["api_key"])
	assert.Equal(t, "token", query["access_token"])

	headers := echo["headers"].(map[string]interface{})
	assert.Equal(t, "secret", headers["X-Api"])
	assert.Equal(t, "t1", headers["X-Trace"])
	assert.NotContains(t, headers, "Authorization")
}

func TestRequestDefaultsPerCall(t *testing.T) {
	srv, doc := newPetstore(t)

	var calls int
	opts := defaultOptions()
	opts.BaseURL = srv.URL + "?api-version=2"
	opts.RequestOptions = RequestOptions{Headers: http.Header{"X-Static": []string{"s"}}}
	opts.QS = url.Values{"lang": []string{"en"}}
	opts.ResolverMiddleware = func(getParams func() ResolverParams, factory ResolverFactory) graphql.FieldResolveFn {
		return func(p graphql.ResolveParams) (interface{}, error) {
			calls++
			params := getParams()
			params.QS.Add("lang", fmt.Sprintf("call%d", calls))
			params.RequestOptions.Headers.Set("X-Static", "changed")
			return factory(func() ResolverParams { return params })(p)
		}
	}
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		r := do(context.Background(), result.Schema, `{ echo(segment: "abc") { path query headers } }`)
		require.Empty(t, r.Errors)

		echo := r.Data.(map[string]interface{})["echo"].(map[string]interface{})
		assert.Equal(t, "/echo/abc", echo["path"])
		assert.Equal(t, map[string]interface{}{
			"api-version": "2",
			"lang":        fmt.Sprintf("en,call%d", i),
		}, echo["query"])
		assert.Equal(t, "changed", echo["headers"].(map[string]interface{})["X-Static"])
	}
	assert.Equal(t, []string{"s"}, opts.RequestOptions.Headers["X-Static"])
	assert.Equal(t, []string{"en"}, opts.QS["lang"])
}

func TestCloneParams(t *testing.T) {
	base := ResolverParams{
		BaseURL:        "http://localhost:3000",
		RequestOptions: RequestOptions{Headers: http.Header{"X-Api": []string{"a"}}},
		QS:             url.Values{"page": []string{"1"}},
	}

	params, err := cloneParams(base)
	require.NoError(t, err)
	params.RequestOptions.Headers["X-Api"][0] = "b"
	params.QS.Add("page", "2")

	assert.Equal(t, "http://localhost:3000", params.BaseURL)
	assert.Equal(t, []string{"a"}, base.RequestOptions.Headers["X-Api"])
	assert.Equal(t, []string{"1"}, base.QS["page"])

	empty, err := cloneParams(ResolverParams{})
	require.NoError(t, err)
	assert.NotNil(t, empty.RequestOptions.Headers)
	assert.NotNil(t, empty.QS)
}

func TestOAuthTokenInHeader(t *testing.T) {
	_, doc := newPetstore(t)

	result, err := CreateGraphQLSchema(doc, defaultOptions())
	require.NoError(t, err)

	ctx := meshcontext.WithOAuthToken(context.Background(), "token")
	r := do(ctx, result.Schema, `{ echo(segment: "abc") { query headers } }`)
	require.Empty(t, r.Errors)

	echo := r.Data.(map[string]interface{})["echo"].(map[string]interface{})
	assert.NotContains(t, echo["query"], "access_token")
	assert.Equal(t, "Bearer token", echo["headers"].(map[string]interface{})["Authorization"])
}

func TestSkippedOperations(t *testing.T) {
	_, doc := newPetstore(t)

	opts := defaultOptions()
	opts.FillEmptyResponses = false
	result, err := CreateGraphQLSchema(doc, opts)
	require.NoError(t, err)

	assert.Contains(t, result.Skipped, "DELETE /pets/{id}")
	assert.NotContains(t, result.Schema.MutationType().Fields(), "deletePet")
}

func TestEmptyQuery(t *testing.T) {
	doc, err := source.Parse(context.Background(), []byte(`
openapi: 3.0.0
info:
  title: Writer
  version: 1.0.0
servers:
  - url: http://localhost:3000
paths:
  /messages:
    post:
      responses:
        "201":
          description: created
          content:
            text/plain:
              schema:
                type: string
`), source.FormatYAML, "")
	require.NoError(t, err)

	result, err := CreateGraphQLSchema(doc, Options{})
	require.NoError(t, err)

	assert.Contains(t, result.Schema.QueryType().Fields(), emptyQueryFieldName)
	assert.Contains(t, result.Schema.MutationType().Fields(), "postMessages")
	require.Len(t, result.Operations, 1)
	assert.Equal(t, "/messages", result.Operations[0].Path)
}

func TestCreateGraphQLSchemaNilDocument(t *testing.T) {
	_, err := CreateGraphQLSchema(nil, Options{})
	assert.Error(t, err)
}
