package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openapi-mesh-handler/cache"
)

func newCache(t *testing.T) cache.KeyValueCache {
	c, err := cache.NewLRU(10)
	require.NoError(t, err)
	return c
}

func TestReadFileYAML(t *testing.T) {
	doc, err := ReadFileOrURL(context.Background(), "testdata/petstore.yaml", newCache(t), ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Petstore", doc.Info.Title)
	require.NotNil(t, doc.Paths.Value("/pets"))
	op := doc.Paths.Value("/pets").Get
	require.NotNil(t, op)
	assert.Equal(t, "findPets", op.OperationID)
	items := op.Responses.Value("200").Value.Content["application/json"].Schema.Value.Items
	require.NotNil(t, items.Value)
	assert.Contains(t, items.Value.Properties, "name")
}

func TestReadDocumentWithoutInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untitled.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.0.0\npaths: {}\n"), 0o600))

	doc, err := ReadFileOrURL(context.Background(), path, newCache(t), ReadOptions{})
	require.NoError(t, err)
	assert.Nil(t, doc.Info)
}

func TestReadSwagger2(t *testing.T) {
	doc, err := ReadFileOrURL(context.Background(), "testdata/swagger.json", nil, ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Swagger Petstore", doc.Info.Title)
	require.NotEmpty(t, doc.Servers)
	assert.Equal(t, "http://localhost:3000/v1", doc.Servers[0].URL)
	op := doc.Paths.Value("/pets/{id}").Get
	require.NotNil(t, op)
	schema := op.Responses.Value("200").Value.Content["application/json"].Schema
	require.NotNil(t, schema.Value)
	assert.Contains(t, schema.Value.Properties, "id")
}

func TestReadFallbackFormat(t *testing.T) {
	data, err := os.ReadFile("testdata/petstore.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "petstore")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	doc, err := ReadFileOrURL(context.Background(), path, nil, ReadOptions{FallbackFormat: FormatYAML})
	require.NoError(t, err)
	assert.Equal(t, "Petstore", doc.Info.Title)

	_, err = ReadFileOrURL(context.Background(), path, nil, ReadOptions{FallbackFormat: FormatJSON})
	assert.Error(t, err)
}

func TestReadURLWithHeadersAndCache(t *testing.T) {
	t.Setenv("OAS_MESH_SPEC_TOKEN", "s3cret")
	data, err := os.ReadFile("testdata/petstore.yaml")
	require.NoError(t, err)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	c := newCache(t)
	opts := ReadOptions{Headers: map[string]string{"Authorization": "Bearer {env.OAS_MESH_SPEC_TOKEN}"}}
	location := srv.URL + "/openapi.yaml"

	for i := 0; i < 2; i++ {
		doc, err := ReadFileOrURL(context.Background(), location, c, opts)
		require.NoError(t, err)
		assert.Equal(t, "Petstore", doc.Info.Title)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	Invalidate(context.Background(), c, location)
	_, err = ReadFileOrURL(context.Background(), location, c, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err = ReadFileOrURL(context.Background(), location, nil, ReadOptions{})
	assert.Error(t, err)
}

func TestParseRejectsUnknownDocuments(t *testing.T) {
	_, err := Parse(context.Background(), []byte(`{"hello": "world"}`), FormatJSON, "inline.json")
	assert.ErrorIs(t, err, ErrNotOpenAPI)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, Format("petstore.JSON", ""))
	assert.Equal(t, FormatYAML, Format("https://example.com/petstore.yml?x=1", ""))
	assert.Equal(t, FormatYAML, Format("petstore", "YAML"))
	assert.Equal(t, "", Format("petstore", ""))
}
