package oas_utils

import (
	"io"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyEncode(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        interface{}
		want        string
	}{
		{"json", ContentTypeJSON, map[string]interface{}{"name": "cat"}, `{"name":"cat"}`},
		{"form", ContentTypeForm, map[string]interface{}{"name": "cat", "tag": "cute"}, "name=cat&tag=cute"},
		{"text", ContentTypeText, "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := Body{ContentType: tt.contentType, Data: tt.data}
			reader, err := body.Encode()
			require.NoError(t, err)
			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestIsJSONContentType(t *testing.T) {
	assert.True(t, IsJSONContentType("application/json; charset=utf-8"))
	assert.True(t, IsJSONContentType("application/problem+json"))
	assert.False(t, IsJSONContentType("text/plain"))
}

func TestGetSuccessResponse(t *testing.T) {
	description := "created"
	responses := openapi3.NewResponses(
		openapi3.WithStatus(404, &openapi3.ResponseRef{Value: openapi3.NewResponse()}),
		openapi3.WithStatus(201, &openapi3.ResponseRef{Value: &openapi3.Response{Description: &description}}),
	)

	code, response, err := GetSuccessResponse(responses)
	require.NoError(t, err)
	assert.Equal(t, "201", code)
	assert.Equal(t, &description, response.Description)

	_, _, err = GetSuccessResponse(openapi3.NewResponses(
		openapi3.WithStatus(500, &openapi3.ResponseRef{Value: openapi3.NewResponse()}),
	))
	assert.ErrorIs(t, err, ErrNoSuccessResponse)
}

func TestGetResponseContent(t *testing.T) {
	response := openapi3.NewResponse().WithContent(openapi3.Content{
		"text/plain":               openapi3.NewMediaType(),
		"application/problem+json": openapi3.NewMediaType(),
	})
	contentType, media := GetResponseContent(response)
	assert.Equal(t, "application/problem+json", contentType)
	assert.NotNil(t, media)

	contentType, media = GetResponseContent(openapi3.NewResponse())
	assert.Empty(t, contentType)
	assert.Nil(t, media)
}

func TestGetServerUrl(t *testing.T) {
	doc := &openapi3.T{Servers: openapi3.Servers{
		{URL: ""},
		{
			URL: "http://{host}:3000/v1/",
			Variables: map[string]*openapi3.ServerVariable{
				"host": {Default: "localhost"},
			},
		},
	}}
	got, err := GetServerUrl(doc)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/v1", got)

	_, err = GetServerUrl(&openapi3.T{})
	assert.ErrorIs(t, err, ErrNoServerURL)
}
