package oas_utils

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

var (
	ErrNoSuccessResponse = errors.New("success status code not found")
	ErrNoServerURL       = errors.New("server URL not found")
)

// GetSuccessResponse returns the lowest 2xx response, falling back to "2XX"
// and "default".
func GetSuccessResponse(responses *openapi3.Responses) (string, *openapi3.Response, error) {
	if responses == nil {
		return "", nil, ErrNoSuccessResponse
	}
	codes := make([]string, 0, responses.Len())
	for code := range responses.Map() {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, codeStr := range codes {
		response := responses.Value(codeStr)
		code, err := strconv.Atoi(codeStr)
		if err == nil && code >= 200 && code < 300 && response != nil && response.Value != nil {
			return codeStr, response.Value, nil
		}
	}
	for _, fallback := range []string{"2XX", "2xx", "default"} {
		if response := responses.Value(fallback); response != nil && response.Value != nil {
			return fallback, response.Value, nil
		}
	}
	return "", nil, ErrNoSuccessResponse
}

// GetResponseContent picks the media type the resolver knows how to decode.
// The returned content type is empty when the response has no body.
func GetResponseContent(response *openapi3.Response) (string, *openapi3.MediaType) {
	if response == nil || len(response.Content) == 0 {
		return "", nil
	}
	if content, ok := response.Content[ContentTypeJSON]; ok && content != nil {
		return ContentTypeJSON, content
	}
	for _, name := range sortedKeys(response.Content) {
		if IsJSONContentType(name) && response.Content[name] != nil {
			return name, response.Content[name]
		}
	}
	for _, name := range []string{ContentTypeText, ContentTypeHTML} {
		if content, ok := response.Content[name]; ok && content != nil {
			return name, content
		}
	}
	name := sortedKeys(response.Content)[0]
	return name, response.Content[name]
}

// GetRequestContent prefers JSON, then form encoded bodies.
func GetRequestContent(request *openapi3.RequestBody) (string, *openapi3.MediaType, error) {
	if request == nil {
		return "", nil, errors.New("request body not found")
	}
	for _, name := range []string{ContentTypeJSON, ContentTypeForm} {
		if content, ok := request.Content[name]; ok && content != nil {
			return name, content, nil
		}
	}
	for _, name := range sortedKeys(request.Content) {
		if IsJSONContentType(name) || strings.HasPrefix(name, "text/") {
			return name, request.Content[name], nil
		}
	}
	return "", nil, errors.New("request content not found")
}

// GetServerUrl returns the first server URL with its variables replaced by
// their defaults.
func GetServerUrl(oas *openapi3.T) (string, error) {
	for _, s := range oas.Servers {
		if s == nil || len(s.URL) == 0 {
			continue
		}
		serverURL := s.URL
		for name, variable := range s.Variables {
			if variable != nil {
				serverURL = strings.ReplaceAll(serverURL, "{"+name+"}", variable.Default)
			}
		}
		return strings.TrimSuffix(serverURL, "/"), nil
	}
	return "", ErrNoServerURL
}

func sortedKeys(content openapi3.Content) []string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
