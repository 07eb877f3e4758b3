package oas_utils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"openapi-mesh-handler/utils"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeText = "text/plain"
	ContentTypeHTML = "text/html"
)

type Body struct {
	ContentType string
	Data        interface{}
}

func (b *Body) Encode() (io.Reader, error) {
	switch {
	case strings.HasPrefix(b.ContentType, ContentTypeForm):
		values := url.Values{}
		utils.Serialize(values, b.Data, "")
		return strings.NewReader(values.Encode()), nil
	case strings.HasPrefix(b.ContentType, "text/"):
		return strings.NewReader(utils.CastToString(b.Data)), nil
	default:
		jsonStr, err := json.Marshal(b.Data)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(jsonStr), nil
	}
}

// IsJSONContentType matches application/json as well as vendor types like
// application/problem+json.
func IsJSONContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}
