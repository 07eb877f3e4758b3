package interpolation

import (
	"net/http"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInterpolationKeys(t *testing.T) {
	assert.Equal(t, []string{"context.token", "args.id"}, GetInterpolationKeys("Bearer {context.token} for { args.id }"))
	assert.Empty(t, GetInterpolationKeys("no keys"))
}

func TestParseInterpolationStrings(t *testing.T) {
	args, contextVariables := ParseInterpolationStrings([]string{
		"Bearer {context.token}",
		"{args.tenantId}",
		"{context.token}-{context.user.id}",
		"{env.HOME}",
	})

	require.Contains(t, args, "tenantId")
	assert.Equal(t, graphql.ID, args["tenantId"].Type)
	assert.Len(t, args, 1)
	assert.Equal(t, []string{"token", "id"}, contextVariables)
}

func TestInterpolate(t *testing.T) {
	data := ResolverData{
		Root: map[string]interface{}{"owner": map[string]interface{}{"id": 7}},
		Args: map[string]interface{}{"id": "42", "limit": 10},
		Context: map[string]interface{}{
			"token":   "secret",
			"headers": http.Header{"X-Tenant": []string{"acme"}},
		},
		Info: graphql.ResolveInfo{FieldName: "findPets"},
		Env:  map[string]string{"API_HOST": "api.local"},
	}

	tests := []struct {
		template string
		want     string
	}{
		{"Bearer {context.token}", "Bearer secret"},
		{"https://{env.API_HOST}/v1", "https://api.local/v1"},
		{"/pets/{args.id}?limit={args.limit}", "/pets/42?limit=10"},
		{"{root.owner.id}", "7"},
		{"{info.fieldName}", "findPets"},
		{"{context.headers.x-tenant}", "acme"},
		{"{context.missing}", ""},
		{"{unknown.scope}", ""},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, StringFactory(tt.template)(data))
		})
	}
}

func TestInterpolateProcessEnv(t *testing.T) {
	t.Setenv("OAS_MESH_TEST_VALUE", "from-env")
	assert.Equal(t, "from-env", Interpolate("{env.OAS_MESH_TEST_VALUE}", ResolverData{}))
}

func TestHeadersFactory(t *testing.T) {
	factory := NewHeadersFactory(map[string]string{
		"Authorization": "Bearer {context.token}",
		"X-Static":      "static",
		"X-Empty":       "{context.missing}",
	})

	h := factory(ResolverData{Context: map[string]interface{}{"token": "abc"}})
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
	assert.Equal(t, "static", h.Get("X-Static"))
	_, ok := h["X-Empty"]
	assert.False(t, ok)
}
