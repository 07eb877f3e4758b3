// Package interpolation renders "{scope.path}" templates against the data a
// resolver sees: {args.id}, {context.token}, {root.owner.id}, {info.fieldName}
// and {env.HOME}.
package interpolation

import (
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"

	"openapi-mesh-handler/utils"
)

var keyPattern = regexp.MustCompile(`\{\s*([^{}\s]+)\s*\}`)

// ResolverData is what a template can reference.
type ResolverData struct {
	Root    interface{}
	Args    map[string]interface{}
	Context map[string]interface{}
	Info    graphql.ResolveInfo
	// Env overrides the process environment when set.
	Env map[string]string
}

// Factory renders a template for one resolver call.
type Factory func(data ResolverData) string

// HeadersFactory renders a set of header templates for one resolver call.
type HeadersFactory func(data ResolverData) http.Header

// GetInterpolationKeys returns the keys referenced by s in order of appearance.
func GetInterpolationKeys(s string) []string {
	var keys []string
	for _, match := range keyPattern.FindAllStringSubmatch(s, -1) {
		keys = append(keys, match[1])
	}
	return keys
}

// ParseInterpolationStrings collects the GraphQL arguments ({args.x}) and
// context variables ({context.x}) a set of templates depends on. Arguments
// are typed as ID.
func ParseInterpolationStrings(interpolationStrings []string) (graphql.FieldConfigArgument, []string) {
	args := graphql.FieldConfigArgument{}
	var contextVariables []string
	seen := make(map[string]bool)

	for _, str := range interpolationStrings {
		for _, key := range GetInterpolationKeys(str) {
			parts := strings.Split(key, ".")
			varName := parts[len(parts)-1]
			switch parts[0] {
			case "args":
				args[varName] = &graphql.ArgumentConfig{Type: graphql.ID}
			case "context":
				if !seen[varName] {
					seen[varName] = true
					contextVariables = append(contextVariables, varName)
				}
			}
		}
	}
	return args, contextVariables
}

// Interpolate replaces every key in template. Unknown keys render empty.
func Interpolate(template string, data ResolverData) string {
	return keyPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := keyPattern.FindStringSubmatch(match)[1]
		return utils.CastToString(lookup(key, data))
	})
}

// StringFactory returns a Factory for template. Templates without keys
// render to themselves without scanning.
func StringFactory(template string) Factory {
	if !keyPattern.MatchString(template) {
		return func(ResolverData) string {
			return template
		}
	}
	return func(data ResolverData) string {
		return Interpolate(template, data)
	}
}

// NewHeadersFactory builds one Factory per header. Headers rendering to an
// empty value are left out.
func NewHeadersFactory(headers map[string]string) HeadersFactory {
	names := make([]string, 0, len(headers))
	factories := make(map[string]Factory, len(headers))
	for name, template := range headers {
		names = append(names, name)
		factories[name] = StringFactory(template)
	}
	sort.Strings(names)

	return func(data ResolverData) http.Header {
		h := http.Header{}
		for _, name := range names {
			if value := factories[name](data); value != "" {
				h.Set(name, value)
			}
		}
		return h
	}
}

func lookup(key string, data ResolverData) interface{} {
	parts := strings.Split(key, ".")
	var current interface{}

	switch parts[0] {
	case "args":
		current = data.Args
	case "context":
		current = data.Context
	case "root":
		current = data.Root
	case "info":
		current = map[string]interface{}{
			"fieldName": data.Info.FieldName,
		}
	case "env":
		if len(parts) != 2 {
			return nil
		}
		if data.Env != nil {
			return data.Env[parts[1]]
		}
		return os.Getenv(parts[1])
	default:
		return nil
	}

	for _, part := range parts[1:] {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case map[string]string:
			current = v[part]
		case http.Header:
			current = v.Get(part)
		default:
			return nil
		}
	}
	return current
}
