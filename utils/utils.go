package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/gertd/go-pluralize"
	"github.com/gobuffalo/flect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	wordSeparator = regexp.MustCompile("[^_a-zA-Z0-9]+")
	nonNameChars  = regexp.MustCompile("[^_a-zA-Z0-9]")
	pathParameter = regexp.MustCompile(`^\{.*\}$`)

	plural = pluralize.NewClient()
)

func Contains(strings []string, str string) bool {
	for _, s := range strings {
		if s == str {
			return true
		}
	}
	return false
}

func GetRefName(ref string) string {
	arr := strings.Split(ref, "/")

	return arr[len(arr)-1]
}

func words(s string) []string {
	return strings.FieldsFunc(wordSeparator.ReplaceAllString(s, " "), unicode.IsSpace)
}

// ToPascalCase upper-cases the first letter of every word and drops separators.
// Letters inside a word keep their case, so "findPetById" stays recognizable.
func ToPascalCase(s string) string {
	// a Caser keeps state, so it is not shared between calls
	titleCaser := cases.Title(language.Und, cases.NoLower)
	var g []string
	for _, w := range words(s) {
		g = append(g, titleCaser.String(w))
	}
	return strings.Join(g, "")
}

func ToCamelCase(s string) string {
	return lowerFirst(ToPascalCase(s))
}

// ToFieldName turns an arbitrary string (operationId, parameter or property
// name) into a valid GraphQL field or argument name.
func ToFieldName(s string) string {
	return validName(ToCamelCase(s))
}

// ToTypeName turns a schema, ref or path derived name into a valid GraphQL type name.
func ToTypeName(s string) string {
	joined := strings.Join(words(s), "_")
	return validName(nonNameChars.ReplaceAllString(flect.Pascalize(joined), ""))
}

// Sanitize strips everything that is not allowed in a GraphQL name.
func Sanitize(s string) string {
	return validName(nonNameChars.ReplaceAllString(s, ""))
}

func validName(s string) string {
	if s == "" {
		return "_"
	}
	if unicode.IsDigit(rune(s[0])) {
		return "_" + s
	}
	return s
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// InferResourceNameFromPath builds a name out of the static path segments,
// singularizing a segment when a path parameter follows it:
// "/users/{id}/cars" -> "UserCars".
func InferResourceNameFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var name []string
	for i, part := range parts {
		if part == "" || pathParameter.MatchString(part) {
			continue
		}
		if i+1 < len(parts) && pathParameter.MatchString(parts[i+1]) {
			part = plural.Singular(part)
		}
		name = append(name, ToPascalCase(part))
	}
	return strings.Join(name, "")
}

// Serialize flattens data into values under key. Arrays repeat the key,
// objects use the deepObject notation key[property].
func Serialize(values url.Values, data interface{}, key string) {
	switch v := data.(type) {
	case nil:
		return
	case []interface{}:
		for _, item := range v {
			Serialize(values, item, key)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			newKey := k
			if key != "" {
				newKey = key + "[" + k + "]"
			}
			Serialize(values, v[k], newKey)
		}
	default:
		values.Add(key, CastToString(v))
	}
}

// CastToString converts a scalar argument value to its string representation.
func CastToString(s interface{}) string {
	switch v := s.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, CastToString(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
