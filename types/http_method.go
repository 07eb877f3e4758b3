package types

import (
	"errors"
	"reflect"
	"strings"
)

var HttpMethod = newHttpMethodRegistry()

func newHttpMethodRegistry() *httpMethodRegistry {
	return &httpMethodRegistry{
		Get:     "GET",
		Post:    "POST",
		Put:     "PUT",
		Patch:   "PATCH",
		Delete:  "DELETE",
		Head:    "HEAD",
		Options: "OPTIONS",
	}
}

type httpMethodRegistry struct {
	Get     string
	Post    string
	Put     string
	Patch   string
	Delete  string
	Head    string
	Options string
}

// HttpMethodsList returns the registry keys in declaration order.
func HttpMethodsList() []string {
	var keys []string

	val := reflect.ValueOf(HttpMethod).Elem()
	for i := 0; i < val.NumField(); i++ {
		keys = append(keys, val.Type().Field(i).Name)
	}

	return keys
}

func GetHttpMethod(key string) (string, error) {
	field := reflect.Indirect(reflect.ValueOf(HttpMethod)).FieldByName(key)
	if !field.IsValid() {
		return "", errors.New("method " + key + " not found.")
	}
	method, ok := field.Interface().(string)
	if ok {
		return method, nil
	}
	return "", errors.New("method " + key + " not found.")
}

// IsHttpMethod reports whether method (any case) is a known HTTP method.
func IsHttpMethod(method string) bool {
	upper := strings.ToUpper(method)
	for _, key := range HttpMethodsList() {
		if m, _ := GetHttpMethod(key); m == upper {
			return true
		}
	}
	return false
}
