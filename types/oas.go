package types

import (
	"errors"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
)

type OperationType int

const (
	Query OperationType = iota
	Mutation
	Subscription
)

func (t OperationType) String() string {
	switch t {
	case Mutation:
		return "Mutation"
	case Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// ParseOperationType accepts "Query", "Mutation" or "Subscription" in any case.
func ParseOperationType(s string) (OperationType, error) {
	switch strings.ToLower(s) {
	case "query":
		return Query, nil
	case "mutation":
		return Mutation, nil
	case "subscription":
		return Subscription, nil
	}
	return Query, errors.New("unknown operation type " + s)
}

// Target GraphQL kinds a schema is translated to.
const (
	Unknown = iota
	Object
	List
	String
	Integer
	Float
	Boolean
	Enum
	Union
	JSON
)

type RequestBodyDefinition struct {
	ContentType    string
	ArgumentName   string
	Required       bool
	DataDefinition *DataDefinition
}

type RequestContent struct {
	ContentType string
	Content     openapi3.MediaType
}

type DataDefinition struct {
	Path                        string
	SchemaRef                   *openapi3.SchemaRef
	Schema                      *openapi3.Schema
	Names                       SchemaNames
	PreferredName               string
	TargetGraphQLType           int
	Required                    bool
	ObjectPropertiesDefinitions map[string]*DataDefinition
	ListItemDefinitions         *DataDefinition
	UnionDefinitions            []*DataDefinition
	GraphQLType                 graphql.Output
	InputGraphQLType            graphql.Input
}

type SchemaNames struct {
	FromRef    string
	FromSchema string
	FromPath   string
}
