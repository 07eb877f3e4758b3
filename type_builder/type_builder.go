package typebuilder

import (
	"regexp"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/types"
	"openapi-mesh-handler/utils"
)

// HttpDetailsField is added to every object type when http details are requested.
const HttpDetailsField = "_openAPIToGraphQL"

var validName = regexp.MustCompile("^[_a-zA-Z][_a-zA-Z0-9]*$")

var reservedNames = []string{
	"Query", "Mutation", "Subscription",
	"String", "Int", "Float", "Boolean", "ID",
	"JSON", "HttpDetails",
}

// Builder translates OpenAPI schemas into graphql-go types. Types are cached
// by schema, so every $ref resolves to one GraphQL type and recursive
// schemas are built through field thunks.
type Builder struct {
	log                *zerolog.Logger
	includeHttpDetails bool

	objects map[*openapi3.Schema]*graphql.Object
	inputs  map[*openapi3.Schema]*graphql.InputObject
	enums   map[*openapi3.Schema]*graphql.Enum
	unions  map[*openapi3.Schema]*graphql.Union

	// names maps claimed type names to the schema owning them
	names map[string]*openapi3.Schema
	// renames maps input object names to graphql field name -> property name
	renames map[string]map[string]string

	httpDetails *graphql.Object
}

func New(log *zerolog.Logger, includeHttpDetails bool) *Builder {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	b := &Builder{
		log:                log,
		includeHttpDetails: includeHttpDetails,
		objects:            make(map[*openapi3.Schema]*graphql.Object),
		inputs:             make(map[*openapi3.Schema]*graphql.InputObject),
		enums:              make(map[*openapi3.Schema]*graphql.Enum),
		unions:             make(map[*openapi3.Schema]*graphql.Union),
		names:              make(map[string]*openapi3.Schema),
		renames:            make(map[string]map[string]string),
	}
	for _, name := range reservedNames {
		b.names[name] = nil
	}
	return b
}

func (b *Builder) CreateDataDefinition(schemaRef *openapi3.SchemaRef, schemaNames types.SchemaNames, path string, required bool) *types.DataDefinition {
	def := &types.DataDefinition{
		Path:          path,
		SchemaRef:     schemaRef,
		Names:         schemaNames,
		PreferredName: GetPreferredName(schemaNames),
		Required:      required,
	}
	if schemaRef != nil {
		def.Schema = schemaRef.Value
	}
	def.TargetGraphQLType = getTargetGraphqlType(def.Schema)

	switch def.TargetGraphQLType {
	case types.List:
		var items *openapi3.SchemaRef
		if def.Schema.Items != nil {
			items = def.Schema.Items
		}
		names := types.SchemaNames{
			FromPath: def.PreferredName + "ListItem",
		}
		if items != nil {
			names.FromRef = utils.GetRefName(items.Ref)
			if items.Value != nil {
				names.FromSchema = items.Value.Title
			}
		}
		def.ListItemDefinitions = b.CreateDataDefinition(items, names, path, false)
	case types.Union:
		members := append(openapi3.SchemaRefs{}, def.Schema.OneOf...)
		members = append(members, def.Schema.AnyOf...)
		for i, member := range members {
			names := types.SchemaNames{
				FromRef:  utils.GetRefName(member.Ref),
				FromPath: def.PreferredName + "Member" + utils.CastToString(i+1),
			}
			if member.Value != nil {
				names.FromSchema = member.Value.Title
			}
			memberDef := b.CreateDataDefinition(member, names, path, false)
			if memberDef.TargetGraphQLType != types.Object {
				b.log.Debug().Str("type", def.PreferredName).Msg("Union member is not an object, falling back to JSON")
				def.TargetGraphQLType = types.JSON
				def.UnionDefinitions = nil
				break
			}
			def.UnionDefinitions = append(def.UnionDefinitions, memberDef)
		}
	}

	b.AssignGraphQLTypeToDataDefinition(def)

	return def
}

func (b *Builder) AssignGraphQLTypeToDataDefinition(def *types.DataDefinition) {
	switch def.TargetGraphQLType {
	case types.List:
		def.GraphQLType = graphql.NewList(def.ListItemDefinitions.GraphQLType)
		def.InputGraphQLType = graphql.NewList(def.ListItemDefinitions.InputGraphQLType)
	case types.Object:
		def.GraphQLType = b.createOt(def)
		def.InputGraphQLType = b.createInputOt(def)
	case types.Union:
		def.GraphQLType = b.createUnion(def)
		def.InputGraphQLType = JSON
	case types.Enum:
		enum := b.createEnum(def)
		if enum == nil {
			def.TargetGraphQLType = types.String
			def.GraphQLType = graphql.String
			def.InputGraphQLType = graphql.String
		} else {
			def.GraphQLType = enum
			def.InputGraphQLType = enum
		}
	case types.String:
		def.GraphQLType = graphql.String
		def.InputGraphQLType = graphql.String
	case types.Integer:
		def.GraphQLType = graphql.Int
		def.InputGraphQLType = graphql.Int
	case types.Float:
		def.GraphQLType = graphql.Float
		def.InputGraphQLType = graphql.Float
	case types.Boolean:
		def.GraphQLType = graphql.Boolean
		def.InputGraphQLType = graphql.Boolean
	default:
		def.GraphQLType = JSON
		def.InputGraphQLType = JSON
	}

	if def.Required {
		def.GraphQLType = graphql.NewNonNull(def.GraphQLType)
		def.InputGraphQLType = graphql.NewNonNull(def.InputGraphQLType)
	}
}

func getTargetGraphqlType(schema *openapi3.Schema) int {
	if schema == nil {
		return types.JSON
	}
	switch {
	case len(schema.OneOf) > 0 || len(schema.AnyOf) > 0:
		return types.Union
	case len(schema.AllOf) > 0 || len(schema.Properties) > 0 || hasType(schema, "object"):
		if props, _ := collectProperties(schema); len(props) == 0 {
			return types.JSON
		}
		return types.Object
	case hasType(schema, "array"):
		return types.List
	case hasType(schema, "string"):
		if isStringEnum(schema) {
			return types.Enum
		}
		return types.String
	case hasType(schema, "integer"):
		// GraphQL Int is 32 bit
		if schema.Format == "int64" {
			return types.Float
		}
		return types.Integer
	case hasType(schema, "number"):
		return types.Float
	case hasType(schema, "boolean"):
		return types.Boolean
	}
	return types.JSON
}

func hasType(schema *openapi3.Schema, typ string) bool {
	if schema.Type == nil {
		return false
	}
	for _, t := range schema.Type.Slice() {
		if t == typ {
			return true
		}
	}
	return false
}

func isStringEnum(schema *openapi3.Schema) bool {
	if len(schema.Enum) == 0 {
		return false
	}
	for _, v := range schema.Enum {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

// collectProperties merges the properties and required lists of a schema and
// its allOf members.
func collectProperties(schema *openapi3.Schema) (openapi3.Schemas, []string) {
	props := openapi3.Schemas{}
	var required []string

	var walk func(s *openapi3.Schema, seen map[*openapi3.Schema]bool)
	walk = func(s *openapi3.Schema, seen map[*openapi3.Schema]bool) {
		if s == nil || seen[s] {
			return
		}
		seen[s] = true
		for name, prop := range s.Properties {
			props[name] = prop
		}
		required = append(required, s.Required...)
		for _, member := range s.AllOf {
			if member != nil {
				walk(member.Value, seen)
			}
		}
	}
	walk(schema, map[*openapi3.Schema]bool{})

	return props, required
}

func sortedNames(props openapi3.Schemas) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldName keeps a property name when it is already a valid GraphQL name.
func FieldName(name string) string {
	if validName.MatchString(name) {
		return name
	}
	return utils.ToFieldName(name)
}

func (b *Builder) claimName(preferred string, schema *openapi3.Schema) string {
	name := preferred
	for i := 2; ; i++ {
		owner, taken := b.names[name]
		if !taken {
			b.names[name] = schema
			return name
		}
		if owner == schema && schema != nil {
			return name
		}
		name = preferred + utils.CastToString(i)
	}
}

func (b *Builder) propertyDefinitions(def *types.DataDefinition) map[string]*types.DataDefinition {
	if def.ObjectPropertiesDefinitions != nil {
		return def.ObjectPropertiesDefinitions
	}
	props, required := collectProperties(def.Schema)
	objectDefinitions := make(map[string]*types.DataDefinition, len(props))
	for _, fieldName := range sortedNames(props) {
		value := props[fieldName]
		names := types.SchemaNames{
			FromRef:  utils.GetRefName(value.Ref),
			FromPath: def.PreferredName + utils.ToPascalCase(fieldName),
		}
		if value.Value != nil {
			names.FromSchema = value.Value.Title
		}
		objectDefinitions[fieldName] = b.CreateDataDefinition(value, names, def.Path, utils.Contains(required, fieldName))
	}
	def.ObjectPropertiesDefinitions = objectDefinitions
	return objectDefinitions
}

func (b *Builder) createOt(def *types.DataDefinition) *graphql.Object {
	if ot, ok := b.objects[def.Schema]; ok {
		return ot
	}

	name := b.claimName(def.PreferredName, def.Schema)
	ot := graphql.NewObject(graphql.ObjectConfig{
		Name:        name,
		Description: def.Schema.Description,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for propName, p := range b.propertyDefinitions(def) {
				field := &graphql.Field{
					Type:        p.GraphQLType,
					Name:        FieldName(propName),
					Description: schemaDescription(p.Schema),
				}
				if field.Name != propName {
					field.Resolve = propertyResolver(propName)
				}
				fields[field.Name] = field
			}
			if b.includeHttpDetails {
				fields[HttpDetailsField] = &graphql.Field{
					Type:        b.HttpDetailsType(),
					Description: "HTTP details of the request that produced this object.",
					Resolve:     propertyResolver(HttpDetailsField),
				}
			}
			return fields
		}),
	})
	b.objects[def.Schema] = ot
	return ot
}

func (b *Builder) createInputOt(def *types.DataDefinition) *graphql.InputObject {
	if it, ok := b.inputs[def.Schema]; ok {
		return it
	}

	name := b.claimName(def.PreferredName+"Input", def.Schema)
	renames := make(map[string]string)
	b.renames[name] = renames
	it := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        name,
		Description: def.Schema.Description,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for propName, p := range b.propertyDefinitions(def) {
				if p.Schema != nil && p.Schema.ReadOnly {
					continue
				}
				fieldName := FieldName(propName)
				renames[fieldName] = propName
				fields[fieldName] = &graphql.InputObjectFieldConfig{
					Type:        p.InputGraphQLType,
					Description: schemaDescription(p.Schema),
				}
			}
			return fields
		}),
	})
	b.inputs[def.Schema] = it
	return it
}

func (b *Builder) createEnum(def *types.DataDefinition) *graphql.Enum {
	if enum, ok := b.enums[def.Schema]; ok {
		return enum
	}

	values := graphql.EnumValueConfigMap{}
	for _, v := range def.Schema.Enum {
		value := v.(string)
		key := utils.Sanitize(value)
		if _, dup := values[key]; dup || key == "true" || key == "false" || key == "null" {
			b.log.Debug().Str("type", def.PreferredName).Str("value", value).Msg("Enum value cannot be represented, using String")
			return nil
		}
		values[key] = &graphql.EnumValueConfig{Value: value}
	}

	enum := graphql.NewEnum(graphql.EnumConfig{
		Name:        b.claimName(def.PreferredName, def.Schema),
		Description: def.Schema.Description,
		Values:      values,
	})
	b.enums[def.Schema] = enum
	return enum
}

func (b *Builder) createUnion(def *types.DataDefinition) *graphql.Union {
	if union, ok := b.unions[def.Schema]; ok {
		return union
	}

	members := make([]*graphql.Object, 0, len(def.UnionDefinitions))
	memberProps := make([][]string, 0, len(def.UnionDefinitions))
	for _, memberDef := range def.UnionDefinitions {
		members = append(members, b.createOt(memberDef))
		props, _ := collectProperties(memberDef.Schema)
		memberProps = append(memberProps, sortedNames(props))
	}

	union := graphql.NewUnion(graphql.UnionConfig{
		Name:        b.claimName(def.PreferredName, def.Schema),
		Description: def.Schema.Description,
		Types:       members,
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			value, ok := p.Value.(map[string]interface{})
			if !ok {
				return members[0]
			}
			best, bestScore := 0, -1
			for i, props := range memberProps {
				score := 0
				for _, prop := range props {
					if _, ok := value[prop]; ok {
						score++
					}
				}
				if score > bestScore {
					best, bestScore = i, score
				}
			}
			return members[best]
		},
	})
	b.unions[def.Schema] = union
	return union
}

// HttpDetailsType is the object exposed under HttpDetailsField.
func (b *Builder) HttpDetailsType() *graphql.Object {
	if b.httpDetails == nil {
		b.httpDetails = graphql.NewObject(graphql.ObjectConfig{
			Name: "HttpDetails",
			Fields: graphql.Fields{
				"status":     &graphql.Field{Type: graphql.Int},
				"statusText": &graphql.Field{Type: graphql.String},
				"url":        &graphql.Field{Type: graphql.String},
				"method":     &graphql.Field{Type: graphql.String},
				"headers":    &graphql.Field{Type: JSON},
			},
		})
	}
	return b.httpDetails
}

// RestoreInput renames GraphQL input fields back to their OpenAPI property
// names. Null fields are dropped.
func (b *Builder) RestoreInput(t graphql.Input, value interface{}) interface{} {
	switch typ := t.(type) {
	case *graphql.NonNull:
		return b.RestoreInput(typ.OfType, value)
	case *graphql.List:
		items, ok := value.([]interface{})
		if !ok {
			return value
		}
		restored := make([]interface{}, len(items))
		for i, item := range items {
			restored[i] = b.RestoreInput(typ.OfType, item)
		}
		return restored
	case *graphql.InputObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		fields := typ.Fields()
		renames := b.renames[typ.Name()]
		restored := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			if v == nil {
				continue
			}
			name := k
			if original, ok := renames[k]; ok {
				name = original
			}
			if field, ok := fields[k]; ok {
				v = b.RestoreInput(field.Type, v)
			}
			restored[name] = v
		}
		return restored
	}
	return value
}

func propertyResolver(property string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if source, ok := p.Source.(map[string]interface{}); ok {
			return source[property], nil
		}
		return nil, nil
	}
}

func schemaDescription(schema *openapi3.Schema) string {
	if schema == nil {
		return ""
	}
	return schema.Description
}

func GetPreferredName(names types.SchemaNames) string {
	preferredName := ""

	if len(names.FromRef) > 0 {
		preferredName = names.FromRef
	} else if len(names.FromSchema) > 0 {
		preferredName = names.FromSchema
	} else if len(names.FromPath) > 0 {
		preferredName = names.FromPath
	}

	return utils.ToTypeName(preferredName)
}
