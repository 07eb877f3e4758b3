package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"

	"openapi-mesh-handler/types"
)

// EnvPrefix prefixes environment overrides, e.g. OAS_MESH_SERVER_ADDR.
const EnvPrefix = "OAS_MESH"

var sourceName = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// SelectQueryOrMutationField forces the operation type of one operation.
type SelectQueryOrMutationField struct {
	Title  string `json:"title"`
	Path   string `json:"path"`
	Method string `json:"method"`
	// Type is "Query" or "Mutation".
	Type string `json:"type"`
}

// OpenapiHandler configures one OpenAPI source.
type OpenapiHandler struct {
	// Source is a file path or an http(s) URL of the document.
	Source string `json:"source"`
	// SourceFormat is used when the source has no .json/.yaml/.yml extension.
	SourceFormat string `json:"sourceFormat,omitempty"`
	// OperationHeaders are sent with every upstream call. Values are templates.
	OperationHeaders map[string]string `json:"operationHeaders,omitempty"`
	// SchemaHeaders are sent when the document is fetched from a URL.
	SchemaHeaders map[string]string `json:"schemaHeaders,omitempty"`
	// BaseUrl overrides the server of the document. It is a template.
	BaseUrl string `json:"baseUrl,omitempty"`
	// QS are query parameters added to every upstream call. Values are templates.
	QS map[string]string `json:"qs,omitempty"`
	// CustomFetch names a fetcher registered with fetch.Register.
	CustomFetch                string                       `json:"customFetch,omitempty"`
	IncludeHttpDetails         bool                         `json:"includeHttpDetails,omitempty"`
	AddLimitArgument           *bool                        `json:"addLimitArgument,omitempty"`
	GenericPayloadArgName      *bool                        `json:"genericPayloadArgName,omitempty"`
	SelectQueryOrMutationField []SelectQueryOrMutationField `json:"selectQueryOrMutationField,omitempty"`
}

// LimitArgument defaults to true.
func (h OpenapiHandler) LimitArgument() bool {
	return h.AddLimitArgument == nil || *h.AddLimitArgument
}

// GenericPayloadArg defaults to false.
func (h OpenapiHandler) GenericPayloadArg() bool {
	return h.GenericPayloadArgName != nil && *h.GenericPayloadArgName
}

func (h OpenapiHandler) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(h.Source) == "" {
		result = multierror.Append(result, errors.New("source is required"))
	}
	switch strings.ToLower(h.SourceFormat) {
	case "", "json", "yaml":
	default:
		result = multierror.Append(result, errors.Errorf("sourceFormat must be json or yaml, got %q", h.SourceFormat))
	}
	for i, field := range h.SelectQueryOrMutationField {
		if field.Path == "" {
			result = multierror.Append(result, errors.Errorf("selectQueryOrMutationField[%d]: path is required", i))
		}
		if !types.IsHttpMethod(field.Method) {
			result = multierror.Append(result, errors.Errorf("selectQueryOrMutationField[%d]: unknown method %q", i, field.Method))
		}
		if t, err := types.ParseOperationType(field.Type); err != nil || t == types.Subscription {
			result = multierror.Append(result, errors.Errorf("selectQueryOrMutationField[%d]: type must be Query or Mutation, got %q", i, field.Type))
		}
	}

	return result.ErrorOrNil()
}

type Handler struct {
	Openapi *OpenapiHandler `json:"openapi,omitempty"`
}

type Source struct {
	Name    string  `json:"name"`
	Handler Handler `json:"handler"`
}

type Server struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	LogLevel string `json:"logLevel" mapstructure:"logLevel"`
	// Watch reloads a source when its local document changes.
	Watch     bool `json:"watch" mapstructure:"watch"`
	CacheSize int  `json:"cacheSize" mapstructure:"cacheSize"`
	// ForwardOAuthToken passes the bearer token of the GraphQL request to
	// the upstream as access_token query parameter.
	ForwardOAuthToken bool `json:"forwardOAuthToken" mapstructure:"forwardOAuthToken"`

	HandlerCfg struct {
		Pretty     bool `json:"pretty" mapstructure:"pretty"`
		Playground bool `json:"playground" mapstructure:"playground"`
		GraphiQL   bool `json:"graphiql" mapstructure:"graphiql"`
	} `json:"handler" mapstructure:"handler"`

	Cors struct {
		Enabled        bool   `json:"enabled" mapstructure:"enabled"`
		AllowedOrigins string `json:"allowedOrigins" mapstructure:"allowedOrigins"`
		AllowedHeaders string `json:"allowedHeaders" mapstructure:"allowedHeaders"`
	} `json:"cors" mapstructure:"cors"`
}

type Config struct {
	Sources []Source `json:"sources"`
	Server  Server   `json:"server"`
}

// NewViper returns a viper instance with the server defaults and
// OAS_MESH_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.addr", ":4000")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.watch", false)
	v.SetDefault("server.cacheSize", 1024)
	v.SetDefault("server.forwardOAuthToken", false)
	v.SetDefault("server.handler.pretty", true)
	v.SetDefault("server.handler.playground", false)
	v.SetDefault("server.handler.graphiql", true)
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("server.cors.allowedOrigins", "*")
	v.SetDefault("server.cors.allowedHeaders", "*")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path. Server settings go through v, so
// environment variables and bound flags win over the file. Sources are
// decoded case-sensitively, header names and query keys keep their case.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}

		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var settings struct {
		Server Server `mapstructure:"server"`
	}
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode server config")
	}
	cfg.Server = settings.Server

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if len(c.Sources) == 0 {
		result = multierror.Append(result, errors.New("at least one source is required"))
	}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if !sourceName.MatchString(s.Name) {
			result = multierror.Append(result, errors.Errorf("sources[%d]: invalid name %q", i, s.Name))
		}
		if seen[s.Name] {
			result = multierror.Append(result, errors.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		if s.Handler.Openapi == nil {
			result = multierror.Append(result, errors.Errorf("sources[%d]: handler.openapi is required", i))
			continue
		}
		if err := s.Handler.Openapi.Validate(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "sources[%d]", i))
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Server.LogLevel)); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "server.logLevel"))
	}

	return result.ErrorOrNil()
}
