package scim

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/dhawalhost/scimbridge/internal/schema"
)

// Config configures one SCIM connector session.
type Config struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Token   string `mapstructure:"token" validate:"required"`
	// PathPrefix is joined to BaseURL for the resource endpoints.
	PathPrefix string `mapstructure:"path_prefix"`
	UserAgent  string `mapstructure:"user_agent"`

	HTTPProxyHost     string `mapstructure:"http_proxy_host" validate:"omitempty,hostname|ip"`
	HTTPProxyPort     int    `mapstructure:"http_proxy_port" validate:"omitempty,min=1,max=65535"`
	HTTPProxyUser     string `mapstructure:"http_proxy_user"`
	HTTPProxyPassword string `mapstructure:"http_proxy_password"`

	DefaultQueryPageSize int           `mapstructure:"default_query_page_size" validate:"min=1"`
	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout" validate:"min=0"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IgnoreGroups holds group display names skipped by membership searches.
	// Matching is case-insensitive.
	IgnoreGroups                []string `mapstructure:"ignore_groups"`
	UniqueCheckGroupDisplayName bool     `mapstructure:"unique_check_group_display_name"`

	UserStartIndexFromZero  bool `mapstructure:"user_start_index_from_zero"`
	GroupStartIndexFromZero bool `mapstructure:"group_start_index_from_zero"`

	// EmptyValuePolicy is "empty-string" or "remove".
	EmptyValuePolicy string `mapstructure:"empty_value_policy" validate:"omitempty,oneof=empty-string empty_string remove"`

	RateLimit    float64       `mapstructure:"rate_limit" validate:"min=0"`
	RateBurst    int           `mapstructure:"rate_burst" validate:"min=0"`
	RetryMax     int           `mapstructure:"retry_max" validate:"min=0"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`

	ignoreGroups schema.Set
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		PathPrefix:                  "/scim/v2",
		UserAgent:                   "scimbridge",
		HTTPProxyPort:               3128,
		DefaultQueryPageSize:        50,
		ConnectionTimeout:           10 * time.Second,
		ReadTimeout:                 10 * time.Second,
		WriteTimeout:                10 * time.Second,
		UniqueCheckGroupDisplayName: true,
		EmptyValuePolicy:            "empty-string",
		RetryWaitMin:                500 * time.Millisecond,
		RetryWaitMax:                5 * time.Second,
	}
}

// DecodeConfig reads connector settings over the defaults and validates the result.
func DecodeConfig(settings map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(settings); err != nil {
		return Config{}, fmt.Errorf("decode scim settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PathPrefix != "" && !strings.HasPrefix(c.PathPrefix, "/") {
		c.PathPrefix = "/" + c.PathPrefix
	}
	c.PathPrefix = strings.TrimRight(c.PathPrefix, "/")

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid scim config: %w", err)
	}
	if _, err := c.emptyValuePolicy(); err != nil {
		return err
	}

	c.ignoreGroups = schema.NewSet()
	for _, g := range c.IgnoreGroups {
		if g = strings.TrimSpace(g); g != "" {
			c.ignoreGroups.Add(strings.ToLower(g))
		}
	}
	return nil
}

// IgnoredGroup reports whether displayName is listed in IgnoreGroups.
func (c *Config) IgnoredGroup(displayName string) bool {
	return c.ignoreGroups.Has(strings.ToLower(displayName))
}

func (c *Config) emptyValuePolicy() (schema.EmptyValuePolicy, error) {
	return schema.ParseEmptyValuePolicy(c.EmptyValuePolicy)
}
