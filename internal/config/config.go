package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/PaulFidika/jwtverify/core"
	oidckit "github.com/PaulFidika/jwtverify/oidc"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. JWTVERIFY_LOG_LEVEL.
const EnvPrefix = "JWTVERIFY"

// Issuer is one trusted issuer as written in the config file. Either Issuer
// or CognitoUserPoolID identifies it.
type Issuer struct {
	Issuer            string   `mapstructure:"issuer" validate:"required_without=CognitoUserPoolID"`
	CognitoUserPoolID string   `mapstructure:"cognito_user_pool_id"`
	JWKSURI           string   `mapstructure:"jwks_uri" validate:"omitempty,url"`
	Audience          []string `mapstructure:"audience"`
	SkipAudience      bool     `mapstructure:"skip_audience"`
	TokenUse          string   `mapstructure:"token_use" validate:"omitempty,oneof=access id"`
	Groups            []string `mapstructure:"groups"`
	Scopes            []string `mapstructure:"scopes"`
}

// Config holds jwtverify configuration loaded from a config file and
// environment variables.
type Config struct {
	Issuers []Issuer `mapstructure:"issuers" validate:"required,min=1,dive"`

	ClockSkew       time.Duration `mapstructure:"clock_skew" default:"0s" validate:"gte=0"`
	Cooldown        time.Duration `mapstructure:"cooldown" default:"10s" validate:"gt=0"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" default:"3s" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" default:"1500ms" validate:"gt=0"`
	RefreshSchedule string        `mapstructure:"refresh_schedule" default:"@every 10m"`

	// RedisURL enables the shared cooldown when set.
	RedisURL    string `secret:"true" mapstructure:"redis_url" validate:"omitempty,url"`
	PreseedFile string `mapstructure:"preseed_file"`

	ListenAddr string `mapstructure:"listen_addr" default:":8080" validate:"required"`

	// Logging
	LogLevel string `mapstructure:"log_level" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// Load reads configuration from path (or ./jwtverify.yaml, ./config/jwtverify.yaml
// when empty) and the environment. A missing config file is not an error.
func Load(path string, log logrus.FieldLogger) (*Config, error) {
	cfg := Config{}
	if log == nil {
		log = logrus.StandardLogger()
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "__"))
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jwtverify")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("set config defaults: %w", err)
	}

	// Bind env vars for each scalar field
	typeOfCfg := reflect.TypeOf(cfg)
	for i := 0; i < typeOfCfg.NumField(); i++ {
		field := typeOfCfg.Field(i)
		if field.Type.Kind() == reflect.Slice {
			continue
		}
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = toSnakeCase(field.Name)
		}
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		log.Warn("No config file found, using environment variables")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	log.WithField("config", cfg.String()).Debug("Loaded config")
	return &cfg, nil
}

func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// IssuerConfigs converts the file representation into verifier issuers.
// The global clock skew applies to every issuer.
func (c *Config) IssuerConfigs() ([]core.IssuerConfig, error) {
	out := make([]core.IssuerConfig, 0, len(c.Issuers))
	for _, is := range c.Issuers {
		var ic core.IssuerConfig
		if is.CognitoUserPoolID != "" {
			cog, err := oidckit.CognitoIssuer(is.CognitoUserPoolID, oidckit.CognitoOptions{
				ClientIDs:    is.Audience,
				SkipClientID: is.SkipAudience,
				TokenUse:     is.TokenUse,
				Groups:       is.Groups,
				Scopes:       is.Scopes,
			})
			if err != nil {
				return nil, err
			}
			ic = cog
			if is.Issuer != "" {
				ic.Issuer = is.Issuer
			}
		} else {
			ic = core.IssuerConfig{
				Issuer: is.Issuer,
				Options: core.Options{
					Audience:     is.Audience,
					SkipAudience: is.SkipAudience,
					TokenUse:     is.TokenUse,
					Groups:       is.Groups,
					Scopes:       is.Scopes,
				},
			}
		}
		ic.JWKSURI = is.JWKSURI
		ic.Options.ClockSkew = c.ClockSkew
		out = append(out, ic)
	}
	return out, nil
}

// Logger returns a logrus logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// String returns a string representation of the config with secret fields redacted.
func (c *Config) String() string {
	v := reflect.ValueOf(*c)
	t := reflect.TypeOf(*c)
	var sb strings.Builder
	sb.WriteString("Config{")
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Name
		value := v.Field(i).Interface()
		if field.Tag.Get("secret") == "true" && !v.Field(i).IsZero() {
			value = "***REDACTED***"
		}
		sb.WriteString(name + ": " + toString(value))
		if i < t.NumField()-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// toString converts any value to string for String
func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toSnakeCase converts CamelCase to snake_case
func toSnakeCase(str string) string {
	runes := []rune(str)
	var out []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if !unicode.IsUpper(prev) || nextLower {
				out = append(out, '_')
			}
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
