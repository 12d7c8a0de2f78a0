package runtime

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Package-level validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// ServerConfig configures the HTTP lifecycle API.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// RedisConfig configures the Redis-backed instance and variable stores.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0" validate:"gte=0"`
}

// EngineConfig tunes the orchestration core.
type EngineConfig struct {
	// CheckpointInterval forces an instance save every N tasks.
	CheckpointInterval int `yaml:"checkpointInterval" default:"100" validate:"gte=1"`
	// Workers is the lifecycle dispatcher pool size.
	Workers   int `yaml:"workers" default:"4" validate:"gte=1,lte=256"`
	QueueSize int `yaml:"queueSize" default:"256" validate:"gte=1"`
	// TaskRuntimeCache bounds the per-process LRU of built task runtimes.
	TaskRuntimeCache int    `yaml:"taskRuntimeCache" default:"512" validate:"gte=16"`
	DefinitionsDir   string `yaml:"definitionsDir" default:"processes"`
	// Store selects the persistence backend.
	Store string `yaml:"store" default:"memory" validate:"oneof=memory redis"`
}

// Config is the full engine configuration.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Redis      RedisConfig    `yaml:"redis"`
	Engine     EngineConfig   `yaml:"engine"`
	Properties map[string]any `yaml:"properties"`
}

// LoadConfig reads a YAML config file (optional: a missing path yields pure
// defaults), applies struct-tag defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("error unmarshalling config: %w", err)
		}
	}

	if err := validateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitializeConfig prepares a plugin config struct: defaults, value merging
// and validation in one call.
func InitializeConfig(config any, rawValues map[string]any) error {
	if err := ApplyDefaults(config); err != nil {
		slog.Error("Plugin config: failed to apply defaults",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			slog.Error("Plugin config: failed to apply config values",
				"config_type", reflect.TypeOf(config).String(),
				"raw_values", rawValues,
				"error", err)
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		slog.Error("Plugin config validation failed",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators registers framework-provided custom validation functions
func registerCustomValidators() {
	// hostname_port validates "host:port" format with numeric port
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return nil
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation: %s (rule: %s)",
					fieldErr.Field(),
					fieldErr.Error(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

func RegisterCustomValidator(tag string, fn validator.Func) error {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("failed to register custom validator '%s': %w", tag, err)
	}
	return nil
}
