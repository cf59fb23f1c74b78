package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
	"github.com/angeloszaimis/vhost-proxy/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	MinReadBufferSize = 1 << 10
	MaxReadBufferSize = 1 << 20
)

// LogLevelFlag is the command-line flag bound to logging.level.
const LogLevelFlag = "log-level"

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type ProxyConfig struct {
	ReadBufferSize int    `mapstructure:"read_buffer_size"`
	Fallback       string `mapstructure:"fallback"`
	VirtualNodes   int    `mapstructure:"virtual_nodes"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RouteConfig maps one Host header value to its backends. Backends may be
// given as a YAML list or as a single comma separated string.
type RouteConfig struct {
	Host     string   `mapstructure:"host"`
	Backends []string `mapstructure:"backends"`
	Policy   string   `mapstructure:"policy"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
	Routes  []RouteConfig `mapstructure:"routes"`
}

// Load reads the configuration. An explicit configFile must exist; without
// one config.yaml is looked up in ./config and the working directory, and a
// missing file leaves defaults and environment variables in effect. Flags,
// when given, override the file for the keys they are bound to.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("proxy.read_buffer_size", 64<<10)
	v.SetDefault("proxy.fallback", "127.0.0.1:9000")
	v.SetDefault("proxy.virtual_nodes", 100)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.address", ":9090")
	v.SetDefault("logging.level", LogLevelInfo)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		if f := flags.Lookup(LogLevelFlag); f != nil {
			if err := v.BindPFlag("logging.level", f); err != nil {
				return nil, fmt.Errorf("bind --%s: %w", LogLevelFlag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Warn("Config file not found, using defaults and environment variables")
	} else {
		slog.Info("Loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.StringToSliceHookFunc(","))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	for i := range c.Routes {
		r := &c.Routes[i]
		r.Host = strings.TrimSpace(r.Host)
		r.Policy = strings.TrimSpace(r.Policy)

		backends := r.Backends[:0]
		for _, b := range r.Backends {
			if b = strings.TrimSpace(b); b != "" {
				backends = append(backends, b)
			}
		}
		r.Backends = backends
	}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.ReadBufferSize,
						validation.Required,
						validation.Min(MinReadBufferSize),
						validation.Max(MaxReadBufferSize),
					),
					validation.Field(&pc.Fallback,
						validation.Required,
						validation.By(validateBackendAddress),
					),
					validation.Field(&pc.VirtualNodes,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Enabled,
							validation.Required,
							validation.By(validateHostPort),
						),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Each(validation.By(validateRouteConfig)),
			validation.By(validateUniqueHosts),
		),
	)
}

// RoutingEntries converts the configured routes into routing table entries.
// A route without a policy uses round-robin.
func (c *Config) RoutingEntries() ([]route.Entry, error) {
	entries := make([]route.Entry, 0, len(c.Routes))

	for _, rc := range c.Routes {
		backends := make([]route.Backend, 0, len(rc.Backends))
		for _, addr := range rc.Backends {
			b, err := route.ParseBackend(addr)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", rc.Host, err)
			}
			backends = append(backends, b)
		}

		policy := rc.Policy
		if policy == "" {
			policy = strategy.RoundRobin
		}

		entries = append(entries, route.Entry{
			Hostname: rc.Host,
			Backends: backends,
			Policy:   policy,
		})
	}

	return entries, nil
}

func (c *Config) FallbackBackend() (route.Backend, error) {
	b, err := route.ParseBackend(c.Proxy.Fallback)
	if err != nil {
		return route.Backend{}, fmt.Errorf("fallback: %w", err)
	}
	return b, nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "port must be between 1 and 65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

// validateBackendAddress requires a dialable host:port, so unlike a listen
// address the host part may not be empty.
func validateBackendAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if err := validateHostPort(addr); err != nil {
		return err
	}

	if _, err := route.ParseBackend(addr); err != nil {
		return validation.NewError("validation_invalid_backend", err.Error())
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	rc, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Host, validation.Required),
		validation.Field(&rc.Backends,
			validation.Each(validation.By(validateBackendAddress)),
		),
	)
}

func validateUniqueHosts(value interface{}) error {
	routes, ok := value.([]RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of routes")
	}

	seen := make(map[string]struct{}, len(routes))
	for _, rc := range routes {
		if _, dup := seen[rc.Host]; dup {
			return validation.NewError("validation_duplicate_host", fmt.Sprintf("duplicate route host %q", rc.Host))
		}
		seen[rc.Host] = struct{}{}
	}

	return nil
}
