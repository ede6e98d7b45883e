package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	EnvPrefix = "APIKIT"

	DefaultServiceTimeout = 5 * time.Second
	DefaultRefreshPath    = "/user/refresh"
)

// File is the schema of the apikit configuration file.
type File struct {
	Services    map[string]Service `mapstructure:"services"`
	Credentials Credentials        `mapstructure:"credentials"`
	Log         Log                `mapstructure:"log"`
	Metrics     Metrics            `mapstructure:"metrics"`
}

// Service describes one upstream API.
type Service struct {
	BaseURL     string        `mapstructure:"base_url"`
	Origin      string        `mapstructure:"origin"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Token       string        `mapstructure:"token"`
	UserAgent   string        `mapstructure:"user_agent"`
	RefreshPath string        `mapstructure:"refresh_path"`
	RateLimit   RateLimit     `mapstructure:"rate_limit"`
	Retry       Retry         `mapstructure:"retry"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Retry struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type Credentials struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// DefaultValues are the viper defaults for File.
func DefaultValues() map[string]any {
	return map[string]any{
		"credentials.path":       DefaultCredentialsPath(),
		"credentials.passphrase": "",
		"log.level":              "info",
		"metrics.addr":           "",
	}
}

// DefaultCredentialsPath is credentials.yaml under the user config directory,
// or in the working directory when that cannot be determined.
func DefaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "credentials.yaml"
	}
	return filepath.Join(dir, "apikit", "credentials.yaml")
}

// LoadFile loads a File with defaults, APIKIT_* environment overrides and
// validation applied.
func LoadFile(path string, opts ...Option[File]) (*Config[File], error) {
	all := []Option[File]{
		WithDefaults[File](DefaultValues()),
		WithEnv[File](EnvPrefix),
		WithValidate(File.Validate),
	}
	return Load[File](path, append(all, opts...)...)
}

// Service returns the named service with unset fields defaulted.
func (f File) Service(name string) (Service, error) {
	s, ok := f.Services[name]
	if !ok {
		return Service{}, fmt.Errorf("config: unknown service %q (known: %v)", name, f.ServiceNames())
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultServiceTimeout
	}
	if s.Origin == "" {
		s.Origin = "external"
	}
	if s.RefreshPath == "" {
		s.RefreshPath = DefaultRefreshPath
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 1
	}
	return s, nil
}

func (f File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f File) Validate() error {
	var errs []error
	for _, name := range f.ServiceNames() {
		if err := f.Services[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("services.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s Service) validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", s.BaseURL)
	}
	switch s.Origin {
	case "", "internal", "external":
	default:
		return fmt.Errorf("origin %q must be internal or external", s.Origin)
	}
	if s.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}
