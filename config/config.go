// Package config loads typed configuration through viper and keeps it current
// while the file changes on disk.
package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const DefaultDebounce = 100 * time.Millisecond

// Config holds the current value of T. It is safe for concurrent use.
type Config[T any] struct {
	v        *viper.Viper
	path     string
	value    *T
	mu       sync.RWMutex
	watchers []func(old, new T)

	validate func(T) error
	debounce time.Duration
	logger   *slog.Logger
}

type Option[T any] func(*Config[T])

func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(c *Config[T]) {
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
	}
}

// WithEnv lets PREFIX_SECTION_KEY environment variables override keys.
func WithEnv[T any](prefix string) Option[T] {
	return func(c *Config[T]) {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
	}
}

// WithValidate rejects values for which fn fails, both on load and on reload.
// A rejected reload keeps the previous value.
func WithValidate[T any](fn func(T) error) Option[T] {
	return func(c *Config[T]) { c.validate = fn }
}

func WithDebounce[T any](d time.Duration) Option[T] {
	return func(c *Config[T]) {
		if d > 0 {
			c.debounce = d
		}
	}
}

func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *Config[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// Load reads path and watches it for changes. An empty path loads defaults
// and environment only, without watching.
func Load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	v := viper.New()
	c := &Config[T]{
		v:        v,
		path:     path,
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	val, err := c.decode()
	if err != nil {
		return nil, err
	}
	c.value = &val

	if path != "" {
		c.watch()
	}
	return c, nil
}

// Path returns the file the config was read from, if any.
func (c *Config[T]) Path() string { return c.path }

// Get returns a deep copy of the current value.
func (c *Config[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(*c.value)
}

// OnChange registers callback for values that differ after a reload.
func (c *Config[T]) OnChange(callback func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

// Changed reports whether old and new differ.
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}

func (c *Config[T]) decode() (T, error) {
	var val T
	if err := c.v.Unmarshal(&val); err != nil {
		return val, err
	}
	if c.validate != nil {
		if err := c.validate(val); err != nil {
			return val, err
		}
	}
	return val, nil
}

func (c *Config[T]) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(c.debounce, c.handleConfigChange)
		debounceMu.Unlock()
	})

	c.v.WatchConfig()
}

func (c *Config[T]) handleConfigChange() {
	oldConfig := c.Get()

	newConfig, watchers, ok := c.reloadConfig()
	if !ok {
		return
	}
	if reflect.DeepEqual(oldConfig, newConfig) {
		return
	}
	c.logger.Info("config reloaded", "path", c.path)

	for _, cb := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("config watcher panicked", "panic", r)
				}
			}()
			cb(oldConfig, newConfig)
		}()
	}
}

// reloadConfig returns the new value, a snapshot of the watchers and whether
// the reload succeeded.
func (c *Config[T]) reloadConfig() (T, []func(old, new T), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if err := c.v.ReadInConfig(); err != nil {
		c.logger.Warn("config reload failed", "path", c.path, "err", err)
		return zero, nil, false
	}
	val, err := c.decode()
	if err != nil {
		c.logger.Warn("config reload rejected", "path", c.path, "err", err)
		return zero, nil, false
	}
	c.value = &val

	watchers := make([]func(old, new T), len(c.watchers))
	copy(watchers, c.watchers)

	return deepCopy(val), watchers, true
}
