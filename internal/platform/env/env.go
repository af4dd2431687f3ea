// Package env resolves process configuration from environment variables and an
// optional YAML config file.
package env

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source looks keys up in the environment first and the loaded config file second.
// Keys are matched case-insensitively; DATABASE_URL in the environment and
// database_url in the file name the same setting.
type Source struct {
	v *viper.Viper
}

func New() *Source {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Source{v: v}
}

// FromViper wraps an existing viper instance, e.g. one that already has CLI flags bound.
func FromViper(v *viper.Viper) *Source {
	if v == nil {
		return New()
	}
	return &Source{v: v}
}

func (s *Source) LoadFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func (s *Source) lookup(key string) (string, bool) {
	if !s.v.IsSet(key) {
		return "", false
	}
	return strings.TrimSpace(s.v.GetString(key)), true
}

func (s *Source) String(key string, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

func (s *Source) Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := s.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func (s *Source) Bool(key string, def bool) (bool, error) {
	if v, ok := s.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func (s *Source) Int(key string, def int) (int, error) {
	if v, ok := s.lookup(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}
