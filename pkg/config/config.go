/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence (environment
// wins). The loaded struct is validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// Env controls whether error detail is surfaced to HTTP clients.
	Env string `yaml:"env" validate:"required,oneof=development production test"`

	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Ingest   Ingest   `yaml:"ingest"`
}

// Database holds connection pool settings for PostgreSQL.
type Database struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	Name     string `yaml:"name" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`

	MaxConns       int           `yaml:"max_conns" validate:"required,min=1"`
	MinConns       int           `yaml:"min_conns" validate:"min=0,ltefield=MaxConns"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" validate:"min=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"required"`
}

// Redis configures the optional rate-limiter backend. An empty Addr selects
// the in-process fallback limiter.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// Ingest configures the file connector sources.
type Ingest struct {
	// DataDir is searched for bulk.* and recent.* source files when the
	// explicit paths below are unset.
	DataDir    string `yaml:"data_dir"`
	BulkFile   string `yaml:"bulk_file"`
	RecentFile string `yaml:"recent_file"`

	// WatchDir, when set, enables the drop-directory watcher.
	WatchDir string `yaml:"watch_dir"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: 8080,
		Env:  "development",
		Database: Database{
			Host:           "localhost",
			Port:           5432,
			Name:           "ingestion",
			User:           "postgres",
			MaxConns:       20,
			MinConns:       2,
			IdleTimeout:    30 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("APP_ENV", &c.Env)

	envString("DB_HOST", &c.Database.Host)
	envInt("DB_PORT", &c.Database.Port)
	envString("DB_NAME", &c.Database.Name)
	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)
	envInt("DB_POOL_MAX", &c.Database.MaxConns)
	envInt("DB_POOL_MIN", &c.Database.MinConns)
	envDuration("DB_IDLE_TIMEOUT", &c.Database.IdleTimeout)
	envDuration("DB_CONNECT_TIMEOUT", &c.Database.ConnectTimeout)

	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)

	envString("DATA_DIR", &c.Ingest.DataDir)
	envString("WATCH_DIR", &c.Ingest.WatchDir)
}

// IsDevelopment reports whether error detail should be surfaced to clients.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DSN renders the PostgreSQL connection string for the pgx stdlib driver.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable connect_timeout=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, int(d.ConnectTimeout.Seconds()),
	)
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*target = n
	}
}

// envDuration accepts Go duration strings ("30s") and, for compatibility with
// older deployments, bare integers interpreted as seconds.
func envDuration(key string, target *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*target = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*target = time.Duration(n) * time.Second
	}
}
