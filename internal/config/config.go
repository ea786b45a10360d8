package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"riskpulse/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. RISKPULSE_SESSION_TICK_INTERVAL.
const EnvPrefix = "RISKPULSE_"

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	Session  SessionConfig `json:"session" yaml:"session" envPrefix:"SESSION_"`
	Source   SourceConfig  `json:"source" yaml:"source" envPrefix:"SOURCE_"`
	API      APIConfig     `json:"api" yaml:"api" envPrefix:"API_"`
	Storage  StorageConfig `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
}

type SessionConfig struct {
	ID           string        `json:"id" yaml:"id" env:"ID"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval" env:"TICK_INTERVAL"`
	HistoryLimit int           `json:"history_limit" yaml:"history_limit" env:"HISTORY_LIMIT"`
	AlertLimit   int           `json:"alert_limit" yaml:"alert_limit" env:"ALERT_LIMIT"`
	Seed         uint64        `json:"seed" yaml:"seed" env:"SEED"`
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window" env:"DEDUPE_WINDOW"`
	Context      ContextConfig `json:"context" yaml:"context" envPrefix:"CONTEXT_"`
}

type ContextConfig struct {
	NegotiationType   string `json:"negotiation_type" yaml:"negotiation_type" env:"NEGOTIATION_TYPE"`
	StakesLevel       string `json:"stakes_level" yaml:"stakes_level" env:"STAKES_LEVEL"`
	RelationshipStage string `json:"relationship_stage" yaml:"relationship_stage" env:"RELATIONSHIP_STAGE"`
}

func (c ContextConfig) SessionContext() model.SessionContext {
	return model.SessionContext{
		NegotiationType:   model.NegotiationType(strings.ToLower(c.NegotiationType)),
		StakesLevel:       model.StakesLevel(strings.ToLower(c.StakesLevel)),
		RelationshipStage: model.RelationshipStage(strings.ToLower(c.RelationshipStage)),
	}
}

func ContextFrom(sc model.SessionContext) ContextConfig {
	return ContextConfig{
		NegotiationType:   string(sc.NegotiationType),
		StakesLevel:       string(sc.StakesLevel),
		RelationshipStage: string(sc.RelationshipStage),
	}
}

type SourceConfig struct {
	Driver string      `json:"driver" yaml:"driver" env:"DRIVER"`
	Buffer int         `json:"buffer" yaml:"buffer" env:"BUFFER"`
	Kafka  KafkaConfig `json:"kafka" yaml:"kafka" envPrefix:"KAFKA_"`
	File   FileConfig  `json:"file" yaml:"file" envPrefix:"FILE_"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `json:"topic" yaml:"topic" env:"TOPIC"`
	GroupID string   `json:"group_id" yaml:"group_id" env:"GROUP_ID"`
}

type FileConfig struct {
	Path string `json:"path" yaml:"path" env:"PATH"`
	Loop bool   `json:"loop" yaml:"loop" env:"LOOP"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Driver  string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN     string `json:"dsn" yaml:"dsn" env:"DSN"`
}

const (
	SourceMock  = "mock"
	SourceKafka = "kafka"
	SourceREST  = "rest"
	SourceFile  = "file"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Session: SessionConfig{
			ID:           "demo-session",
			TickInterval: time.Second,
			HistoryLimit: 60,
			AlertLimit:   20,
			Context:      ContextFrom(model.DefaultSessionContext()),
		},
		Source:  SourceConfig{Driver: SourceMock, Buffer: 256},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:riskpulse?mode=memory&cache=shared"},
	}
}

// Load reads a JSON or YAML file (path may be empty), then applies .env and
// RISKPULSE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return errors.New("config file is empty")
	}
	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnv loads a .env file when present and overlays RISKPULSE_* variables.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Session.ID == "" {
		cfg.Session.ID = "demo-session"
	}
	if cfg.Session.TickInterval <= 0 {
		cfg.Session.TickInterval = time.Second
	}
	if cfg.Session.HistoryLimit <= 0 {
		cfg.Session.HistoryLimit = 60
	}
	if cfg.Session.AlertLimit <= 0 {
		cfg.Session.AlertLimit = 20
	}
	def := model.DefaultSessionContext()
	if cfg.Session.Context.NegotiationType == "" {
		cfg.Session.Context.NegotiationType = string(def.NegotiationType)
	}
	if cfg.Session.Context.StakesLevel == "" {
		cfg.Session.Context.StakesLevel = string(def.StakesLevel)
	}
	if cfg.Session.Context.RelationshipStage == "" {
		cfg.Session.Context.RelationshipStage = string(def.RelationshipStage)
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = SourceMock
	}
	cfg.Source.Driver = strings.ToLower(cfg.Source.Driver)
	if cfg.Source.Buffer <= 0 {
		cfg.Source.Buffer = 256
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
}

func Validate(cfg *Config) error {
	if !cfg.Session.Context.SessionContext().Valid() {
		return fmt.Errorf("session.context is invalid: %+v", cfg.Session.Context)
	}
	switch cfg.Source.Driver {
	case SourceMock, SourceREST:
	case SourceKafka:
		k := cfg.Source.Kafka
		if len(k.Brokers) == 0 || k.Topic == "" || k.GroupID == "" {
			return errors.New("source.kafka requires brokers, topic, group_id")
		}
	case SourceFile:
		if cfg.Source.File.Path == "" {
			return errors.New("source.file.path required when source.driver is file")
		}
	default:
		return fmt.Errorf("source.driver %q is not supported", cfg.Source.Driver)
	}
	if cfg.Source.Driver == SourceREST && !cfg.API.Enabled {
		return errors.New("source.driver rest requires api.enabled")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value

	// mu serializes file writes and reloads and guards modTime.
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		m.statLocked()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.statLocked()
	return cfg, nil
}

// Update stores cfg and persists it when the manager is file backed.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		m.statLocked()
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// statLocked records the file's modification time. Callers hold m.mu or
// have not yet shared m.
func (m *Manager) statLocked() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
