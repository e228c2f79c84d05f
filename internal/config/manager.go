package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/opqueue/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. OPQUEUE_QUEUE_MAX_BATCH_SIZE.
const EnvPrefix = "OPQUEUE"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// FieldError names the setting that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// KVStoreValidator validates the settings of one cache backend. Backends
// register themselves from init.
type KVStoreValidator interface {
	Type() string
	Validate(cfg KVStoreConfig) error
}

var (
	validators   = make(map[string]KVStoreValidator)
	validatorsMu sync.RWMutex
)

// RegisterValidator registers v for its backend type. It panics when v is nil,
// has no type or its type is already registered.
func RegisterValidator(v KVStoreValidator) {
	if v == nil {
		panic("validator cannot be nil")
	}
	if v.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorsMu.Lock()
	defer validatorsMu.Unlock()

	if _, exists := validators[v.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", v.Type()))
	}
	validators[v.Type()] = v
}

// LookupValidator returns the validator registered for backend type t.
func LookupValidator(t string) (KVStoreValidator, bool) {
	validatorsMu.RLock()
	defer validatorsMu.RUnlock()
	v, ok := validators[t]
	return v, ok
}

// Manager holds the active configuration. Loads replace it only when the
// result validates.
type Manager struct {
	cfg *Config
}

// NewManager starts from Default.
func NewManager() *Manager {
	return &Manager{cfg: Default()}
}

// Config returns the active configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

// LoadFromFile loads a YAML (.yaml, .yml) or JSON (.json) file on top of the defaults.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return m.LoadFromYAML(data)
	case ".json":
		return m.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads YAML data on top of the defaults.
func (m *Manager) LoadFromYAML(data []byte) error {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return m.replace(cfg)
}

// LoadFromJSON loads JSON data on top of the defaults.
func (m *Manager) LoadFromJSON(data []byte) error {
	cfg := Default()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return m.replace(cfg)
}

// LoadFromEnv applies OPQUEUE_* variables on top of the active configuration,
// so it can follow LoadFromFile. Unset variables leave values unchanged.
func (m *Manager) LoadFromEnv() error {
	cfg := *m.cfg
	cfg.KVStore.Redis.Endpoints = append([]string(nil), m.cfg.KVStore.Redis.Endpoints...)
	cfg.Audit.Kafka.Brokers = append([]string(nil), m.cfg.Audit.Kafka.Brokers...)
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}
	return m.replace(&cfg)
}

func (m *Manager) replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	m.cfg = cfg
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fieldErr("logging.level", "must be one of debug, info, warn, error")
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "text" && f != "json" {
		return fieldErr("logging.format", "must be 'text' or 'json'")
	}

	q := c.Queue
	if q.MaxQueueSize < 1 || q.MaxQueueSize > 10_000 {
		return fieldErr("queue.max_queue_size", "must be between 1 and 10000")
	}
	if q.MaxBatchSize < 1 || q.MaxBatchSize > 1000 {
		return fieldErr("queue.max_batch_size", "must be between 1 and 1000")
	}
	if q.MinCyclesThreshold < 0 {
		return fieldErr("queue.min_cycles_threshold", "must be non-negative")
	}
	if q.MaxMemoryUsageBytes <= 0 {
		return fieldErr("queue.max_memory_usage_bytes", "must be greater than 0")
	}
	if q.MaxBatchProcessingTime <= 0 {
		return fieldErr("queue.max_batch_processing_time", "must be greater than 0")
	}
	if q.HealthCheckInterval <= 0 {
		return fieldErr("queue.health_check_interval", "must be greater than 0")
	}
	if q.CyclesPerOperation < 0 {
		return fieldErr("queue.cycles_per_operation", "must be non-negative")
	}

	if c.Budget.Capacity <= 0 {
		return fieldErr("budget.capacity", "must be greater than 0")
	}
	if c.Budget.RefillPerSecond < 0 {
		return fieldErr("budget.refill_per_second", "must be non-negative")
	}

	if c.Runner.Enabled {
		if c.Runner.PollInterval <= 0 {
			return fieldErr("runner.poll_interval", "must be greater than 0")
		}
		if c.Runner.BatchSize <= 0 {
			return fieldErr("runner.batch_size", "must be greater than 0")
		}
		if c.Runner.BatchesPerSecond <= 0 {
			return fieldErr("runner.batches_per_second", "must be greater than 0")
		}
	}

	if c.KVStore.Type == "" {
		return fieldErr("kvstore.type", "is required")
	}
	v, ok := LookupValidator(c.KVStore.Type)
	if !ok {
		return fieldErr("kvstore.type", "unsupported KV store type: %s", c.KVStore.Type)
	}
	if err := v.Validate(c.KVStore); err != nil {
		return fmt.Errorf("kvstore validation failed: %w", err)
	}

	if c.Audit.Kafka.Enabled {
		if len(c.Audit.Kafka.Brokers) == 0 {
			return fieldErr("audit.kafka.brokers", "is required when kafka is enabled")
		}
		if c.Audit.Kafka.ErrorTopic == "" || c.Audit.Kafka.BatchTopic == "" {
			return fieldErr("audit.kafka", "error_topic and batch_topic are required when kafka is enabled")
		}
	}
	if c.Audit.Redis.Enabled {
		if c.Audit.Redis.Addr == "" {
			return fieldErr("audit.redis.addr", "is required when redis is enabled")
		}
		if c.Audit.Redis.Key == "" {
			return fieldErr("audit.redis.key", "is required when redis is enabled")
		}
		if c.Audit.Redis.MaxEntries <= 0 {
			return fieldErr("audit.redis.max_entries", "must be greater than 0")
		}
	}
	if c.Audit.MySQL.Enabled {
		my := c.Audit.MySQL
		if my.Host == "" {
			return fieldErr("audit.mysql.host", "is required")
		}
		if my.Port <= 0 || my.Port > 65535 {
			return fieldErr("audit.mysql.port", "must be between 1 and 65535")
		}
		if my.Database == "" {
			return fieldErr("audit.mysql.database", "is required")
		}
		if my.Username == "" {
			return fieldErr("audit.mysql.username", "is required")
		}
		if my.Table == "" {
			return fieldErr("audit.mysql.table", "is required")
		}
		if my.MaxOpenConns <= 0 {
			return fieldErr("audit.mysql.max_open_conns", "must be greater than 0")
		}
	}
	if (c.Audit.Kafka.Enabled || c.Audit.Redis.Enabled) && c.Audit.BufferSize <= 0 {
		return fieldErr("audit.buffer_size", "must be greater than 0")
	}

	if c.HTTP.Addr == "" {
		return fieldErr("http.addr", "is required")
	}
	return nil
}
