// Package config loads the process configuration from defaults, YAML or
// JSON files and OPQUEUE_* environment variables.
package config

import (
	"time"

	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/resource"
)

// Config is the complete process configuration.
type Config struct {
	Logging logging.Config        `yaml:"logging" json:"logging" envconfig:"LOG"`
	Queue   QueueConfig           `yaml:"queue" json:"queue" envconfig:"QUEUE"`
	Budget  resource.BudgetConfig `yaml:"budget" json:"budget" envconfig:"BUDGET"`
	Runner  RunnerConfig          `yaml:"runner" json:"runner" envconfig:"RUNNER"`
	KVStore KVStoreConfig         `yaml:"kvstore" json:"kvstore" envconfig:"KVSTORE"`
	Audit   AuditConfig           `yaml:"audit" json:"audit" envconfig:"AUDIT"`
	HTTP    HTTPConfig            `yaml:"http" json:"http" envconfig:"HTTP"`
}

// QueueConfig holds the engine limits.
type QueueConfig struct {
	MaxQueueSize             int           `yaml:"max_queue_size" json:"max_queue_size" envconfig:"MAX_QUEUE_SIZE"`
	MaxBatchSize             int           `yaml:"max_batch_size" json:"max_batch_size" envconfig:"MAX_BATCH_SIZE"`
	MinCyclesThreshold       int64         `yaml:"min_cycles_threshold" json:"min_cycles_threshold" envconfig:"MIN_CYCLES_THRESHOLD"`
	MaxMemoryUsageBytes      int64         `yaml:"max_memory_usage_bytes" json:"max_memory_usage_bytes" envconfig:"MAX_MEMORY_USAGE_BYTES"`
	MaxBatchProcessingTime   time.Duration `yaml:"max_batch_processing_time" json:"max_batch_processing_time" envconfig:"MAX_BATCH_PROCESSING_TIME"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval" json:"health_check_interval" envconfig:"HEALTH_CHECK_INTERVAL"`
	MetricsCollectionEnabled bool          `yaml:"metrics_collection_enabled" json:"metrics_collection_enabled" envconfig:"METRICS_COLLECTION_ENABLED"`
	CyclesPerOperation       int64         `yaml:"cycles_per_operation" json:"cycles_per_operation" envconfig:"CYCLES_PER_OPERATION"`
	RejectWhenFull           bool          `yaml:"reject_when_full" json:"reject_when_full" envconfig:"REJECT_WHEN_FULL"`
}

// Configuration converts q into the engine's configuration.
func (q QueueConfig) Configuration() queue.Configuration {
	return queue.Configuration{
		MaxQueueSize:             q.MaxQueueSize,
		MaxBatchSize:             q.MaxBatchSize,
		MinCyclesThreshold:       q.MinCyclesThreshold,
		MaxMemoryUsageBytes:      q.MaxMemoryUsageBytes,
		MaxBatchProcessingTime:   q.MaxBatchProcessingTime,
		HealthCheckInterval:      q.HealthCheckInterval,
		MetricsCollectionEnabled: q.MetricsCollectionEnabled,
		RejectWhenFull:           q.RejectWhenFull,
	}
}

// RunnerConfig controls the periodic batch trigger.
type RunnerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	PollInterval     time.Duration `yaml:"poll_interval" json:"poll_interval" envconfig:"POLL_INTERVAL"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size" envconfig:"BATCH_SIZE"`
	BatchesPerSecond float64       `yaml:"batches_per_second" json:"batches_per_second" envconfig:"BATCHES_PER_SECOND"`
	Burst            int           `yaml:"burst" json:"burst" envconfig:"BURST"`
}

// KVStoreConfig selects and configures the cache backend the executor talks to.
type KVStoreConfig struct {
	Type         string         `yaml:"type" json:"type" envconfig:"TYPE"`
	Redis        RedisConfig    `yaml:"redis" json:"redis" envconfig:"REDIS"`
	DynamoDB     DynamoDBConfig `yaml:"dynamodb" json:"dynamodb" envconfig:"DYNAMODB"`
	KeyPrefix    string         `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty" envconfig:"KEY_PREFIX"`
	DefaultTTL   time.Duration  `yaml:"default_ttl,omitempty" json:"default_ttl,omitempty" envconfig:"DEFAULT_TTL"`
	MaxRetries   int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty" envconfig:"MAX_RETRIES"`
	DialTimeout  time.Duration  `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty" envconfig:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration  `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration  `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty" envconfig:"WRITE_TIMEOUT"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints" envconfig:"ENDPOINTS"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty" envconfig:"PASSWORD"`
	DB           int      `yaml:"db" json:"db" envconfig:"DB"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
}

// DynamoDBConfig contains DynamoDB table settings.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region" envconfig:"REGION"`
	TableName       string `yaml:"table_name" json:"table_name" envconfig:"TABLE_NAME"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" envconfig:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" envconfig:"SECRET_ACCESS_KEY"`
}

// AuditConfig configures where error records, batch history and purged
// operations are mirrored.
type AuditConfig struct {
	BufferSize int              `yaml:"buffer_size" json:"buffer_size" envconfig:"BUFFER_SIZE"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka" envconfig:"KAFKA"`
	Redis      RedisAuditConfig `yaml:"redis" json:"redis" envconfig:"REDIS"`
	MySQL      MySQLConfig      `yaml:"mysql" json:"mysql" envconfig:"MYSQL"`
}

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Brokers      []string      `yaml:"brokers" json:"brokers" envconfig:"BROKERS"`
	ErrorTopic   string        `yaml:"error_topic" json:"error_topic" envconfig:"ERROR_TOPIC"`
	BatchTopic   string        `yaml:"batch_topic" json:"batch_topic" envconfig:"BATCH_TOPIC"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size" envconfig:"BATCH_SIZE"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout" envconfig:"BATCH_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks" envconfig:"REQUIRED_ACKS"`
}

// RedisAuditConfig configures the capped Redis list of error records.
type RedisAuditConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Addr       string `yaml:"addr" json:"addr" envconfig:"ADDR"`
	Password   string `yaml:"password,omitempty" json:"password,omitempty" envconfig:"PASSWORD"`
	DB         int    `yaml:"db" json:"db" envconfig:"DB"`
	Key        string `yaml:"key" json:"key" envconfig:"KEY"`
	MaxEntries int64  `yaml:"max_entries" json:"max_entries" envconfig:"MAX_ENTRIES"`
}

// MySQLConfig configures the archive of purged operations.
type MySQLConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Host              string        `yaml:"host" json:"host" envconfig:"HOST"`
	Port              int           `yaml:"port" json:"port" envconfig:"PORT"`
	Database          string        `yaml:"database" json:"database" envconfig:"DATABASE"`
	Username          string        `yaml:"username" json:"username" envconfig:"USERNAME"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty" envconfig:"PASSWORD"`
	Table             string        `yaml:"table" json:"table" envconfig:"TABLE"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" envconfig:"CONN_MAX_IDLE_TIME"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" envconfig:"CONNECTION_TIMEOUT"`
}

// HTTPConfig configures the admin API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" json:"addr" envconfig:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in configuration: an in-memory cache backend,
// every audit sink disabled and the engine's default limits.
func Default() *Config {
	q := queue.DefaultConfiguration()
	return &Config{
		Logging: logging.DefaultConfig(),
		Queue: QueueConfig{
			MaxQueueSize:             q.MaxQueueSize,
			MaxBatchSize:             q.MaxBatchSize,
			MinCyclesThreshold:       q.MinCyclesThreshold,
			MaxMemoryUsageBytes:      q.MaxMemoryUsageBytes,
			MaxBatchProcessingTime:   q.MaxBatchProcessingTime,
			HealthCheckInterval:      q.HealthCheckInterval,
			MetricsCollectionEnabled: q.MetricsCollectionEnabled,
			CyclesPerOperation:       queue.DefaultCyclesPerOperation,
			RejectWhenFull:           q.RejectWhenFull,
		},
		Budget: resource.DefaultBudgetConfig(),
		Runner: RunnerConfig{
			Enabled:          true,
			PollInterval:     time.Second,
			BatchSize:        q.MaxBatchSize,
			BatchesPerSecond: 10,
			Burst:            1,
		},
		KVStore: KVStoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
			},
			DynamoDB: DynamoDBConfig{
				Region:    "us-east-1",
				TableName: "opqueue-cache",
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				ErrorTopic:   "opqueue-errors",
				BatchTopic:   "opqueue-batches",
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
			},
			Redis: RedisAuditConfig{
				Addr:       "localhost:6379",
				Key:        "opqueue:errors",
				MaxEntries: 1000,
			},
			MySQL: MySQLConfig{
				Host:              "localhost",
				Port:              3306,
				Database:          "opqueue",
				Username:          "opqueue",
				Table:             "archived_operations",
				MaxOpenConns:      10,
				MaxIdleConns:      5,
				ConnMaxLifetime:   5 * time.Minute,
				ConnMaxIdleTime:   10 * time.Minute,
				ConnectionTimeout: 10 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}
