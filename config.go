package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported catalog storage drivers.
const (
	StorageBolt   = "bolt"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit               string        `yaml:"git_commit" envconfig:"LBT_GIT_COMMIT"`
	GitTag                  string        `yaml:"git_tag" envconfig:"LBT_GIT_TAG"`
	BuildTime               string        `yaml:"build_time" envconfig:"LBT_BUILD_TIME"`
	IsProduction            bool          `yaml:"is_production" envconfig:"LBT_IS_PRODUCTION"`
	LogLevel                zapcore.Level `yaml:"log_level" envconfig:"LBT_LOG_LEVEL"`
	LogFolder               string        `yaml:"log_folder" envconfig:"LBT_LOG_FOLDER"`
	LogMaxSize              int           `yaml:"log_max_size" envconfig:"LBT_LOG_MAX_SIZE"`
	OpsEndpointsEnable      bool          `yaml:"ops_endpoints_enable" envconfig:"LBT_OPS_ENDPOINTS_ENABLE"`
	ProfilerEndpointsEnable bool          `yaml:"profiler_endpoints_enable" envconfig:"LBT_PROFILER_ENDPOINTS_ENABLE"`
	Server                  ServerConfig  `yaml:"server"`
	Library                 LibraryConfig `yaml:"library"`
	Storage                 StorageConfig `yaml:"storage"`
	Redis                   RedisConfig   `yaml:"redis"`
	BoltDB                  BoltDBConfig  `yaml:"boltdb"`
	SQLite                  SQLiteConfig  `yaml:"sqlite"`
	Auth                    AuthConfig    `yaml:"auth"`
}

type ServerConfig struct {
	Host                    string        `yaml:"host" envconfig:"LBT_SERVER_HOST"`
	Port                    string        `yaml:"port" envconfig:"LBT_SERVER_PORT"`
	ReadTimeout             time.Duration `yaml:"read_timeout" envconfig:"LBT_SERVER_READ_TIMEOUT"`
	WriteTimeout            time.Duration `yaml:"write_timeout" envconfig:"LBT_SERVER_WRITE_TIMEOUT"`
	RequestTimeout          time.Duration `yaml:"request_timeout" envconfig:"LBT_SERVER_REQUEST_TIMEOUT"` // Time to wait for a request to finish
	LongRequestWriteTimeout time.Duration `yaml:"long_request_write_timeout" envconfig:"LBT_SERVER_LONG_REQUEST_WRITE_TIMEOUT"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout" envconfig:"LBT_SERVER_SHUTDOWN_TIMEOUT"`
}

type LibraryConfig struct {
	BorrowWindowDays    int    `yaml:"borrow_window_days" envconfig:"LBT_LIBRARY_BORROW_WINDOW_DAYS"`
	SeedDefaults        bool   `yaml:"seed_defaults" envconfig:"LBT_LIBRARY_SEED_DEFAULTS"`
	OverdueScanEnable   bool   `yaml:"overdue_scan_enable" envconfig:"LBT_LIBRARY_OVERDUE_SCAN_ENABLE"`
	OverdueScanSchedule string `yaml:"overdue_scan_schedule" envconfig:"LBT_LIBRARY_OVERDUE_SCAN_SCHEDULE"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver" envconfig:"LBT_STORAGE_DRIVER"`
	MirrorEnabled bool   `yaml:"mirror_enabled" envconfig:"LBT_STORAGE_MIRROR_ENABLED"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"LBT_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"LBT_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"LBT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"LBT_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"LBT_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"LBT_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"LBT_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"LBT_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"LBT_REDIS_PASSWORD" json:"-"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"LBT_REDIS_DATABASE_INDEX"`
	CatalogKey    string        `yaml:"catalog_key" envconfig:"LBT_REDIS_CATALOG_KEY"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"LBT_BOLTDB_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"LBT_BOLTDB_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"LBT_BOLTDB_BUCKET_NAME"`
}

type SQLiteConfig struct {
	FilePath string `yaml:"filepath" envconfig:"LBT_SQLITE_FILE_PATH"`
}

type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret" envconfig:"LBT_AUTH_TOKEN_SECRET" json:"-"`
	TokenIssuer string        `yaml:"token_issuer" envconfig:"LBT_AUTH_TOKEN_ISSUER"`
	TokenTTL    time.Duration `yaml:"token_ttl" envconfig:"LBT_AUTH_TOKEN_TTL"`
	Users       []UserConfig  `yaml:"users" ignored:"true"`
}

// UserConfig is one entry of the login allow-list.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
	Admin        bool   `yaml:"admin"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and updates the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if config.LogFolder == "" {
		config.LogFolder = "./logs"
	}

	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 10
	}

	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = 30 * time.Second
	}

	if config.Server.RequestTimeout <= 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}

	if config.Server.LongRequestWriteTimeout <= 0 {
		config.Server.LongRequestWriteTimeout = 2 * time.Minute
	}

	if config.Library.BorrowWindowDays < 0 {
		return fmt.Errorf("invalid borrow window of %d days", config.Library.BorrowWindowDays)
	}

	if config.Library.BorrowWindowDays == 0 {
		config.Library.BorrowWindowDays = DefaultBorrowWindowDays
	}

	if config.Library.OverdueScanSchedule == "" {
		config.Library.OverdueScanSchedule = "0 8 * * *"
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = StorageBolt
	}

	switch config.Storage.Driver {
	case StorageBolt, StorageSQLite:
	case StorageRedis:
		if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
			return errors.New("make sure to set valid redis address and port in configuration file")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.Storage.MirrorEnabled {
		if config.Storage.Driver == StorageBolt {
			return errors.New("storage mirror requires a primary driver other than bolt")
		}
		if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
			return errors.New("storage mirror requires a valid redis address and port")
		}
	}

	if config.BoltDB.BucketName == "" {
		config.BoltDB.BucketName = "catalog"
	}

	if config.Redis.CatalogKey == "" {
		config.Redis.CatalogKey = DefaultRedisCatalogKey
	}

	if len(config.Auth.TokenSecret) < 16 {
		return errors.New("make sure to set an auth token secret of at least 16 characters")
	}

	if config.Auth.TokenTTL <= 0 {
		config.Auth.TokenTTL = 12 * time.Hour
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration. The file is optional.
	if err = godotenv.Load("./config.env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `LBT`.
	err = LoadConfigEnvs("LBT", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
