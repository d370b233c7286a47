// SPDX-License-Identifier: LGPL-3.0-or-later

// Package agentconfig loads the operator-facing settings for the
// hostagentd binary itself: where its datastore and lock files live,
// how it logs, and how it authenticates to remote image stores. It is
// distinct from hostconfig.Config, which is the desired-state document
// the agent services.
package agentconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the operator configuration for hostagentd.
type Config struct {
	DatastorePath string `yaml:"datastore_path"`
	LockPath      string `yaml:"lock_path"`
	AuditLogPath  string `yaml:"audit_log_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	MetricsAddr string `yaml:"metrics_addr"`

	RollbackChainLimit int `yaml:"rollback_chain_limit"`

	DownloadRateLimitBytesPerSec int64         `yaml:"download_rate_limit_bytes_per_sec"`
	RetryAttempts                int           `yaml:"retry_attempts"`
	RetryBaseDelay                time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay                 time.Duration `yaml:"retry_max_delay"`

	TracingEnabled      bool    `yaml:"tracing_enabled"`
	TracingSamplingRate float64 `yaml:"tracing_sampling_rate"`

	AWS          *AWSConfig          `yaml:"aws"`
	Azure        *AzureConfig        `yaml:"azure"`
	GCP          *GCPConfig          `yaml:"gcp"`
	SFTP         *SFTPConfig         `yaml:"sftp"`
	AlibabaCloud *AlibabaCloudConfig `yaml:"alibaba_cloud"`
	OCI          *OCIConfig          `yaml:"oci"`
}

// AWSConfig holds credentials for the s3:// image source scheme.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Enabled         bool   `yaml:"enabled"`
}

// AzureConfig holds credentials for the azblob:// image source scheme.
type AzureConfig struct {
	StorageAccount string `yaml:"storage_account"`
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	Enabled        bool   `yaml:"enabled"`
}

// GCPConfig holds credentials for the gs:// image source scheme.
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsJSON string `yaml:"credentials_json"` // path to service account JSON
	Enabled         bool   `yaml:"enabled"`
}

// SFTPConfig holds credentials for the sftp:// image source scheme.
type SFTPConfig struct {
	Username       string `yaml:"username"`
	PrivateKeyPath string `yaml:"private_key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`
	Enabled        bool   `yaml:"enabled"`
}

// AlibabaCloudConfig holds credentials for the alioss:// image source
// scheme (Alibaba Cloud OSS object storage).
type AlibabaCloudConfig struct {
	RegionID        string `yaml:"region_id"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Enabled         bool   `yaml:"enabled"`
}

// OCIConfig holds credentials for the oci:// image source scheme
// (Oracle Cloud Infrastructure Object Storage).
type OCIConfig struct {
	Namespace      string `yaml:"namespace"`
	Region         string `yaml:"region"`
	ConfigPath     string `yaml:"config_path"`
	Profile        string `yaml:"profile"`
	TenancyOCID    string `yaml:"tenancy_ocid"`
	UserOCID       string `yaml:"user_ocid"`
	Fingerprint    string `yaml:"fingerprint"`
	PrivateKey     string `yaml:"private_key"`
	Enabled        bool   `yaml:"enabled"`
}

const (
	DefaultDatastorePath      = "/var/lib/hostagent/status.db"
	DefaultLockPath           = "/var/run/hostagent/servicing.lock"
	DefaultAuditLogPath       = "/var/lib/hostagent/audit.db"
	DefaultMetricsAddr        = "127.0.0.1:9108"
	DefaultRollbackChainLimit = 10
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = 2 * time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
)

// FromEnvironment builds a Config from environment variables, applying
// the same top-level defaults FromFile applies. Unlike FromFile, it
// leaves the per-cloud credential sections (AWS, Azure, GCP, SFTP,
// AlibabaCloud, OCI) nil.
func FromEnvironment() *Config {
	rollbackLimit, _ := strconv.Atoi(getEnv("HOSTAGENT_ROLLBACK_CHAIN_LIMIT", strconv.Itoa(DefaultRollbackChainLimit)))
	retryAttempts, _ := strconv.Atoi(getEnv("HOSTAGENT_RETRY_ATTEMPTS", strconv.Itoa(DefaultRetryAttempts)))
	rateLimit, _ := strconv.ParseInt(getEnv("HOSTAGENT_DOWNLOAD_RATE_LIMIT", "0"), 10, 64)
	tracingEnabled, _ := strconv.ParseBool(getEnv("HOSTAGENT_TRACING_ENABLED", "false"))

	return &Config{
		DatastorePath:                getEnv("HOSTAGENT_DATASTORE_PATH", DefaultDatastorePath),
		LockPath:                     getEnv("HOSTAGENT_LOCK_PATH", DefaultLockPath),
		AuditLogPath:                 getEnv("HOSTAGENT_AUDIT_LOG_PATH", DefaultAuditLogPath),
		LogLevel:                     getEnv("HOSTAGENT_LOG_LEVEL", "info"),
		LogFormat:                    getEnv("HOSTAGENT_LOG_FORMAT", "text"),
		MetricsAddr:                  getEnv("HOSTAGENT_METRICS_ADDR", DefaultMetricsAddr),
		RollbackChainLimit:           rollbackLimit,
		DownloadRateLimitBytesPerSec: rateLimit,
		RetryAttempts:                retryAttempts,
		RetryBaseDelay:               DefaultRetryBaseDelay,
		RetryMaxDelay:                DefaultRetryMaxDelay,
		TracingEnabled:               tracingEnabled,
		TracingSamplingRate:          1.0,
	}
}

// FromFile loads a Config from a YAML file, applying defaults to
// anything the file omits.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse agent config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DatastorePath == "" {
		cfg.DatastorePath = DefaultDatastorePath
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultLockPath
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = DefaultAuditLogPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.RollbackChainLimit == 0 {
		cfg.RollbackChainLimit = DefaultRollbackChainLimit
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.TracingSamplingRate == 0 {
		cfg.TracingSamplingRate = 1.0
	}

	if cfg.AWS == nil {
		cfg.AWS = &AWSConfig{Region: "us-east-1"}
	} else if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Azure == nil {
		cfg.Azure = &AzureConfig{}
	}
	if cfg.GCP == nil {
		cfg.GCP = &GCPConfig{}
	}
	if cfg.SFTP == nil {
		cfg.SFTP = &SFTPConfig{}
	}
	if cfg.AlibabaCloud == nil {
		cfg.AlibabaCloud = &AlibabaCloudConfig{}
	}
	if cfg.OCI == nil {
		cfg.OCI = &OCIConfig{}
	}
}

// MergeWithEnv overlays environment variables onto a file-loaded
// Config, with the environment taking precedence when set.
func (c *Config) MergeWithEnv() *Config {
	if v := os.Getenv("HOSTAGENT_DATASTORE_PATH"); v != "" {
		c.DatastorePath = v
	}
	if v := os.Getenv("HOSTAGENT_LOCK_PATH"); v != "" {
		c.LockPath = v
	}
	if v := os.Getenv("HOSTAGENT_AUDIT_LOG_PATH"); v != "" {
		c.AuditLogPath = v
	}
	if v := os.Getenv("HOSTAGENT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HOSTAGENT_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("HOSTAGENT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("HOSTAGENT_ROLLBACK_CHAIN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RollbackChainLimit = n
		}
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
