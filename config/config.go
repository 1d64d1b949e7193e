package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"streamflow/models"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config/config.yml"

var envSpecificPaths = map[string]string{
	environmentPaper:      "config/config.paper.yml",
	environmentStaging:    "config/config.staging.yml",
	environmentProduction: "config/config.production.yml",
}

type Config struct {
	Streamflow        StreamflowConfig     `yaml:"streamflow"`
	Streaming         StreamingConfig      `yaml:"streaming"`
	Subscriptions     []SubscriptionConfig `yaml:"subscriptions"`
	SubscriptionsFile string               `yaml:"subscriptions_file"`
	Metrics           MetricsConfig        `yaml:"metrics"`
	Storage           StorageConfig        `yaml:"storage"`
	Recorder          RecorderConfig       `yaml:"recorder"`
	Dashboard         DashboardConfig      `yaml:"dashboard"`
	Logging           LoggingConfig        `yaml:"logging"`
}

type StreamflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamingConfig struct {
	URL              string          `yaml:"url"`
	AccountID        string          `yaml:"account_id"`
	AppID            string          `yaml:"app_id"`
	Token            string          `yaml:"token"`
	Credential       string          `yaml:"credential"`
	TokenExpiry      time.Time       `yaml:"token_expiry"`
	ConnectTimeout   time.Duration   `yaml:"connect_timeout"`
	ListeningTimeout time.Duration   `yaml:"listening_timeout"`
	SubscribeTimeout time.Duration   `yaml:"subscribe_timeout"`
	QOS              string          `yaml:"qos"`
	Keepalive        time.Duration   `yaml:"keepalive"`
	ReadBufferBytes  int             `yaml:"read_buffer_bytes"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// SubscriptionConfig describes one subscription in YAML. Raw entries are sent
// with their service, command and parameters untouched.
type SubscriptionConfig struct {
	Service    string            `yaml:"service"`
	Command    string            `yaml:"command"`
	Symbols    []string          `yaml:"symbols"`
	Fields     []int             `yaml:"fields"`
	Duration   string            `yaml:"duration"`
	Venue      string            `yaml:"venue"`
	Raw        bool              `yaml:"raw"`
	Parameters map[string]string `yaml:"parameters"`
}

type MetricsConfig struct {
	Session       bool             `yaml:"session"`
	Streamer      bool             `yaml:"streamer"`
	Recorder      bool             `yaml:"recorder"`
	QueueSize     bool             `yaml:"queue_size"`
	QueueInterval time.Duration    `yaml:"queue_interval"`
	CloudWatch    CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	Dashboard       string        `yaml:"dashboard"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Prefix        string        `yaml:"prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxEvents     int           `yaml:"max_events"`
	MaxBuffered   int           `yaml:"max_buffered"`
	Compression   string        `yaml:"compression"`
}

type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	MaxMetrics int    `yaml:"max_metrics"`
	MaxLogs    int    `yaml:"max_logs"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// ResolvePath picks the APP_ENV specific file when path is the default one
// and that file exists.
func ResolvePath(path string) string {
	resolved := resolveEnvSpecificPath(path, DefaultPath, envSpecificPaths)
	if resolved == path {
		return path
	}
	if _, err := os.Stat(resolved); err != nil {
		if path == "" {
			return DefaultPath
		}
		return path
	}
	return resolved
}

func defaultConfig() Config {
	return Config{
		Streaming: StreamingConfig{
			QOS:       models.DefaultQOS.String(),
			Keepalive: 20 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5},
		},
		Metrics: MetricsConfig{
			Session:   true,
			Streamer:  true,
			Recorder:  true,
			QueueSize: true,
		},
		Recorder: RecorderConfig{
			Prefix:        "events",
			FlushInterval: time.Minute,
			MaxEvents:     10000,
			MaxBuffered:   100000,
			Compression:   "snappy",
		},
		Dashboard: DashboardConfig{
			Address:    ":9000",
			MaxMetrics: 500,
			MaxLogs:    500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if config.SubscriptionsFile != "" {
		extra, err := LoadSubscriptionFile(config.SubscriptionsFile)
		if err != nil {
			return nil, err
		}
		config.Subscriptions = append(config.Subscriptions, extra.Subscriptions...)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	override := func(dst *string, env string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}

	override(&config.Streaming.URL, "STREAMER_URL")
	override(&config.Streaming.AccountID, "STREAMER_ACCOUNT_ID")
	override(&config.Streaming.AppID, "STREAMER_APP_ID")
	override(&config.Streaming.Token, "STREAMER_TOKEN")
	override(&config.Streaming.Credential, "STREAMER_CREDENTIAL")

	if config.Storage.S3.Enabled {
		override(&config.Storage.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
		override(&config.Storage.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
		override(&config.Storage.S3.Region, "AWS_REGION")
		override(&config.Storage.S3.Bucket, "S3_BUCKET")
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.Streamflow.Name == "" {
		return fmt.Errorf("streamflow.name is required")
	}
	if cfg.Streamflow.Version == "" {
		return fmt.Errorf("streamflow.version is required")
	}

	if cfg.Streaming.URL == "" {
		return fmt.Errorf("streaming.url is required")
	}
	if policy := PolicyFor(AppEnvironment()); !policy.checkURL(cfg.Streaming.URL) {
		return fmt.Errorf("streaming.url must use wss:// in %s", policy.Environment)
	}
	if cfg.Streaming.AccountID == "" {
		return fmt.Errorf("streaming.account_id is required")
	}
	if cfg.Streaming.Token == "" {
		return fmt.Errorf("streaming.token is required")
	}
	if cfg.Streaming.ConnectTimeout < 0 || cfg.Streaming.ListeningTimeout < 0 || cfg.Streaming.SubscribeTimeout < 0 {
		return fmt.Errorf("streaming timeouts must not be negative")
	}
	if _, err := models.ParseQOS(cfg.Streaming.QOS); err != nil {
		return fmt.Errorf("streaming.qos: %w", err)
	}
	if cfg.Streaming.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("streaming.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Streaming.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("streaming.rate_limit.burst_size must be greater than 0")
	}

	if _, err := cfg.BuildSubscriptions(); err != nil {
		return err
	}

	if cfg.Recorder.Enabled {
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("recorder requires storage.s3.enabled")
		}
		if cfg.Recorder.FlushInterval <= 0 {
			return fmt.Errorf("recorder.flush_interval must be greater than 0")
		}
		if cfg.Recorder.MaxEvents <= 0 {
			return fmt.Errorf("recorder.max_events must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}

	return nil
}

// Credentials assembles the streamer identity from the streaming section.
func (c *Config) Credentials() *models.Credentials {
	return &models.Credentials{
		AccountID:  c.Streaming.AccountID,
		AppID:      c.Streaming.AppID,
		Token:      c.Streaming.Token,
		Credential: c.Streaming.Credential,
		Expiry:     c.Streaming.TokenExpiry,
	}
}

// QOS returns the configured quality of service.
func (c *Config) QOS() models.QOS {
	qos, err := models.ParseQOS(c.Streaming.QOS)
	if err != nil {
		return models.DefaultQOS
	}
	return qos
}

// BuildSubscriptions turns the configured entries into validated subscriptions.
func (c *Config) BuildSubscriptions() ([]*models.Subscription, error) {
	subs := make([]*models.Subscription, 0, len(c.Subscriptions))
	for i, sc := range c.Subscriptions {
		sub, err := sc.Build()
		if err != nil {
			return nil, fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Build converts one configured entry into a subscription.
func (sc SubscriptionConfig) Build() (*models.Subscription, error) {
	if sc.Raw {
		return models.NewRawSubscription(sc.Service, sc.Command, sc.Parameters)
	}

	service, err := models.ParseServiceType(sc.Service)
	if err != nil {
		return nil, err
	}
	command, err := models.ParseCommandType(sc.Command)
	if err != nil {
		return nil, err
	}
	opt := models.WithCommand(command)

	if service.IsActives() {
		duration := models.DurationAllDay
		if sc.Duration != "" {
			if duration, err = models.ParseDuration(sc.Duration); err != nil {
				return nil, err
			}
		}
		if service != models.ServiceActivesOptions {
			return models.NewActivesSubscription(service, duration, opt)
		}
		venue := models.VenueOpts
		if sc.Venue != "" {
			if venue, err = models.ParseVenue(sc.Venue); err != nil {
				return nil, err
			}
		}
		return models.NewOptionActivesSubscription(venue, duration, opt)
	}

	if !service.IsSymbolKeyed() {
		return nil, fmt.Errorf("service %s requires raw: true", service)
	}
	fields := make([]models.FieldID, len(sc.Fields))
	for i, f := range sc.Fields {
		fields[i] = models.FieldID(f)
	}
	return models.NewSymbolFieldSubscription(service, sc.Symbols, fields, opt)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
