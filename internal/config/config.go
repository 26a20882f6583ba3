// Package config provides configuration management for polish-int.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/paperpolish/polish-int/internal/constants"
)

// Config holds every setting of the client.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\polish-int\config
//   - Unix: ~/.config/polish-int/config
//
// INI format:
//
//	[service]
//	base_url = http://localhost:8000/api
//	card_key = <card key>
//
//	[polling]
//	queue_interval_seconds = 10
//	progress_interval_seconds = 3
//
//	[proxy]
//	mode = no-proxy
//
//	[export]
//	default_format = txt
//	destination = ./exports
//
//	[notifications]
//	enabled = true
//
//	[logging]
//	log_file = polish-int.log
type Config struct {
	// Service connection
	BaseURL string
	CardKey string

	// Polling cadences
	QueueInterval    time.Duration
	ProgressInterval time.Duration

	// Proxy settings
	ProxyMode     string // no-proxy, system, basic, ntlm
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string
	ProxyWarmup   bool

	Export        ExportConfig
	Notifications NotificationConfig

	// LogFile enables a rotating JSON log file when non-empty.
	LogFile string
}

// ExportConfig controls where exported documents go.
type ExportConfig struct {
	DefaultFormat string
	// Destination is a directory, s3://bucket/prefix or azblob://container/prefix.
	Destination           string
	S3Region              string
	S3Endpoint            string // custom endpoint for S3-compatible stores
	AzureConnectionString string

	// Static S3 credentials, environment only. Empty uses the AWS default chain.
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// NotificationConfig contains settings for desktop notifications.
type NotificationConfig struct {
	Enabled       bool
	ShowCompleted bool
	ShowFailed    bool
}

// DefaultBaseURL is used when nothing else configures the service address.
const DefaultBaseURL = "http://localhost:8000/api"

// Proxy modes
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// Validation errors
var (
	ErrMissingBaseURL      = errors.New("base_url is required")
	ErrInvalidBaseURL      = errors.New("base_url must start with http:// or https://")
	ErrInvalidProxyMode    = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost    = errors.New("proxy host is required for basic and ntlm modes")
	ErrInvalidInterval     = errors.New("polling intervals must be between 1s and 5m")
	ErrQueueFasterThanPoll = errors.New("queue interval must not be shorter than progress interval")
	ErrInvalidExportFormat = errors.New("export format must be one of txt, docx, pdf")
	ErrUnknownKey          = errors.New("unknown config key")
)

// Default returns a config populated with default values.
func Default() *Config {
	return &Config{
		BaseURL:          DefaultBaseURL,
		QueueInterval:    constants.QueuePollInterval,
		ProgressInterval: constants.ProgressPollInterval,
		ProxyMode:        ProxyModeNone,
		Export: ExportConfig{
			DefaultFormat: constants.DefaultExportFormat,
			Destination:   ".",
		},
		Notifications: NotificationConfig{
			Enabled:       true,
			ShowCompleted: true,
			ShowFailed:    true,
		},
	}
}

// LoadFile reads configuration from an INI file on top of the defaults.
// If the file doesn't exist, the defaults are returned with no error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	service := f.Section("service")
	cfg.BaseURL = service.Key("base_url").MustString(cfg.BaseURL)
	cfg.CardKey = service.Key("card_key").String()

	polling := f.Section("polling")
	cfg.QueueInterval = time.Duration(polling.Key("queue_interval_seconds").MustInt(int(cfg.QueueInterval/time.Second))) * time.Second
	cfg.ProgressInterval = time.Duration(polling.Key("progress_interval_seconds").MustInt(int(cfg.ProgressInterval/time.Second))) * time.Second

	proxy := f.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(0)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.ProxyPassword = proxy.Key("password").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()
	cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)

	export := f.Section("export")
	cfg.Export.DefaultFormat = export.Key("default_format").MustString(cfg.Export.DefaultFormat)
	cfg.Export.Destination = export.Key("destination").MustString(cfg.Export.Destination)
	cfg.Export.S3Region = export.Key("s3_region").String()
	cfg.Export.S3Endpoint = export.Key("s3_endpoint").String()
	cfg.Export.AzureConnectionString = export.Key("azure_connection_string").String()

	notify := f.Section("notifications")
	cfg.Notifications.Enabled = notify.Key("enabled").MustBool(true)
	cfg.Notifications.ShowCompleted = notify.Key("show_completed").MustBool(true)
	cfg.Notifications.ShowFailed = notify.Key("show_failed").MustBool(true)

	cfg.LogFile = f.Section("logging").Key("log_file").String()

	return cfg, nil
}

// Load reads the config file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to an INI file.
// The card key is stored in the file, so the file is created user-only.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	for _, kv := range c.entries() {
		f.Section(kv.section).Key(kv.key).SetValue(kv.value)
	}

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

type entry struct {
	section, key, value string
}

func (c *Config) entries() []entry {
	return []entry{
		{"service", "base_url", c.BaseURL},
		{"service", "card_key", c.CardKey},
		{"polling", "queue_interval_seconds", strconv.Itoa(int(c.QueueInterval / time.Second))},
		{"polling", "progress_interval_seconds", strconv.Itoa(int(c.ProgressInterval / time.Second))},
		{"proxy", "mode", c.ProxyMode},
		{"proxy", "host", c.ProxyHost},
		{"proxy", "port", strconv.Itoa(c.ProxyPort)},
		{"proxy", "user", c.ProxyUser},
		{"proxy", "no_proxy", c.NoProxy},
		{"proxy", "warmup", strconv.FormatBool(c.ProxyWarmup)},
		{"export", "default_format", c.Export.DefaultFormat},
		{"export", "destination", c.Export.Destination},
		{"export", "s3_region", c.Export.S3Region},
		{"export", "s3_endpoint", c.Export.S3Endpoint},
		{"export", "azure_connection_string", c.Export.AzureConnectionString},
		{"notifications", "enabled", strconv.FormatBool(c.Notifications.Enabled)},
		{"notifications", "show_completed", strconv.FormatBool(c.Notifications.ShowCompleted)},
		{"notifications", "show_failed", strconv.FormatBool(c.Notifications.ShowFailed)},
		{"logging", "log_file", c.LogFile},
	}
}

// Keys returns every settable key as section.key.
func Keys() []string {
	var keys []string
	for _, e := range Default().entries() {
		keys = append(keys, e.section+"."+e.key)
	}
	return keys
}

// Get returns the value of a section.key setting. Secrets are masked.
func (c *Config) Get(key string) (string, error) {
	for _, e := range c.entries() {
		if e.section+"."+e.key != key {
			continue
		}
		if (key == "service.card_key" || key == "export.azure_connection_string") && e.value != "" {
			return MaskSecret(e.value), nil
		}
		return e.value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Set assigns a section.key setting from its string form.
func (c *Config) Set(key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", key, value)
		}
		return n, nil
	}
	atob := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s: %q is not a boolean", key, value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "service.base_url":
		c.BaseURL = value
	case "service.card_key":
		c.CardKey = value
	case "polling.queue_interval_seconds":
		var n int
		n, err = atoi()
		c.QueueInterval = time.Duration(n) * time.Second
	case "polling.progress_interval_seconds":
		var n int
		n, err = atoi()
		c.ProgressInterval = time.Duration(n) * time.Second
	case "proxy.mode":
		c.ProxyMode = value
	case "proxy.host":
		c.ProxyHost = value
	case "proxy.port":
		c.ProxyPort, err = atoi()
	case "proxy.user":
		c.ProxyUser = value
	case "proxy.no_proxy":
		c.NoProxy = value
	case "proxy.warmup":
		c.ProxyWarmup, err = atob()
	case "export.default_format":
		c.Export.DefaultFormat = value
	case "export.destination":
		c.Export.Destination = value
	case "export.s3_region":
		c.Export.S3Region = value
	case "export.s3_endpoint":
		c.Export.S3Endpoint = value
	case "export.azure_connection_string":
		c.Export.AzureConnectionString = value
	case "notifications.enabled":
		c.Notifications.Enabled, err = atob()
	case "notifications.show_completed":
		c.Notifications.ShowCompleted, err = atob()
	case "notifications.show_failed":
		c.Notifications.ShowFailed, err = atob()
	case "logging.log_file":
		c.LogFile = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return err
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return ErrMissingBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return ErrInvalidBaseURL
	}

	switch strings.ToLower(c.ProxyMode) {
	case "", ProxyModeNone, ProxyModeSystem:
	case ProxyModeBasic, ProxyModeNTLM:
		if c.ProxyHost == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}

	for _, d := range []time.Duration{c.QueueInterval, c.ProgressInterval} {
		if d < constants.MinPollInterval || d > constants.MaxPollInterval {
			return ErrInvalidInterval
		}
	}
	if c.QueueInterval < c.ProgressInterval {
		return ErrQueueFasterThanPoll
	}

	switch c.Export.DefaultFormat {
	case "txt", "docx", "pdf":
	default:
		return ErrInvalidExportFormat
	}
	return nil
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
