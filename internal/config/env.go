package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables that override file settings.
// Unset variables leave the file value in place.
type envOverrides struct {
	BaseURL           string        `env:"POLISH_BASE_URL"`
	CardKey           string        `env:"POLISH_CARD_KEY"`
	QueueInterval     time.Duration `env:"POLISH_QUEUE_INTERVAL"`
	ProgressInterval  time.Duration `env:"POLISH_PROGRESS_INTERVAL"`
	ProxyMode         string        `env:"POLISH_PROXY_MODE"`
	ProxyPassword     string        `env:"POLISH_PROXY_PASSWORD"`
	LogFile           string        `env:"POLISH_LOG_FILE"`
	ExportDestination string        `env:"POLISH_EXPORT_DESTINATION"`
	AzureConnection   string        `env:"POLISH_AZURE_CONNECTION_STRING"`
	S3AccessKeyID     string        `env:"POLISH_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `env:"POLISH_S3_SECRET_ACCESS_KEY"`
}

// ApplyEnv overlays environment variables onto c. A nil environ reads the
// process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var o envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.CardKey != "" {
		c.CardKey = o.CardKey
	}
	if o.QueueInterval > 0 {
		c.QueueInterval = o.QueueInterval
	}
	if o.ProgressInterval > 0 {
		c.ProgressInterval = o.ProgressInterval
	}
	if o.ProxyMode != "" {
		c.ProxyMode = o.ProxyMode
	}
	if o.ProxyPassword != "" {
		c.ProxyPassword = o.ProxyPassword
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.ExportDestination != "" {
		c.Export.Destination = o.ExportDestination
	}
	if o.AzureConnection != "" {
		c.Export.AzureConnectionString = o.AzureConnection
	}
	if o.S3AccessKeyID != "" {
		c.Export.S3AccessKeyID = o.S3AccessKeyID
		c.Export.S3SecretAccessKey = o.S3SecretAccessKey
	}
	return nil
}
