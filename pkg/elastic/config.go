// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config defines the connection parameters for the Elasticsearch client. All
// fields are loaded from the environment with the defaults below.
type Config struct {
	LogLevel string `default:"INFO" split_words:"true"`

	ElasticScheme   string `envconfig:"ELASTIC_SCHEME" default:"http"`
	ElasticHost     string `envconfig:"ELASTIC_HOST" default:"localhost"`
	ElasticPort     int    `envconfig:"ELASTIC_PORT" default:"9200"`
	ElasticUsername string `envconfig:"ELASTIC_USERNAME" default:""`
	ElasticPassword string `envconfig:"ELASTIC_PASSWORD" default:"" json:",omitempty"`

	// Path to an additional CA bundle trusted when the scheme is https.
	ElasticCA string `envconfig:"ELASTIC_CA" default:""`

	ElasticGZIPEnabled bool `envconfig:"ELASTIC_GZIP_ENABLED" default:"false"`

	// Node discovery. The failure delay is how long to wait after a failed
	// request before refreshing the node list; the interval drives the
	// periodic refresh.
	ElasticSniffingEnabled        bool          `envconfig:"ELASTIC_SNIFFING_ENABLED" default:"false"`
	ElasticSniffAfterFailureDelay time.Duration `envconfig:"ELASTIC_SNIFF_AFTER_FAILURE_DELAY" default:"30s"`
	ElasticSniffInterval          time.Duration `envconfig:"ELASTIC_SNIFF_INTERVAL" default:"10s"`

	ElasticConnRetries       int           `envconfig:"ELASTIC_CONN_RETRIES" default:"3"`
	ElasticConnRetryInterval time.Duration `envconfig:"ELASTIC_CONN_RETRY_INTERVAL" default:"1s"`

	ParsedLogLevel log.Level `ignored:"true" json:"-"`
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}

	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("Unknown log level %s, defaulting to INFO", cfg.LogLevel)
		lvl = log.InfoLevel
	}
	cfg.ParsedLogLevel = lvl

	return cfg, nil
}

// MustLoadConfig loads the configuration from the environment, or exits if it's not possible.
func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Unable to load Elasticsearch configuration")
	}
	return cfg
}

// URL returns the endpoint URL derived from scheme, host and port.
func (c *Config) URL() *url.URL {
	return &url.URL{
		Scheme: c.ElasticScheme,
		Host:   net.JoinHostPort(c.ElasticHost, strconv.Itoa(c.ElasticPort)),
	}
}
