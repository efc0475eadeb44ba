// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the dmail servers and client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultQueueSize   = 500
	defaultWorkers     = 8
	defaultDialTimeout = 30 * time.Second
)

// Config holds the complete application configuration. Each server role
// reads its own section; logging, metrics and keys are shared.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Nameserver NameserverConfig `yaml:"nameserver"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Mailbox    MailboxConfig    `yaml:"mailbox"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Keys       KeysConfig       `yaml:"keys"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
	Client     ClientConfig     `yaml:"client"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// NameserverConfig holds directory node configuration. The root node has an
// empty Zone and Root.
type NameserverConfig struct {
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise"`
	Zone      string `yaml:"zone"`
	Root      string `yaml:"root"`
}

// TransferConfig holds transfer server configuration.
type TransferConfig struct {
	Listen      string        `yaml:"listen"`
	Advertise   string        `yaml:"advertise"`
	Root        string        `yaml:"root"`
	QueueSize   int           `yaml:"queue_size"`
	Workers     int           `yaml:"workers"`
	Mailer      string        `yaml:"mailer"`
	SocksProxy  string        `yaml:"socks_proxy"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// MailboxConfig holds mailbox server configuration.
type MailboxConfig struct {
	ID         string `yaml:"id"`
	Domain     string `yaml:"domain"`
	DMTPListen string `yaml:"dmtp_listen"`
	DMAPListen string `yaml:"dmap_listen"`
	Advertise  string `yaml:"advertise"`
	Root       string `yaml:"root"`
	UsersFile  string `yaml:"users_file"`
}

// MonitoringConfig holds the UDP address of the monitoring collector.
type MonitoringConfig struct {
	Addr string `yaml:"addr"`
}

// KeysConfig locates the RSA key pairs and the shared integrity key.
type KeysConfig struct {
	Dir      string `yaml:"dir"`
	HMACFile string `yaml:"hmac_file"`
}

// DeadLetterConfig selects where undeliverable bounces go.
type DeadLetterConfig struct {
	Provider string      `yaml:"provider"`
	SES      SESConfig   `yaml:"ses"`
	Graph    GraphConfig `yaml:"graph"`
}

// SESConfig holds AWS SES configuration for the dead-letter provider.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	Recipient       string `yaml:"recipient"`
}

// GraphConfig holds the Microsoft Graph app registration used by the graph
// dead-letter provider.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
	Recipient    string `yaml:"recipient"`
}

// ClientConfig holds the identity used by the client subcommands.
type ClientConfig struct {
	Email        string `yaml:"email"`
	TransferAddr string `yaml:"transfer_addr"`
	MailboxAddr  string `yaml:"mailbox_addr"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES region, sender and recipient are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	s := c.DeadLetter.SES
	return s.Region != "" && s.Sender != "" && s.Recipient != ""
}

// GraphConfigured returns true if every Graph field is set.
func (c *Config) GraphConfigured() bool {
	g := c.DeadLetter.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" &&
		g.Sender != "" && g.Recipient != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
	c.Nameserver.Listen = ":8080"
	c.Transfer.Listen = ":2525"
	c.Transfer.QueueSize = defaultQueueSize
	c.Transfer.Workers = defaultWorkers
	c.Transfer.DialTimeout = defaultDialTimeout
	c.Mailbox.DMTPListen = ":2526"
	c.Mailbox.DMAPListen = ":2527"
	c.Keys.Dir = "keys"
	c.DeadLetter.Provider = "stdout"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	// One root for every role of the process.
	if v := os.Getenv("DIRECTORY_ROOT"); v != "" {
		c.Nameserver.Root = v
		c.Transfer.Root = v
		c.Mailbox.Root = v
	}

	if v := os.Getenv("NAMESERVER_LISTEN"); v != "" {
		c.Nameserver.Listen = v
	}
	if v := os.Getenv("NAMESERVER_ZONE"); v != "" {
		c.Nameserver.Zone = v
	}

	if v := os.Getenv("TRANSFER_LISTEN"); v != "" {
		c.Transfer.Listen = v
	}
	if v := os.Getenv("TRANSFER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transfer.QueueSize = n
		}
	}
	if v := os.Getenv("TRANSFER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transfer.Workers = n
		}
	}

	if v := os.Getenv("MAILBOX_DOMAIN"); v != "" {
		c.Mailbox.Domain = v
	}
	if v := os.Getenv("MAILBOX_USERS_FILE"); v != "" {
		c.Mailbox.UsersFile = v
	}

	if v := os.Getenv("MONITORING_ADDR"); v != "" {
		c.Monitoring.Addr = v
	}
	if v := os.Getenv("KEYS_DIR"); v != "" {
		c.Keys.Dir = v
	}

	if v := os.Getenv("DEADLETTER_PROVIDER"); v != "" {
		c.DeadLetter.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SES_REGION"); v != "" {
		c.DeadLetter.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.DeadLetter.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.DeadLetter.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.DeadLetter.SES.Sender = v
	}
	if v := os.Getenv("SES_RECIPIENT"); v != "" {
		c.DeadLetter.SES.Recipient = v
	}
	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.DeadLetter.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.DeadLetter.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.DeadLetter.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.DeadLetter.Graph.Sender = v
	}
	if v := os.Getenv("GRAPH_RECIPIENT"); v != "" {
		c.DeadLetter.Graph.Recipient = v
	}

	if v := os.Getenv("CLIENT_PASSWORD"); v != "" {
		c.Client.Password = v
	}
}
