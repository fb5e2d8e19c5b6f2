package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rdispatch/internal/logger"
	"rdispatch/internal/report"
	"rdispatch/internal/ssh"

	"github.com/joho/godotenv"
)

func init() {
	envFiles := []string{
		".env",
	}

	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Error loading %s: %v", envFile, err)
			}
		}
	}
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)

	if value == "" {
		return defaultValue
	}

	return value
}

func getDefaultKnownHostsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("Could not determine home directory: %v", err)
		return ""
	}
	return filepath.Join(homeDir, ".ssh", "known_hosts")
}

type Configuration struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Paths are used only when the matching content variable is empty
	KnownHostsPath   string
	KnownHosts       string
	SSHKeyPath       string
	SSHPrivateKey    string
	SSHKeyPassphrase string

	TempDir        string
	MaxOutputBytes int

	PushgatewayURL string
	AMQPURL        string
	AMQPExchange   string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment, after .env was applied.
func Load() (*Configuration, error) {
	timeout, err := durationEnv("RDISPATCH_TIMEOUT", ssh.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	connectTimeout, err := durationEnv("RDISPATCH_CONNECT_TIMEOUT", ssh.DefaultConnectTimeout)
	if err != nil {
		return nil, err
	}

	maxOutput, err := strconv.Atoi(GetEnv("RDISPATCH_MAX_OUTPUT_BYTES", strconv.Itoa(ssh.DefaultMaxOutputBytes)))
	if err != nil || maxOutput < 0 {
		return nil, fmt.Errorf("%w: RDISPATCH_MAX_OUTPUT_BYTES must be a non-negative integer", ssh.ErrInvalidInput)
	}

	return &Configuration{
		Timeout:        timeout,
		ConnectTimeout: connectTimeout,

		KnownHostsPath:   GetEnv("RDISPATCH_KNOWN_HOSTS_PATH", getDefaultKnownHostsPath()),
		KnownHosts:       os.Getenv("RDISPATCH_KNOWN_HOSTS"),
		SSHKeyPath:       os.Getenv("RDISPATCH_SSH_KEY_PATH"),
		SSHPrivateKey:    os.Getenv("RDISPATCH_SSH_PRIVATE_KEY"),
		SSHKeyPassphrase: os.Getenv("RDISPATCH_SSH_KEY_PASSPHRASE"),

		TempDir:        os.Getenv("RDISPATCH_TEMP_DIR"),
		MaxOutputBytes: maxOutput,

		PushgatewayURL: os.Getenv("RDISPATCH_PUSHGATEWAY_URL"),
		AMQPURL:        os.Getenv("RDISPATCH_AMQP_URL"),
		AMQPExchange:   GetEnv("RDISPATCH_AMQP_EXCHANGE", report.DefaultExchange),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", logger.FormatConsole),
	}, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration, got %q", ssh.ErrInvalidInput, key, raw)
	}

	return value, nil
}

// Sinks returns the result sinks enabled by the configuration.
func (c *Configuration) Sinks() []report.Sink {
	var sinks []report.Sink

	if c.PushgatewayURL != "" {
		sinks = append(sinks, report.NewPushgateway(c.PushgatewayURL))
	}

	if c.AMQPURL != "" {
		sinks = append(sinks, report.NewPublisher(c.AMQPURL, c.AMQPExchange))
	}

	return sinks
}
