package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	SuppressionWindow     time.Duration
	RulesPath             string
	DatabaseURL           string
	RedisURL              string
	KafkaBrokers          string
	KafkaTopic            string
	KafkaGroupID          string
	ClaudeAPIKey          string
	ClaudeModel           string
	SlackWebhookURL       string
	APIToken              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.DurationVar(&c.SuppressionWindow, "suppression-window", 15*time.Minute, "dedup window for identical alerts (0 disables suppression)")
	fs.StringVar(&c.RulesPath, "rules-path", "", "path to the YAML correlation rules file (empty = no rule correlation)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the shared suppression gate (empty = in-process only)")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for alert ingestion (empty = HTTP only)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "alerts", "Kafka topic to consume alerts from")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "quell", "Kafka consumer group ID")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for run summarization (empty = no summaries)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.SuppressionWindow < 0 {
		errs = append(errs, fmt.Errorf("invalid SUPPRESSION_WINDOW %s (must be >= 0)", c.SuppressionWindow))
	}

	// Kafka settings hang together: a broker list needs topic and group
	if c.KafkaBrokers != "" {
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required when KAFKA_BROKERS is set"))
		}
	}

	// Summarization needs both key and model
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
