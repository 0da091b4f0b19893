package config

// Config holds the configuration of the application
// Use config.LoadConfig to create a new instance
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Typebot    TypebotConfig    `mapstructure:"typebot"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Store      StoreConfig      `mapstructure:"store"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Chat       ChatConfig       `mapstructure:"chat"`
	NocoDB     NocoDBConfig     `mapstructure:"nocodb"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Data       DataConfig       `mapstructure:"data"`
}

type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxRequestSize int64  `mapstructure:"max_request_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig gates the operator session API with JWT bearer tokens.
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Required bool   `mapstructure:"required"`
}

// TypebotConfig holds the shared secret presented by the Typebot frontend
// in the X-Typebot-Key header.
type TypebotConfig struct {
	Secret string `mapstructure:"secret"`
}

type OpenAIConfig struct {
	// APIKey is loaded from ENV, not the config file.
	APIKey string `mapstructure:"api_key"`
	// SigningKey verifies the OpenAI-Signature header on tool endpoints.
	// Verification is skipped when empty.
	SigningKey        string `mapstructure:"signing_key"`
	IntakeAssistantID string `mapstructure:"intake_assistant_id"`
	AdviceAssistantID string `mapstructure:"advice_assistant_id"`
	// RunTimeout is the maximum number of seconds to wait for an
	// assistant run to reach a terminal state.
	RunTimeout int `mapstructure:"run_timeout"`
	// PollInterval is the run polling interval in milliseconds.
	PollInterval int    `mapstructure:"poll_interval"`
	MaxAttempts  uint   `mapstructure:"max_attempts"`
	Model        string `mapstructure:"model"`

	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Intake     RunParams        `mapstructure:"intake"`
	Advice     RunParams        `mapstructure:"advice"`
}

// RunParams are the per-assistant run knobs.
type RunParams struct {
	Temperature         float32 `mapstructure:"temperature"`
	MaxCompletionTokens int     `mapstructure:"max_completion_tokens"`
}

type EmbeddingsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

type StoreConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MemoryConfig struct {
	// MessageWindow is the maximum number of messages kept on the
	// assistant thread and considered for summarization.
	MessageWindow int `mapstructure:"message_window"`
	// ThreadTTL is the number of seconds after which an idle assistant
	// thread mapping is considered stale and a new thread is created.
	ThreadTTL int `mapstructure:"thread_ttl"`
}

type ChatConfig struct {
	// EscalationReply is returned verbatim when a message trips the risk
	// check. The product ships in Spanish.
	EscalationReply string `mapstructure:"escalation_reply"`
	// FallbackReply is returned when the assistant cannot be reached.
	FallbackReply string `mapstructure:"fallback_reply"`
}

type NocoDBConfig struct {
	APIURL string `mapstructure:"api_url"`
	// APIKey is loaded from ENV, not the config file.
	APIKey string `mapstructure:"api_key"`
	// SummariesTable is the table path summaries are upserted into.
	SummariesTable string `mapstructure:"summaries_table"`
	Timeout        int    `mapstructure:"timeout"`
	RetryMax       int    `mapstructure:"retry_max"`
}

type ModerationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TasksConfig holds the enablement flags for the async task handlers.
type TasksConfig struct {
	Summarizer   TaskConfig `mapstructure:"summarizer"`
	SummarySync  TaskConfig `mapstructure:"summary_sync"`
	TokenCounter TaskConfig `mapstructure:"token_counter"`
	Embedder     TaskConfig `mapstructure:"embedder"`
	RiskScanner  TaskConfig `mapstructure:"risk_scanner"`
}

type TaskConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DataConfig struct {
	// PurgeEvery is the interval at which soft deleted records are hard
	// deleted, in minutes. 0 disables purging.
	PurgeEvery int `mapstructure:"purge_every"`
}
