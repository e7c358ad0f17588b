// Package config loads mailtriage settings with Viper.
//
// Settings come from (lowest to highest precedence) built-in defaults, an
// optional YAML file, and environment variables. Every key can be set as
// MAILTRIAGE_<KEY> with dots replaced by underscores; the historic
// variable names (GEMINI_API_KEY, MAX_EMAILS_TO_PROCESS, ...) are also
// recognized.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingAPIKey is returned by Validate when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("gemini.api_key not configured (set GEMINI_API_KEY or run 'mt setup')")

// Config is the full runtime configuration.
type Config struct {
	Owner           OwnerConfig    `mapstructure:"owner"`
	Gemini          GeminiConfig   `mapstructure:"gemini"`
	Webhook         WebhookConfig  `mapstructure:"webhook"`
	Actions         ActionsConfig  `mapstructure:"actions"`
	Batch           BatchConfig    `mapstructure:"batch"`
	Sources         []string       `mapstructure:"sources"`
	Labels          LabelsConfig   `mapstructure:"labels"`
	Context         ContextConfig  `mapstructure:"context"`
	ExcludedDomains []string       `mapstructure:"excluded_domains"`
	Store           StoreConfig    `mapstructure:"store"`
	Gmail           GmailConfig    `mapstructure:"gmail"`
	Prompts         PromptsConfig  `mapstructure:"prompts"`
	Schedule        ScheduleConfig `mapstructure:"schedule"`
	Log             LogConfig      `mapstructure:"log"`
}

// OwnerConfig identifies the mailbox owner.
type OwnerConfig struct {
	// Email defaults to the Gmail profile address when empty.
	Email string `mapstructure:"email"`
	// Name signs drafted replies.
	Name string `mapstructure:"name"`
}

// GeminiConfig selects the models and endpoint for both stages.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	TriageModel string        `mapstructure:"triage_model"`
	DraftModel  string        `mapstructure:"draft_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WebhookConfig configures urgent-mail notifications.
type WebhookConfig struct {
	URL       string        `mapstructure:"url"`
	Mode      string        `mapstructure:"mode"`
	ParamName string        `mapstructure:"param_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ActionsConfig gates mutations beyond labels and stars.
type ActionsConfig struct {
	// EnableDestructive allows archive and trash. When false, ARCHIVE and
	// BLOCK decisions only label the thread.
	EnableDestructive bool `mapstructure:"enable_destructive"`
}

// BatchConfig bounds the fetch window and the text sent to the model.
type BatchConfig struct {
	MaxEmails       int           `mapstructure:"max_emails"`
	MinSize         int           `mapstructure:"min_size"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	LookbackDays    int           `mapstructure:"lookback_days"`
	PreviewChars    int           `mapstructure:"preview_chars"`
	FullBodyChars   int           `mapstructure:"full_body_chars"`
	HistoryChars    int           `mapstructure:"history_chars"`
	HistoryMessages int           `mapstructure:"history_messages"`
}

// LabelsConfig maps the output taxonomy to mailbox label names.
type LabelsConfig struct {
	Star    string `mapstructure:"star"`
	Draft   string `mapstructure:"draft"`
	Notify  string `mapstructure:"notify"`
	Archive string `mapstructure:"archive"`
	Block   string `mapstructure:"block"`
	Unsure  string `mapstructure:"unsure"`
}

// ContextConfig controls how the active context is built and cached.
type ContextConfig struct {
	TopicQuery      string        `mapstructure:"topic_query"`
	HistoryDays     int           `mapstructure:"history_days"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxChars        int           `mapstructure:"max_chars"`
	SearchLimit     int           `mapstructure:"search_limit"`
	MaxSubjects     int           `mapstructure:"max_subjects"`
	MaxContacts     int           `mapstructure:"max_contacts"`
	MaxStyleSamples int           `mapstructure:"max_style_samples"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	URL           string `mapstructure:"url"`
	MaxValueBytes int    `mapstructure:"max_value_bytes"`
}

// GmailConfig locates the OAuth client credentials.
type GmailConfig struct {
	Credentials string `mapstructure:"credentials"`
}

// PromptsConfig overrides the built-in system prompts when non-empty.
type PromptsConfig struct {
	Triage   string `mapstructure:"triage"`
	Drafting string `mapstructure:"drafting"`
}

// ScheduleConfig sets the intervals used by mt watch.
type ScheduleConfig struct {
	RunInterval     time.Duration `mapstructure:"run_interval"`
	ContextInterval time.Duration `mapstructure:"context_interval"`
}

// LogConfig sets the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultExcludedDomains filters automated senders out of the context.
var DefaultExcludedDomains = []string{
	"calendar-notification@google.com",
	"notifications@trello.com",
	"noreply@",
	"linkedin.com",
	"docs.google.com",
	"harvest.com",
	"gong.io",
	"fathom.video",
	"zoom.us",
	"slack.com",
}

// Dir returns ~/.config/mailtriage.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtriage")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// legacyEnv binds the original option names.
var legacyEnv = map[string]string{
	"gemini.api_key":             "GEMINI_API_KEY",
	"gemini.triage_model":        "GEMINI_MODEL_TRIAGE",
	"gemini.draft_model":         "GEMINI_MODEL_DRAFT",
	"webhook.url":                "WEBHOOK_URL",
	"webhook.mode":               "WEBHOOK_MODE",
	"webhook.param_name":         "WEBHOOK_PARAM_NAME",
	"actions.enable_destructive": "ENABLE_DESTRUCTIVE_ACTIONS",
	"batch.max_emails":           "MAX_EMAILS_TO_PROCESS",
	"batch.min_size":             "MIN_BATCH_SIZE",
	"batch.max_wait_minutes":     "MAX_WAIT_TIME_MINUTES",
	"batch.lookback_days":        "MAX_EMAIL_LOOKBACK_DAYS",
	"context.history_days":       "MAX_HISTORY_DAYS",
	"context.topic_query":        "TRELLO_LABEL",
	"sources":                    "SOURCE_LABELS",
	"excluded_domains":           "EXCLUDED_DOMAINS",
}

func setDefaults(v *viper.Viper) {
	dir := Dir()

	v.SetDefault("owner.email", "")
	v.SetDefault("owner.name", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("gemini.triage_model", "gemini-2.5-flash-lite")
	v.SetDefault("gemini.draft_model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout", "120s")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.mode", "JSON")
	v.SetDefault("webhook.param_name", "message")
	v.SetDefault("webhook.timeout", "15s")

	v.SetDefault("actions.enable_destructive", false)

	v.SetDefault("batch.max_emails", 30)
	v.SetDefault("batch.min_size", 1)
	v.SetDefault("batch.max_wait", "120m")
	v.SetDefault("batch.max_wait_minutes", 0)
	v.SetDefault("batch.lookback_days", 14)
	v.SetDefault("batch.preview_chars", 500)
	v.SetDefault("batch.full_body_chars", 4000)
	v.SetDefault("batch.history_chars", 800)
	v.SetDefault("batch.history_messages", 2)

	v.SetDefault("sources", []string{
		"is:unread in:inbox -is:starred",
		"is:unread label:@SaneLater -is:starred",
	})

	v.SetDefault("labels.star", "ai_star")
	v.SetDefault("labels.draft", "ai_draft")
	v.SetDefault("labels.notify", "ai_notify")
	v.SetDefault("labels.archive", "ai_archive")
	v.SetDefault("labels.block", "ai_block")
	v.SetDefault("labels.unsure", "ai_unsure")

	v.SetDefault("context.topic_query", "label:Trello")
	v.SetDefault("context.history_days", 14)
	v.SetDefault("context.cache_ttl", "1500s")
	v.SetDefault("context.max_chars", 50000)
	v.SetDefault("context.search_limit", 100)
	v.SetDefault("context.max_subjects", 30)
	v.SetDefault("context.max_contacts", 40)
	v.SetDefault("context.max_style_samples", 3)

	v.SetDefault("excluded_domains", DefaultExcludedDomains)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(dir, "state.db"))
	v.SetDefault("store.url", "")
	v.SetDefault("store.max_value_bytes", 102400)

	v.SetDefault("gmail.credentials", filepath.Join(dir, "credentials.json"))

	v.SetDefault("prompts.triage", "")
	v.SetDefault("prompts.drafting", "")

	v.SetDefault("schedule.run_interval", "60m")
	v.SetDefault("schedule.context_interval", "25m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path. A missing file is not an error;
// defaults and environment variables still apply. An empty path means
// DefaultPath.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAILTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "MAILTRIAGE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if minutes := v.GetInt("batch.max_wait_minutes"); minutes > 0 {
		cfg.Batch.MaxWait = time.Duration(minutes) * time.Minute
	}
	cfg.Sources = trimList(cfg.Sources)
	cfg.ExcludedDomains = trimList(cfg.ExcludedDomains)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Gmail.Credentials = expandHome(cfg.Gmail.Credentials)
	return cfg, nil
}

// Validate checks settings needed by commands that call Gemini.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Batch.MaxEmails <= 0 {
		return fmt.Errorf("batch.max_emails must be positive, got %d", c.Batch.MaxEmails)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}
	return nil
}

// trimList trims entries and drops empties. Comma-separated env values
// are already split by Viper's decode hook.
func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
