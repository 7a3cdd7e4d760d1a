package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel            string    `yaml:"log_level"`
	ListenAddr          string    `yaml:"listen_addr"`
	PollIntervalSeconds int       `yaml:"poll_interval_seconds"`
	BodyPreviewCap      int       `yaml:"body_preview_cap"`
	Discord             Discord   `yaml:"discord"`
	Accounts            []Account `yaml:"accounts"`
}

// Discord holds the notification sink credentials.
type Discord struct {
	BotToken string `yaml:"bot_token"`
}

// Account describes one monitored mailbox and its destination channel.
type Account struct {
	Name      string `yaml:"name"`
	Protocol  string `yaml:"protocol"` // "imap", "pop3" or "graph"
	ChannelID string `yaml:"channel_id"`

	// Direct-protocol credentials (imap/pop3).
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Folder   string `yaml:"folder"`

	// Graph credentials (client-credentials flow).
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	UserEmail    string `yaml:"user_email"`
	PageSize     int    `yaml:"page_size"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// PollInterval returns the account's poll interval, falling back to def.
func (a *Account) PollInterval(def time.Duration) time.Duration {
	if a.PollIntervalSeconds <= 0 {
		return def
	}
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// GetFolder returns the IMAP folder name, defaulting to "INBOX".
func (a *Account) GetFolder() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// GetPageSize returns the Graph page size, defaulting to 25.
func (a *Account) GetPageSize() int {
	if a.PageSize <= 0 {
		return 25
	}
	return a.PageSize
}

// PollInterval returns the global default poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GetBodyPreviewCap returns the body preview length cap, defaulting to 1900
// (the Discord embed description limit, minus headroom).
func (c *Config) GetBodyPreviewCap() int {
	if c.BodyPreviewCap <= 0 {
		return 1900
	}
	return c.BodyPreviewCap
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Discord.BotToken == "" {
		return nil, fmt.Errorf("discord.bot_token is required")
	}
	return cfg, nil
}

// FilterAccounts drops accounts with missing required fields, warning per
// discard. A broken account must not prevent the rest from being polled, so
// this never returns an error. Configuration order is preserved.
func FilterAccounts(accounts []Account, logger *slog.Logger) []Account {
	valid := make([]Account, 0, len(accounts))
	byChannel := make(map[string]string)

	for i, a := range accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		missing := a.missingFields()
		if len(missing) > 0 {
			logger.Warn("skipping account with incomplete configuration",
				"account", label,
				"missing", missing,
			)
			continue
		}

		if prev, dup := byChannel[a.ChannelID]; dup {
			logger.Warn("accounts share a destination channel",
				"account", a.Name,
				"also_used_by", prev,
				"channel_id", a.ChannelID,
			)
		}
		byChannel[a.ChannelID] = a.Name

		valid = append(valid, a)
	}
	return valid
}

func (a *Account) missingFields() []string {
	var missing []string
	add := func(name, val string) {
		if val == "" {
			missing = append(missing, name)
		}
	}

	add("name", a.Name)
	add("channel_id", a.ChannelID)

	switch a.Protocol {
	case "imap", "pop3":
		add("host", a.Host)
		if a.Port == 0 {
			missing = append(missing, "port")
		}
		add("email", a.Email)
		add("password", a.Password)
	case "graph":
		add("tenant_id", a.TenantID)
		add("client_id", a.ClientID)
		add("client_secret", a.ClientSecret)
		add("user_email", a.UserEmail)
	default:
		missing = append(missing, "protocol")
	}
	return missing
}
