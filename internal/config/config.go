package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"helferbot/pkg/utils"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port         int           `yaml:"port" default:"8080"`
		Host         string        `yaml:"host" default:"0.0.0.0"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
		IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
	} `yaml:"server"`

	Mailbox struct {
		Host         string        `yaml:"host" default:"imap.gmail.com"`
		Port         int           `yaml:"port" default:"993"`
		Username     string        `yaml:"username"`
		Password     string        `yaml:"password"` // app password
		Sender       string        `yaml:"sender"`   // watched sender address
		PollInterval time.Duration `yaml:"poll_interval" default:"20s"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"` // per-message retry budget
	} `yaml:"mailbox"`

	Portal struct {
		BaseURL        string        `yaml:"base_url"`
		LoginPath      string        `yaml:"login_path" default:"/login"`
		ListingsPath   string        `yaml:"listings_path" default:"/meine-auftraege"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		CookieFile     string        `yaml:"cookie_file" default:"session.json"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
		HeadlessMode   bool          `yaml:"headless_mode" default:"true"`
		UserAgent      string        `yaml:"user_agent"`
		RateLimit      int           `yaml:"rate_limit" default:"30"` // portal requests per minute
	} `yaml:"portal"`

	Notify struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		SMTPHost string `yaml:"smtp_host" default:"smtp.gmail.com"`
		SMTPPort int    `yaml:"smtp_port" default:"587"`
		From     string `yaml:"from"`
		To       string `yaml:"to"`
		Password string `yaml:"password"`
	} `yaml:"notify"`

	Dedup struct {
		MaxEntries int `yaml:"max_entries" default:"1000"`
	} `yaml:"dedup"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`

		Adapters []struct {
			Name    string                 `yaml:"name"`
			Type    string                 `yaml:"type"`
			Enabled bool                   `yaml:"enabled"`
			Options map[string]interface{} `yaml:"options"`
		} `yaml:"adapters"`
	} `yaml:"logging"`
}

// expandEnvVars expands environment variables in a string using ${VAR} or $VAR syntax
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	re2 := regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	s = re2.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	config := &Config{}

	// Set defaults
	config.Server.Port = 8080
	config.Server.Host = "0.0.0.0"
	config.Server.ReadTimeout = 30 * time.Second
	config.Server.WriteTimeout = 30 * time.Second
	config.Server.IdleTimeout = 60 * time.Second

	config.Mailbox.Host = "imap.gmail.com"
	config.Mailbox.Port = 993
	config.Mailbox.PollInterval = 20 * time.Second
	config.Mailbox.MaxAttempts = 3

	config.Portal.LoginPath = "/login"
	config.Portal.ListingsPath = "/meine-auftraege"
	config.Portal.CookieFile = "session.json"
	config.Portal.RequestTimeout = 30 * time.Second
	config.Portal.HeadlessMode = true
	config.Portal.RateLimit = 30
	config.Portal.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	config.Notify.Enabled = true
	config.Notify.SMTPHost = "smtp.gmail.com"
	config.Notify.SMTPPort = 587

	config.Dedup.MaxEntries = 1000

	config.Logging.Level = "info"
	config.Logging.Format = "json"

	// Load from YAML file if it exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			yamlContent := expandEnvVars(string(data))

			if err := yaml.Unmarshal([]byte(yamlContent), config); err != nil {
				return nil, err
			}
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	return config, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}

	if v := os.Getenv("IMAP_HOST"); v != "" {
		c.Mailbox.Host = v
	}

	if v := os.Getenv("IMAP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Mailbox.Port = p
		}
	}

	if v := os.Getenv("IMAP_USERNAME"); v != "" {
		c.Mailbox.Username = v
	}

	if v := os.Getenv("IMAP_PASSWORD"); v != "" {
		c.Mailbox.Password = v
	}

	if v := os.Getenv("MAILBOX_SENDER"); v != "" {
		c.Mailbox.Sender = v
	}

	if v := os.Getenv("MAILBOX_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Mailbox.PollInterval = d
		}
	}

	if v := os.Getenv("PORTAL_BASE_URL"); v != "" {
		c.Portal.BaseURL = v
	}

	if v := os.Getenv("PORTAL_USERNAME"); v != "" {
		c.Portal.Username = v
	}

	if v := os.Getenv("PORTAL_PASSWORD"); v != "" {
		c.Portal.Password = v
	}

	if v := os.Getenv("PORTAL_COOKIE_FILE"); v != "" {
		c.Portal.CookieFile = v
	}

	if v := os.Getenv("PORTAL_HEADLESS"); v != "" {
		c.Portal.HeadlessMode = v == "true" || v == "1"
	}

	if v := os.Getenv("PORTAL_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Portal.RequestTimeout = d
		}
	}

	if v := os.Getenv("NOTIFY_ENABLED"); v != "" {
		c.Notify.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.Notify.SMTPHost = v
	}

	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Notify.SMTPPort = p
		}
	}

	if v := os.Getenv("NOTIFY_FROM"); v != "" {
		c.Notify.From = v
	}

	if v := os.Getenv("NOTIFY_TO"); v != "" {
		c.Notify.To = v
	}

	if v := os.Getenv("NOTIFY_PASSWORD"); v != "" {
		c.Notify.Password = v
	}

	if v := os.Getenv("DEDUP_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dedup.MaxEntries = n
		}
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}
}

// Validate checks that all required fields are present. Missing
// credentials are a fatal startup error, not a runtime error.
func (c *Config) Validate() error {
	var missing []string

	if c.Portal.BaseURL == "" {
		missing = append(missing, "portal.base_url")
	}
	if c.Portal.Username == "" {
		missing = append(missing, "portal.username")
	}
	if c.Portal.Password == "" {
		missing = append(missing, "portal.password")
	}
	if c.Mailbox.Username == "" {
		missing = append(missing, "mailbox.username")
	}
	if c.Mailbox.Password == "" {
		missing = append(missing, "mailbox.password")
	}
	if c.Mailbox.Sender == "" {
		missing = append(missing, "mailbox.sender")
	}
	if c.Notify.Enabled {
		if c.Notify.From == "" {
			missing = append(missing, "notify.from")
		}
		if c.Notify.To == "" {
			missing = append(missing, "notify.to")
		}
	}

	if len(missing) > 0 {
		return utils.NewConfigError(fmt.Sprintf("missing required configuration: %v", missing))
	}

	if c.Mailbox.PollInterval < time.Second {
		return utils.NewConfigError(fmt.Sprintf("mailbox.poll_interval must be at least 1s, got %s", c.Mailbox.PollInterval))
	}
	if c.Dedup.MaxEntries <= 0 {
		return utils.NewConfigError(fmt.Sprintf("dedup.max_entries must be positive, got %d", c.Dedup.MaxEntries))
	}

	return nil
}
