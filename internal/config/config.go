package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models outreach.yml.
type Config struct {
	Campaign struct {
		Context        string   `yaml:"context"`
		MaxMessages    int      `yaml:"max_messages"`
		BaseDelay      Duration `yaml:"base_delay"`
		CSVType        string   `yaml:"csv_type"`
		FilterKeywords string   `yaml:"filter_keywords"`
	} `yaml:"campaign"`
	Pacing    Pacing    `yaml:"pacing"`
	Store     Store     `yaml:"store"`
	Messaging Messaging `yaml:"messaging"`
	Generator Generator `yaml:"generator"`
	Notify    struct {
		PubSub struct {
			ProjectID       string `yaml:"project_id"`
			Topic           string `yaml:"topic"`
			CredentialsFile string `yaml:"credentials_file"`
		} `yaml:"pubsub"`
	} `yaml:"notify"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

type Pacing struct {
	DelayFloor       Duration `yaml:"delay_floor"`
	JitterMin        Duration `yaml:"jitter_min"`
	JitterMax        Duration `yaml:"jitter_max"`
	SkipPauseMin     Duration `yaml:"skip_pause_min"`
	SkipPauseMax     Duration `yaml:"skip_pause_max"`
	ErrorPauseMin    Duration `yaml:"error_pause_min"`
	ErrorPauseMax    Duration `yaml:"error_pause_max"`
	CooldownMin      Duration `yaml:"cooldown_min"`
	CooldownMax      Duration `yaml:"cooldown_max"`
	RateLimitWait    Duration `yaml:"rate_limit_wait"`
	FailureWindow    Duration `yaml:"failure_window"`
	MinMessageLength int      `yaml:"min_message_length"`
}

type Store struct {
	Backend   string `yaml:"backend"`
	Workspace string `yaml:"workspace"`
	Firestore struct {
		ProjectID       string `yaml:"project_id"`
		Collection      string `yaml:"collection"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firestore"`
}

type Messaging struct {
	BaseURL   string   `yaml:"base_url"`
	SessionID string   `yaml:"session_id"`
	Proxy     string   `yaml:"proxy"`
	Timeout   Duration `yaml:"timeout"`
}

type Generator struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int32   `yaml:"max_tokens"`
	// Timeout bounds one generation request.
	Timeout Duration `yaml:"timeout"`
}

type Server struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	UploadDir string `yaml:"upload_dir"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	CSVTypeList      = "list"
	CSVTypeFollowers = "followers"
)

// Duration decodes either a Go duration string ("90s") or integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with outreach config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return parse(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "outreach.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses, normalizes and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// parse layers the file over the defaults without validating.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills zero values with defaults and clamps the base delay to the
// safety floor. It returns a warning for every value it had to raise.
func (c *Config) Normalize() []string {
	var warnings []string
	p := &c.Pacing
	setDuration(&p.DelayFloor, 30*time.Second)
	setDuration(&p.JitterMin, 30*time.Second)
	setDuration(&p.JitterMax, 90*time.Second)
	setDuration(&p.SkipPauseMin, time.Second)
	setDuration(&p.SkipPauseMax, 3*time.Second)
	setDuration(&p.ErrorPauseMin, 5*time.Second)
	setDuration(&p.ErrorPauseMax, 15*time.Second)
	setDuration(&p.CooldownMin, 3*time.Minute)
	setDuration(&p.CooldownMax, 5*time.Minute)
	setDuration(&p.RateLimitWait, 5*time.Minute)
	setDuration(&p.FailureWindow, 15*time.Second)
	if p.MinMessageLength <= 0 {
		p.MinMessageLength = 10
	}

	if c.Campaign.BaseDelay <= 0 {
		c.Campaign.BaseDelay = Duration(90 * time.Second)
	}
	if c.Campaign.BaseDelay < p.DelayFloor {
		warnings = append(warnings, fmt.Sprintf("base delay %s is below the %s floor; raised to the floor",
			c.Campaign.BaseDelay.Std(), p.DelayFloor.Std()))
		c.Campaign.BaseDelay = p.DelayFloor
	}
	if c.Campaign.MaxMessages < 0 {
		c.Campaign.MaxMessages = 0
	}
	if c.Campaign.CSVType == "" {
		c.Campaign.CSVType = CSVTypeList
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.Workspace == "" {
		c.Store.Workspace = "."
	}
	if c.Store.Firestore.Collection == "" {
		c.Store.Firestore.Collection = "outcomes"
	}
	setDuration(&c.Messaging.Timeout, 30*time.Second)
	setDuration(&c.Generator.Timeout, 60*time.Second)
	if c.Generator.Provider == "" {
		c.Generator.Provider = ProviderGemini
	}
	if c.Generator.Temperature == 0 {
		c.Generator.Temperature = 0.8
	}
	if c.Generator.MaxTokens == 0 {
		c.Generator.MaxTokens = 70
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:3000"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return warnings
}

func setDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

// Validate checks the static shape of the config. Credentials are checked
// separately by ValidateCredentials since the server accepts them per launch.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("store.firestore.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendSQLite, BackendFirestore)
	}
	switch c.Generator.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("generator.provider must be %q or %q", ProviderGemini, ProviderOpenAI)
	}
	switch c.Campaign.CSVType {
	case CSVTypeList, CSVTypeFollowers:
	default:
		return fmt.Errorf("campaign.csv_type must be %q or %q", CSVTypeList, CSVTypeFollowers)
	}
	p := c.Pacing
	if p.JitterMax < p.JitterMin {
		return fmt.Errorf("pacing.jitter_max must be >= pacing.jitter_min")
	}
	if p.SkipPauseMax < p.SkipPauseMin {
		return fmt.Errorf("pacing.skip_pause_max must be >= pacing.skip_pause_min")
	}
	if p.ErrorPauseMax < p.ErrorPauseMin {
		return fmt.Errorf("pacing.error_pause_max must be >= pacing.error_pause_min")
	}
	if p.CooldownMax < p.CooldownMin {
		return fmt.Errorf("pacing.cooldown_max must be >= pacing.cooldown_min")
	}
	if c.Messaging.Proxy != "" {
		if _, err := url.Parse(c.Messaging.Proxy); err != nil {
			return fmt.Errorf("messaging.proxy is invalid: %w", err)
		}
	}
	if (c.Notify.PubSub.Topic == "") != (c.Notify.PubSub.ProjectID == "") {
		return fmt.Errorf("notify.pubsub requires both project_id and topic")
	}
	return nil
}

// ValidateCredentials ensures everything a run needs is present.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if strings.TrimSpace(c.Messaging.BaseURL) == "" {
		missing = append(missing, "messaging.base_url")
	}
	if strings.TrimSpace(c.Messaging.SessionID) == "" {
		missing = append(missing, "messaging.session_id")
	}
	if strings.TrimSpace(c.Generator.APIKey) == "" {
		missing = append(missing, "generator.api_key")
	}
	if strings.TrimSpace(c.Campaign.Context) == "" {
		missing = append(missing, "campaign.context")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Clone returns a deep copy; launch requests mutate their copy only.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

const defaultTemplate = `campaign:
  context: ""
  max_messages: 0
  base_delay: 90s
  csv_type: list
  filter_keywords: ""

pacing:
  delay_floor: 30s
  jitter_min: 30s
  jitter_max: 90s
  skip_pause_min: 1s
  skip_pause_max: 3s
  error_pause_min: 5s
  error_pause_max: 15s
  cooldown_min: 3m
  cooldown_max: 5m
  rate_limit_wait: 5m
  failure_window: 15s
  min_message_length: 10

store:
  backend: sqlite
  workspace: .
  firestore:
    project_id: ""
    collection: outcomes
    credentials_file: ""

messaging:
  base_url: ""
  session_id: ""
  proxy: ""
  timeout: 30s

generator:
  provider: gemini
  api_key: ""
  model: ""
  base_url: ""
  temperature: 0.8
  max_tokens: 70
  timeout: 60s

notify:
  pubsub:
    project_id: ""
    topic: ""
    credentials_file: ""

server:
  addr: 127.0.0.1:3000
  base_path: /v0
  upload_dir: uploads
  jwt_secret: ""

log:
  level: info
  file: outreach.log
`
