// Package config loads the daemon configuration: a YAML file with
// ${VAR} placeholder resolution, flat environment variable overrides on
// top, defaults for everything optional, and aggregated validation so one
// failed start reports every problem at once.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snapetech/showsyncr/internal/safeurl"
)

// DefaultPath is used when neither the -config flag nor CONFIG_PATH names a
// file.
const DefaultPath = "/config/config.yaml"

// TVMaze configures the upstream catalog client.
type TVMaze struct {
	APIKey       string `yaml:"api_key"`
	RateLimit    int    `yaml:"rate_limit"`
	UpdateWindow string `yaml:"update_window"` // day, week, month
}

// Sync holds the cycle cadence as duration literals; Intervals returns them
// parsed.
type Sync struct {
	PollInterval string `yaml:"poll_interval"`
	RetryDelay   string `yaml:"retry_delay"`
	AbandonAfter string `yaml:"abandon_after"`

	poll    time.Duration
	retry   time.Duration
	abandon time.Duration
}

// Intervals returns the parsed cadence values. Valid only after Load, which
// proves they parse.
func (s Sync) Intervals() (poll, retry, abandon time.Duration) {
	return s.poll, s.retry, s.abandon
}

// Exclude lists attribute values that reject a show outright.
type Exclude struct {
	Genres    []string `yaml:"genres"`
	Types     []string `yaml:"types"`
	Languages []string `yaml:"languages"`
	Countries []string `yaml:"countries"`
	Networks  []string `yaml:"networks"`
}

// DateRange bounds a date field with ISO date strings. Either side may be
// empty.
type DateRange struct {
	After  string `yaml:"after"`
	Before string `yaml:"before"`
}

// FloatRange bounds a fractional field. Nil sides are unbounded.
type FloatRange struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// IntRange bounds an integer field. Nil sides are unbounded.
type IntRange struct {
	Min *int `yaml:"min"`
	Max *int `yaml:"max"`
}

// Selection is one acceptance rule. A show must satisfy every populated
// criterion; empty lists and nil ranges are no constraint.
type Selection struct {
	Name      string      `yaml:"name"`
	Languages []string    `yaml:"languages"`
	Countries []string    `yaml:"countries"`
	Genres    []string    `yaml:"genres"`
	Types     []string    `yaml:"types"`
	Networks  []string    `yaml:"networks"`
	Status    []string    `yaml:"status"`
	Premiered *DateRange  `yaml:"premiered"`
	Ended     *DateRange  `yaml:"ended"`
	Rating    *FloatRange `yaml:"rating"`
	Runtime   *IntRange   `yaml:"runtime"`
}

// Selector references a Sonarr entity by numeric ID or by name. YAML may
// spell it either way; both normalize to the string form the client
// resolves at startup.
type Selector string

func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a name or numeric ID", node.Line)
	}
	*s = Selector(node.Value)
	return nil
}

// Sonarr identifies the downstream instance and the library parameters.
type Sonarr struct {
	URL             string     `yaml:"url"`
	APIKey          string     `yaml:"api_key"`
	RootFolder      string     `yaml:"root_folder"`
	QualityProfile  Selector   `yaml:"quality_profile"`
	LanguageProfile Selector   `yaml:"language_profile"`
	Monitor         string     `yaml:"monitor"`
	SearchOnAdd     bool       `yaml:"search_on_add"`
	Tags            []Selector `yaml:"tags"`
}

// Storage names the directory holding the show cache and sync state.
type Storage struct {
	Path string `yaml:"path"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

type Server struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the whole configuration tree.
type Config struct {
	TVMaze     TVMaze      `yaml:"tvmaze"`
	Sync       Sync        `yaml:"sync"`
	Exclude    Exclude     `yaml:"exclude"`
	Selections []Selection `yaml:"selections"`
	Sonarr     Sonarr      `yaml:"sonarr"`
	Storage    Storage     `yaml:"storage"`
	Logging    Logging     `yaml:"logging"`
	Server     Server      `yaml:"server"`
	// DryRun defaults to true; live adds must be enabled explicitly.
	DryRun bool `yaml:"dry_run"`
}

// defaults are applied before the file is decoded, so absent keys keep them
// and present keys override them.
func defaultConfig() Config {
	return Config{
		TVMaze:  TVMaze{RateLimit: 20, UpdateWindow: "week"},
		Sync:    Sync{PollInterval: "6h", RetryDelay: "1w", AbandonAfter: "1y"},
		Sonarr:  Sonarr{Monitor: "all", SearchOnAdd: true},
		Storage: Storage{Path: "/data"},
		Logging: Logging{Level: "INFO", Format: "json"},
		Server:  Server{Enabled: true, Port: 8080},
		DryRun:  true,
	}
}

// Load reads the configuration from path. An empty path falls back to
// CONFIG_PATH, then DefaultPath. A missing file is not an error; the whole
// configuration can come from environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = DefaultPath
		}
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fall through to env-only configuration.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file: %w", err)
		}
		if err := resolvePlaceholders(&root); err != nil {
			return nil, err
		}
		if !root.IsZero() {
			if err := root.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("invalid YAML in config file: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate aggregates every problem into one error so a bad deployment
// surfaces all of them on the first start.
func (c *Config) validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Sonarr.URL == "" {
		fail("sonarr.url is required")
	} else if !safeurl.IsHTTPOrHTTPS(c.Sonarr.URL) {
		fail("invalid sonarr.url %q, must be an http or https URL", c.Sonarr.URL)
	}
	if c.Sonarr.APIKey == "" {
		fail("sonarr.api_key is required")
	}
	if c.Sonarr.RootFolder == "" {
		fail("sonarr.root_folder is required")
	}
	if c.Sonarr.QualityProfile == "" {
		fail("sonarr.quality_profile is required")
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		fail("invalid logging.level %q, must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		fail("invalid logging.format %q, must be json or text", c.Logging.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("invalid server.port %d, must be between 1 and 65535", c.Server.Port)
	}

	switch c.TVMaze.UpdateWindow {
	case "day", "week", "month":
	default:
		fail("invalid tvmaze.update_window %q, must be day, week or month", c.TVMaze.UpdateWindow)
	}

	switch c.Sonarr.Monitor {
	case "all", "future", "missing", "existing", "pilot", "firstSeason", "latestSeason", "none":
	default:
		fail("invalid sonarr.monitor %q, must be one of all, future, missing, existing, pilot, firstSeason, latestSeason, none", c.Sonarr.Monitor)
	}

	var err error
	if c.Sync.poll, err = ParseDuration(c.Sync.PollInterval); err != nil {
		fail("sync.poll_interval: %v", err)
	}
	if c.Sync.retry, err = ParseDuration(c.Sync.RetryDelay); err != nil {
		fail("sync.retry_delay: %v", err)
	}
	if c.Sync.abandon, err = ParseDuration(c.Sync.AbandonAfter); err != nil {
		fail("sync.abandon_after: %v", err)
	}

	for i, sel := range c.Selections {
		name := sel.Name
		if name == "" {
			name = fmt.Sprintf("selection[%d]", i)
		}
		checkDate := func(field, v string) {
			if v == "" {
				return
			}
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				fail("invalid %s.%s %q, must be an ISO date (YYYY-MM-DD)", name, field, v)
			}
		}
		if sel.Premiered != nil {
			checkDate("premiered.after", sel.Premiered.After)
			checkDate("premiered.before", sel.Premiered.Before)
		}
		if sel.Ended != nil {
			checkDate("ended.after", sel.Ended.After)
			checkDate("ended.before", sel.Ended.Before)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TagStrings returns the tag selectors as plain strings for the Sonarr
// client.
func (s Sonarr) TagStrings() []string {
	if len(s.Tags) == 0 {
		return nil
	}
	out := make([]string, len(s.Tags))
	for i, t := range s.Tags {
		out[i] = string(t)
	}
	return out
}

// applyEnvOverrides layers flat SECTION_KEY environment variables over the
// decoded file. Selections are file-only; their nesting has no flat
// spelling.
func applyEnvOverrides(cfg *Config) error {
	setString("TVMAZE_API_KEY", &cfg.TVMaze.APIKey)
	if err := setInt("TVMAZE_RATE_LIMIT", &cfg.TVMaze.RateLimit); err != nil {
		return err
	}
	setString("TVMAZE_UPDATE_WINDOW", &cfg.TVMaze.UpdateWindow)

	setString("SYNC_POLL_INTERVAL", &cfg.Sync.PollInterval)
	setString("SYNC_RETRY_DELAY", &cfg.Sync.RetryDelay)
	setString("SYNC_ABANDON_AFTER", &cfg.Sync.AbandonAfter)

	setList("EXCLUDE_GENRES", &cfg.Exclude.Genres)
	setList("EXCLUDE_TYPES", &cfg.Exclude.Types)
	setList("EXCLUDE_LANGUAGES", &cfg.Exclude.Languages)
	setList("EXCLUDE_COUNTRIES", &cfg.Exclude.Countries)
	setList("EXCLUDE_NETWORKS", &cfg.Exclude.Networks)

	setString("SONARR_URL", &cfg.Sonarr.URL)
	setString("SONARR_API_KEY", &cfg.Sonarr.APIKey)
	setString("SONARR_ROOT_FOLDER", &cfg.Sonarr.RootFolder)
	setSelector("SONARR_QUALITY_PROFILE", &cfg.Sonarr.QualityProfile)
	setSelector("SONARR_LANGUAGE_PROFILE", &cfg.Sonarr.LanguageProfile)
	setString("SONARR_MONITOR", &cfg.Sonarr.Monitor)
	setBool("SONARR_SEARCH_ON_ADD", &cfg.Sonarr.SearchOnAdd)
	if v, ok := os.LookupEnv("SONARR_TAGS"); ok {
		cfg.Sonarr.Tags = nil
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				cfg.Sonarr.Tags = append(cfg.Sonarr.Tags, Selector(item))
			}
		}
	}

	setString("STORAGE_PATH", &cfg.Storage.Path)
	setString("LOGGING_LEVEL", &cfg.Logging.Level)
	setString("LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("SERVER_ENABLED", &cfg.Server.Enabled)
	if err := setInt("SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	setBool("DRY_RUN", &cfg.DryRun)
	return nil
}

func setString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func setSelector(name string, dst *Selector) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = Selector(v)
	}
}

func setInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer", name)
	}
	*dst = n
	return nil
}

// setBool treats true/1/yes/on (any case) as true and everything else as
// false.
func setBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	default:
		*dst = false
	}
}

func setList(name string, dst *[]string) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
