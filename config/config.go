package config

import (
	"fmt"
	"os"
	"strings"

	"feedsync/models"

	"github.com/BurntSushi/toml"
)

const (
	KindLive  = "live"
	KindPaged = "paged"

	ProviderHTTP    = "http"
	ProviderYouTube = "youtube"
	ProviderRSS     = "rss"

	LiveSourceWS    = "ws"
	LiveSourceStore = "store"
)

// TomlLive configures where live feeds get their snapshots from
type TomlLive struct {
	// Source is "ws" for a remote hub or "store" for the local document store
	Source    string   `toml:"source"`
	Hosts     []string `toml:"hosts"`
	Compress  bool     `toml:"compress"`
	UserAgent string   `toml:"user_agent"`
}

// TomlFilter represents the inclusion predicate applied to each fetched page
type TomlFilter struct {
	OwnerField    string            `toml:"owner_field,omitempty"`
	Owner         string            `toml:"owner,omitempty"`
	TitleContains string            `toml:"title_contains,omitempty"`
	Languages     []string          `toml:"languages,omitempty"`
	Fields        map[string]string `toml:"fields,omitempty"` // field = value, accent insensitive
}

// TomlFeed represents feed configuration
type TomlFeed struct {
	Id          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Description string `toml:"description"`
	Kind        string `toml:"kind"`

	// Live feeds
	Collection string `toml:"collection,omitempty"`
	OrderField string `toml:"order_field,omitempty"`
	Direction  string `toml:"direction,omitempty"`

	// Paged feeds
	Provider      string     `toml:"provider,omitempty"`
	Endpoint      string     `toml:"endpoint,omitempty"`
	ChannelId     string     `toml:"channel_id,omitempty"`
	ApiKey        string     `toml:"api_key,omitempty"`
	ApiKeyEnv     string     `toml:"api_key_env,omitempty"`
	TokenEnv      string     `toml:"token_env,omitempty"`
	PageSize      int        `toml:"page_size,omitempty"`
	MaxPages      int        `toml:"max_pages,omitempty"`
	RatePerSecond float64    `toml:"rate_per_second,omitempty"`
	Filter        TomlFilter `toml:"filter,omitempty"`

	TimestampField string `toml:"timestamp_field,omitempty"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Live  TomlLive   `toml:"live"`
	Feeds []TomlFeed `toml:"feeds"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.Live.Source == "" {
		config.Live.Source = LiveSourceWS
	}

	return &config, nil
}

// APIKey returns the inline key or, failing that, the one in ApiKeyEnv.
func (f TomlFeed) APIKey() string {
	if f.ApiKey != "" {
		return f.ApiKey
	}
	if f.ApiKeyEnv != "" {
		return os.Getenv(f.ApiKeyEnv)
	}
	return ""
}

func (f TomlFeed) Token() string {
	if f.TokenEnv == "" {
		return ""
	}
	return os.Getenv(f.TokenEnv)
}

// TimestampFieldOrDefault picks the field holding the item timestamp.
// Provider-backed documents carry "publishedAt".
func (f TomlFeed) TimestampFieldOrDefault() string {
	if f.TimestampField != "" {
		return f.TimestampField
	}
	if f.Kind == KindPaged && (f.Provider == ProviderYouTube || f.Provider == ProviderRSS) {
		return "publishedAt"
	}
	return models.DefaultTimestampField
}

// Feed looks up a feed by id
func (c *TomlConfig) Feed(id string) (TomlFeed, bool) {
	for _, f := range c.Feeds {
		if f.Id == id {
			return f, true
		}
	}
	return TomlFeed{}, false
}

// Validate checks the whole file before anything is fetched. Every problem
// is reported, wrapped in models.ErrConfiguration.
func (c *TomlConfig) Validate() error {
	var problems []string
	seen := map[string]bool{}

	switch c.Live.Source {
	case "", LiveSourceWS, LiveSourceStore:
	default:
		problems = append(problems, fmt.Sprintf("unknown live source %q", c.Live.Source))
	}

	for i, f := range c.Feeds {
		name := f.Id
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			problems = append(problems, fmt.Sprintf("feed %s has no id", name))
		} else if seen[f.Id] {
			problems = append(problems, fmt.Sprintf("feed id %s is used more than once", f.Id))
		}
		seen[f.Id] = true

		switch f.Kind {
		case KindLive:
			if f.Collection == "" {
				problems = append(problems, fmt.Sprintf("live feed %s has no collection", name))
			}
			if d := strings.ToLower(f.Direction); d != "" && d != "asc" && d != "desc" {
				problems = append(problems, fmt.Sprintf("live feed %s has invalid direction %q", name, f.Direction))
			}
			if (c.Live.Source == "" || c.Live.Source == LiveSourceWS) && len(c.Live.Hosts) == 0 {
				problems = append(problems, fmt.Sprintf("live feed %s needs [live] hosts", name))
			}
		case KindPaged:
			problems = append(problems, f.validatePaged(name)...)
		default:
			problems = append(problems, fmt.Sprintf("feed %s has unknown kind %q", name, f.Kind))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func (f TomlFeed) validatePaged(name string) []string {
	var problems []string
	switch f.Provider {
	case ProviderHTTP, ProviderRSS:
		if f.Endpoint == "" {
			problems = append(problems, fmt.Sprintf("feed %s has no endpoint", name))
		}
	case ProviderYouTube:
		if f.ChannelId == "" {
			problems = append(problems, fmt.Sprintf("feed %s has no channel_id", name))
		}
		if f.APIKey() == "" {
			problems = append(problems, fmt.Sprintf("feed %s is missing its youtube api key", name))
		}
	default:
		problems = append(problems, fmt.Sprintf("feed %s has unknown provider %q", name, f.Provider))
	}
	if f.PageSize < 0 || f.MaxPages < 0 || f.RatePerSecond < 0 {
		problems = append(problems, fmt.Sprintf("feed %s has negative limits", name))
	}
	return problems
}
