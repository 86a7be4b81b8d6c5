package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"webcrawler/pkg/utils"
)

// AppConfig holds the crawler configuration loaded from YAML.
type AppConfig struct {
	MaxDepth              int                `yaml:"max_depth"`
	AllowedDomains        []string           `yaml:"allowed_domains,omitempty"`        // Empty = unrestricted
	BlacklistedExtensions ExtensionBlacklist `yaml:"blacklisted_extensions,omitempty"` // Inline list or file path
	RequestsPerSecond     float64            `yaml:"requests_per_second,omitempty"`    // <= 0 disables limiting
	MaxRetries            int                `yaml:"max_retries,omitempty"`            // Total fetch attempts
	MaxRedirects          int                `yaml:"max_redirects,omitempty"`
	InitialRetryDelay     time.Duration      `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay         time.Duration      `yaml:"max_retry_delay,omitempty"`
	FetchTimeout          time.Duration      `yaml:"fetch_timeout,omitempty"`
	UserAgent             string             `yaml:"user_agent,omitempty"`
	RespectRobots         bool               `yaml:"respect_robots,omitempty"`
	DatabasePath          string             `yaml:"database_path,omitempty"`
	StateFile             string             `yaml:"state_file,omitempty"`
	HTTPClientSettings    HTTPClientConfig   `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client.
type HTTPClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// ExtensionBlacklist is the set of file extensions excluded from
// crawling. In YAML it is either a sequence of literal extensions or a
// scalar path to a file holding one extension per line. The file is
// read during Resolve, not during unmarshalling.
type ExtensionBlacklist struct {
	Extensions []string
	File       string
}

// UnmarshalYAML accepts a sequence (literal list) or a scalar (file
// path). Any other YAML kind is a fatal configuration error.
func (b *ExtensionBlacklist) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		return value.Decode(&b.Extensions)
	case yaml.ScalarNode:
		return value.Decode(&b.File)
	default:
		return fmt.Errorf("%w: blacklisted_extensions must be a list or a file path, got %s",
			utils.ErrConfigInvalid, kindName(value.Kind))
	}
}

// MarshalYAML emits the literal list when present, otherwise the path.
func (b ExtensionBlacklist) MarshalYAML() (any, error) {
	if b.File != "" && len(b.Extensions) == 0 {
		return b.File, nil
	}
	return b.Extensions, nil
}

// Resolve returns the effective extension list. When the blacklist is
// file-based, the file is read line by line; blank lines and lines
// starting with '#' are ignored. An unreadable file degrades to an
// empty blacklist with a warning rather than failing the crawl.
func (b *ExtensionBlacklist) Resolve() (exts []string, warnings []string) {
	if len(b.Extensions) > 0 {
		return b.Extensions, nil
	}
	if b.File == "" {
		return nil, nil
	}

	f, err := os.Open(b.File)
	if err != nil {
		return nil, []string{fmt.Sprintf(
			"blacklist file %q unreadable (%v), continuing with an empty blacklist", b.File, err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exts = append(exts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, []string{fmt.Sprintf(
			"error reading blacklist file %q (%v), continuing with an empty blacklist", b.File, err)}
	}
	return exts, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// Load reads and parses the config file at path.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}
