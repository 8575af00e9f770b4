// Package config loads the sorter settings from an optional YAML file and the
// environment. Environment values win over file values.
package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
)

// Defaults and clamp bounds.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 8080
	DefaultPath     = "/v1/ws"
	DefaultUsername = "SorterBot"

	DefaultSortRadius = 16
	MinSortRadius     = 1
	MaxSortRadius     = 128

	DefaultSortIntervalSec = 30
	DefaultScanIntervalSec = 30
	MinIntervalSec         = 5
	MaxIntervalSec         = 3600

	DefaultChestSearchRadius = 1
	MinChestSearchRadius     = 1
	MaxChestSearchRadius     = 4
)

type Config struct {
	// Connection settings are passed to the world client unchanged.
	Host     string
	Port     int
	Path     string
	Username string
	Version  string
	Auth     string
	Token    string

	SortRadius        int
	SortInterval      time.Duration
	ScanInterval      time.Duration
	ChestSearchRadius int

	TagsFile  string
	LogLevel  string
	LogFormat string
}

// setting pairs an environment variable with its YAML file key.
type setting struct{ env, file string }

var (
	keyHost         = setting{"VC_HOST", "host"}
	keyPort         = setting{"VC_PORT", "port"}
	keyPath         = setting{"VC_PATH", "path"}
	keyUsername     = setting{"VC_USERNAME", "username"}
	keyVersion      = setting{"VC_VERSION", "version"}
	keyAuth         = setting{"VC_AUTH", "auth"}
	keyToken        = setting{"VC_TOKEN", "token"}
	keySortRadius   = setting{"SORT_RADIUS", "sort_radius"}
	keySortInterval = setting{"SORT_INTERVAL", "sort_interval"}
	keyScanInterval = setting{"SORT_SCAN_INTERVAL", "scan_interval"}
	keyChestRadius  = setting{"CHEST_SEARCH_RADIUS", "chest_search_radius"}
	keyTagsFile     = setting{"SORT_TAGS_FILE", "tags_file"}
	keyLogLevel     = setting{"LOG_LEVEL", "log_level"}
	keyLogFormat    = setting{"LOG_FORMAT", "log_format"}
)

// Load reads path (if non-empty) and overlays getenv. A nil getenv uses
// os.Getenv. Only a missing or malformed file is an error; bad values fall
// back to defaults.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	file, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	get := func(k setting, def string) string {
		if v := strings.TrimSpace(getenv(k.env)); v != "" {
			return v
		}
		if v, ok := file[k.file]; ok && v != "" {
			return v
		}
		return def
	}

	c := Config{
		Host:      get(keyHost, DefaultHost),
		Path:      get(keyPath, DefaultPath),
		Username:  get(keyUsername, DefaultUsername),
		Version:   get(keyVersion, protocol.Version),
		Auth:      get(keyAuth, ""),
		Token:     get(keyToken, ""),
		TagsFile:  get(keyTagsFile, ""),
		LogLevel:  strings.ToLower(get(keyLogLevel, "info")),
		LogFormat: strings.ToLower(get(keyLogFormat, "console")),
	}

	c.Port = DefaultPort
	if p, err := strconv.Atoi(get(keyPort, "")); err == nil && p > 0 && p <= 65535 {
		c.Port = p
	}

	c.SortRadius = int(ClampNumber(get(keySortRadius, ""), MinSortRadius, MaxSortRadius, DefaultSortRadius))
	c.SortInterval = seconds(ClampNumber(get(keySortInterval, ""), MinIntervalSec, MaxIntervalSec, DefaultSortIntervalSec))
	c.ScanInterval = seconds(ClampNumber(get(keyScanInterval, ""), MinIntervalSec, MaxIntervalSec, DefaultScanIntervalSec))
	c.ChestSearchRadius = int(ClampNumber(get(keyChestRadius, ""), MinChestSearchRadius, MaxChestSearchRadius, DefaultChestSearchRadius))
	return c, nil
}

// ClampNumber parses raw and clamps it to [min, max]. Empty, non-numeric
// and non-finite input yields fallback.
func ClampNumber(raw string, min, max, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Min(math.Max(v, min), max)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// URL is the websocket endpoint of the world server.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.Path,
	}
	return u.String()
}

func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}
