package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var allowedExtensions = []string{
	".mp4",
	".mov",
	".avi",
	".mkv",
	".jpg",
	".jpeg",
	".png",
	".mp3",
}

const (
	defaultMediaDir            = "media files"
	defaultCacheFile           = "configurations/cachedSched.json"
	defaultJournalFile         = "configurations/events.db"
	defaultJournalLimit        = 500
	defaultStatusAddr          = "127.0.0.1:8090"
	defaultPollIntervalMS      = 1000
	defaultEvaluateIntervalMS  = 500
	defaultRequestTimeoutMS    = 15000
	defaultRefreshDebounceMS   = 500
	defaultSyncRetryIntervalMS = 60000
	defaultStartupRetries      = 5
	defaultLogLevel            = "info"
)

// AllowedExtensions returns the list of media file extensions the library lists (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// ServerURL returns the schedule endpoint. It is required.
func ServerURL() (string, error) {
	value := strings.TrimSpace(os.Getenv("SIGNAGE_SERVER_URL"))
	if value == "" {
		return "", errors.New("SIGNAGE_SERVER_URL is required")
	}
	if err := ValidateURL(value); err != nil {
		return "", err
	}
	return value, nil
}

// DownloadURL returns the prefix media file names are appended to. It is required.
func DownloadURL() (string, error) {
	value := strings.TrimSpace(os.Getenv("SIGNAGE_DOWNLOAD_URL"))
	if value == "" {
		return "", errors.New("SIGNAGE_DOWNLOAD_URL is required")
	}
	if err := ValidateURL(value); err != nil {
		return "", err
	}
	return value, nil
}

// ValidateURL ensures value is an absolute http(s) URL.
func ValidateURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", value, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: must be absolute http or https", value)
	}
	return nil
}

// ResolveMediaDir returns the directory media files are downloaded into.
// The directory is created when it does not yet exist.
func ResolveMediaDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("SIGNAGE_MEDIA_DIR"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cwd, defaultMediaDir)
	}

	abs, err := resolvePath(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}

	return abs, nil
}

// ResolveCacheFile returns the absolute path of the cached schedule. Its
// parent directory is created; the file itself is written on first save.
func ResolveCacheFile() (string, error) {
	return resolveFile("SIGNAGE_CACHE_FILE", defaultCacheFile)
}

// ResolveJournalFile returns the event journal database path. The second
// return value is false when the journal is configured as "off".
func ResolveJournalFile() (string, bool, error) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SIGNAGE_JOURNAL_FILE")), "off") {
		return "", false, nil
	}
	path, err := resolveFile("SIGNAGE_JOURNAL_FILE", defaultJournalFile)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// JournalLimit returns how many events the journal retains.
func JournalLimit() int {
	return positiveInt("SIGNAGE_JOURNAL_LIMIT", defaultJournalLimit)
}

// SplashFile returns the clip played while waiting for the first schedule.
// The second return value is false when none is configured.
func SplashFile() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("SIGNAGE_SPLASH_FILE"))
	if path == "" {
		return "", false, nil
	}
	abs, err := resolvePath(path)
	if err != nil {
		return "", false, err
	}
	return abs, true, nil
}

// PollInterval returns the delay between schedule polls.
func PollInterval() time.Duration {
	return millis("SIGNAGE_POLL_INTERVAL_MS", defaultPollIntervalMS)
}

// EvaluateInterval returns how often the control loop re-evaluates playback.
func EvaluateInterval() time.Duration {
	return millis("SIGNAGE_EVALUATE_INTERVAL_MS", defaultEvaluateIntervalMS)
}

// RequestTimeout bounds a single schedule request.
func RequestTimeout() time.Duration {
	return millis("SIGNAGE_REQUEST_TIMEOUT_MS", defaultRequestTimeoutMS)
}

// RefreshDebounce returns the duration to wait before refreshing the media
// listing after file-system change events.
func RefreshDebounce() time.Duration {
	return millis("SIGNAGE_REFRESH_DEBOUNCE_MS", defaultRefreshDebounceMS)
}

// SyncRetryInterval returns the pause before retrying a schedule whose
// download batch was aborted.
func SyncRetryInterval() time.Duration {
	return millis("SIGNAGE_SYNC_RETRY_INTERVAL_MS", defaultSyncRetryIntervalMS)
}

// StartupRetries returns how many network attempts boot makes before falling
// back to the cached schedule.
func StartupRetries() int {
	return positiveInt("SIGNAGE_STARTUP_RETRIES", defaultStartupRetries)
}

// MinFreeBytes returns the free space below which downloads stop.
func MinFreeBytes() uint64 {
	value := strings.TrimSpace(os.Getenv("SIGNAGE_MIN_FREE_BYTES"))
	if value == "" {
		return 0
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// StatusAddr returns the address of the local status API. An explicitly empty
// value disables it.
func StatusAddr() string {
	addr, ok := os.LookupEnv("SIGNAGE_STATUS_ADDR")
	if !ok {
		return defaultStatusAddr
	}
	return strings.TrimSpace(addr)
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// ResolveTokenFile returns the absolute path to the status API token file when
// configured. The file is created if it does not already exist. When no file is
// configured the second return value will be false and the API is open.
func ResolveTokenFile() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("SIGNAGE_STATUS_TOKEN_FILE"))
	if path == "" {
		return "", false, nil
	}

	abs, err := resolvePath(path)
	if err != nil {
		return "", false, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", false, err
	}

	if _, err := os.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return "", false, err
		}
		file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return "", false, err
		}
		if err := file.Close(); err != nil {
			return "", false, err
		}
	}

	return abs, true, nil
}

// LogLevel returns the configured log level name.
func LogLevel() string {
	if value := strings.TrimSpace(os.Getenv("SIGNAGE_LOG_LEVEL")); value != "" {
		return value
	}
	return defaultLogLevel
}

// PlayerSettings selects the external video player. An empty Command means
// the first installed known player is used.
type PlayerSettings struct {
	Command string
	Args    []string
}

type playerSettingsYAML struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ResolvePlayer returns the player settings after applying YAML configuration
// (when enabled) and environment variable overrides.
func ResolvePlayer() (PlayerSettings, error) {
	var settings PlayerSettings

	configPath := strings.TrimSpace(os.Getenv("SIGNAGE_PLAYER_CONFIG"))
	if configPath != "" {
		resolved, err := resolvePath(configPath)
		if err != nil {
			return PlayerSettings{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return PlayerSettings{}, err
		}
		var yamlConfig playerSettingsYAML
		if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
			return PlayerSettings{}, err
		}
		if value := strings.TrimSpace(yamlConfig.Command); value != "" {
			settings.Command = value
		}
		if len(yamlConfig.Args) > 0 {
			settings.Args = yamlConfig.Args
		}
	}

	if value := strings.TrimSpace(os.Getenv("SIGNAGE_PLAYER_COMMAND")); value != "" {
		settings.Command = value
	}
	if value := strings.TrimSpace(os.Getenv("SIGNAGE_PLAYER_ARGS")); value != "" {
		settings.Args = strings.Fields(value)
	}

	return settings, nil
}

func resolveFile(env, fallback string) (string, error) {
	path := strings.TrimSpace(os.Getenv(env))
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(cwd, fallback)
	}

	abs, err := resolvePath(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Abs(path)
}

func millis(env string, fallback int) time.Duration {
	value := strings.TrimSpace(os.Getenv(env))
	if value == "" {
		return time.Duration(fallback) * time.Millisecond
	}

	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func positiveInt(env string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(env))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
