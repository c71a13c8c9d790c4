package serverops

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
)

// Config is the immutable runtime configuration, built once at startup and
// passed by value to each component. Numeric settings stay as strings here and
// are parsed at the wiring site.
type Config struct {
	OllamaBackend string `json:"ollama_backend"`
	ListenPort    string `json:"listen_port"`
	Addr          string `json:"addr"`
	DBPath        string `json:"db_path"`
	RateLimit     string `json:"rate_limit"`
	DiskPath      string `json:"disk_path"`
	DiskThreshold string `json:"disk_threshold"`
	CleanupDays   string `json:"cleanup_days"`

	HFToken   string `json:"hf_token"`
	HFAPIBase string `json:"hf_api_base"`
	CacheDir  string `json:"cache_dir"`

	ConvertCmd  string `json:"convert_cmd"`
	QuantizeCmd string `json:"quantize_cmd"`
	KeepWorkdir string `json:"keep_workdir"`

	NATSURL      string `json:"nats_url"`
	NATSUser     string `json:"nats_user"`
	NATSPassword string `json:"nats_password"`
}

// DefaultConfig returns the settings used when the environment leaves them unset.
func DefaultConfig() Config {
	return Config{
		OllamaBackend: "http://127.0.0.1:11435",
		ListenPort:    "11434",
		Addr:          "0.0.0.0",
		DBPath:        "/var/lib/ollamagate/queue.db",
		RateLimit:     "5",
		DiskPath:      "/data/ollama",
		DiskThreshold: "90",
		CleanupDays:   "30",
		HFAPIBase:     "https://huggingface.co",
		CacheDir:      "/var/lib/ollamagate/cache",
		ConvertCmd:    "convert-hf-to-gguf",
		QuantizeCmd:   "llama-quantize",
	}
}

// LoadConfig fills cfg from the process environment and merges in the defaults
// for everything left unset.
func LoadConfig(cfg *Config) error {
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("this is a bug, loadConfig failed to marshal environment variables: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("this is a bug, loadConfig failed to unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if err := mergo.Merge(cfg, defaults); err != nil {
		return fmt.Errorf("failed to merge default configuration: %w", err)
	}

	return nil
}

// ValidateConfig checks the parseable settings once so the wiring sites can
// Atoi without re-checking.
func ValidateConfig(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("missing required configuration: DBPath")
	}
	if _, err := strconv.Atoi(cfg.ListenPort); err != nil {
		return fmt.Errorf("invalid LISTEN_PORT %q: %w", cfg.ListenPort, err)
	}
	if _, err := strconv.Atoi(cfg.RateLimit); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT %q: %w", cfg.RateLimit, err)
	}
	if _, err := strconv.Atoi(cfg.DiskThreshold); err != nil {
		return fmt.Errorf("invalid DISK_THRESHOLD %q: %w", cfg.DiskThreshold, err)
	}
	if _, err := strconv.Atoi(cfg.CleanupDays); err != nil {
		return fmt.Errorf("invalid CLEANUP_DAYS %q: %w", cfg.CleanupDays, err)
	}
	if !strings.HasPrefix(cfg.OllamaBackend, "http://") && !strings.HasPrefix(cfg.OllamaBackend, "https://") {
		return fmt.Errorf("invalid OLLAMA_BACKEND %q: must be an http(s) URL", cfg.OllamaBackend)
	}
	return nil
}
