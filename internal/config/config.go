package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	BaseURL    string   `json:"base_url"`
	Model      string   `json:"model"`
	Models     []string `json:"models"`
	APIKey     string   `json:"api_key"`
	TimeoutMS  int      `json:"timeout_ms"`
	MaxRetries int      `json:"max_retries"`
}

type LoopConfig struct {
	// IntervalMS 采样间隔；一轮评估在途时到点的 tick 直接丢弃。
	// IntervalMS is the capture cadence; ticks that fire mid-round are dropped.
	IntervalMS  int `json:"interval_ms"`
	SummaryKeep int `json:"summary_keep"`
	SummarySend int `json:"summary_send"`
	HistoryCap  int `json:"history_cap"`
	MaxTokens   int `json:"max_tokens"`
	// TokenBudget 对话历史的 token 上限；超出时折叠旧回合。
	// TokenBudget bounds conversation history tokens; older turns are folded
	// into a summary when exceeded.
	TokenBudget int `json:"token_budget"`
}

type CaptureConfig struct {
	// Mode 取值 command（外部抓帧命令）或 watch（监视目录里最新的图片）。
	// Mode is either command (external frame grabber) or watch (newest image in a directory).
	Mode      string `json:"mode"`
	Device    string `json:"device"`
	Command   string `json:"command"`
	WatchDir  string `json:"watch_dir"`
	TimeoutMS int    `json:"timeout_ms"`
}

type SpeechConfig struct {
	Command   string `json:"command"`
	TimeoutMS int    `json:"timeout_ms"`
}

type BackendConfig struct {
	BaseURL   string `json:"base_url"`
	TimeoutMS int    `json:"timeout_ms"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Loop     LoopConfig     `json:"loop"`
	Capture  CaptureConfig  `json:"capture"`
	Speech   SpeechConfig   `json:"speech"`
	Backend  BackendConfig  `json:"backend"`
	Storage  StorageConfig  `json:"storage"`
}

type fileConfig struct {
	Provider *ProviderConfig `json:"provider"`
	Loop     *LoopConfig     `json:"loop"`
	Capture  *CaptureConfig  `json:"capture"`
	Speech   *SpeechConfig   `json:"speech"`
	Backend  *BackendConfig  `json:"backend"`
	Storage  *StorageConfig  `json:"storage"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:      "qwen-vl-plus",
			Models:     []string{"qwen-vl-plus"},
			TimeoutMS:  60000,
			MaxRetries: DefaultProviderMaxRetries,
		},
		Loop: LoopConfig{
			IntervalMS:  DefaultLoopIntervalMS,
			SummaryKeep: DefaultSummaryKeep,
			SummarySend: DefaultSummarySend,
			HistoryCap:  DefaultHistoryCap,
			MaxTokens:   DefaultLoopMaxTokens,
			TokenBudget: DefaultLoopTokenBudget,
		},
		Capture: CaptureConfig{
			Mode:      "command",
			Device:    "/dev/video0",
			Command:   "ffmpeg -f v4l2 -i {device} -frames:v 1 -y {output}",
			TimeoutMS: 8000,
		},
		Speech: SpeechConfig{
			TimeoutMS: 10000,
		},
		Backend: BackendConfig{
			BaseURL:   "http://127.0.0.1:8000",
			TimeoutMS: 20000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.instructor",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("INSTRUCTOR_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".instructor", "config.json"),
		filepath.Join(home, ".instructor", "config.jsonc"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"instructor.config.json",
		"instructor.config.jsonc",
		".instructor/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Loop != nil {
		cfg.Loop = mergeLoop(cfg.Loop, *fc.Loop)
	}
	if fc.Capture != nil {
		cfg.Capture = mergeCapture(cfg.Capture, *fc.Capture)
	}
	if fc.Speech != nil {
		cfg.Speech = mergeSpeech(cfg.Speech, *fc.Speech)
	}
	if fc.Backend != nil {
		cfg.Backend = mergeBackend(cfg.Backend, *fc.Backend)
	}
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if len(override.Models) > 0 {
		base.Models = append([]string(nil), override.Models...)
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	return base
}

func mergeLoop(base LoopConfig, override LoopConfig) LoopConfig {
	if override.IntervalMS > 0 {
		base.IntervalMS = override.IntervalMS
	}
	if override.SummaryKeep > 0 {
		base.SummaryKeep = override.SummaryKeep
	}
	if override.SummarySend > 0 {
		base.SummarySend = override.SummarySend
	}
	if override.HistoryCap > 0 {
		base.HistoryCap = override.HistoryCap
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.TokenBudget > 0 {
		base.TokenBudget = override.TokenBudget
	}
	return base
}

func mergeCapture(base CaptureConfig, override CaptureConfig) CaptureConfig {
	if strings.TrimSpace(override.Mode) != "" {
		base.Mode = override.Mode
	}
	if strings.TrimSpace(override.Device) != "" {
		base.Device = override.Device
	}
	if strings.TrimSpace(override.Command) != "" {
		base.Command = override.Command
	}
	if strings.TrimSpace(override.WatchDir) != "" {
		base.WatchDir = override.WatchDir
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeSpeech(base SpeechConfig, override SpeechConfig) SpeechConfig {
	if strings.TrimSpace(override.Command) != "" {
		base.Command = override.Command
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeBackend(base BackendConfig, override BackendConfig) BackendConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeStorage(base StorageConfig, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.BaseDir) != "" {
		base.BaseDir = override.BaseDir
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}
	cfg.Provider.Models = normalizeModelList(cfg.Provider.Models)
	if len(cfg.Provider.Models) == 0 {
		cfg.Provider.Models = append(cfg.Provider.Models, cfg.Provider.Model)
	}
	if !containsString(cfg.Provider.Models, cfg.Provider.Model) {
		cfg.Provider.Models = append([]string{cfg.Provider.Model}, cfg.Provider.Models...)
		cfg.Provider.Models = normalizeModelList(cfg.Provider.Models)
	}

	if cfg.Loop.IntervalMS <= 0 {
		cfg.Loop.IntervalMS = def.Loop.IntervalMS
	}
	if cfg.Loop.SummaryKeep <= 0 {
		cfg.Loop.SummaryKeep = def.Loop.SummaryKeep
	}
	if cfg.Loop.SummarySend <= 0 {
		cfg.Loop.SummarySend = def.Loop.SummarySend
	}
	if cfg.Loop.SummarySend > cfg.Loop.SummaryKeep {
		cfg.Loop.SummarySend = cfg.Loop.SummaryKeep
	}
	if cfg.Loop.HistoryCap <= 0 {
		cfg.Loop.HistoryCap = def.Loop.HistoryCap
	}
	if cfg.Loop.MaxTokens <= 0 {
		cfg.Loop.MaxTokens = def.Loop.MaxTokens
	}
	if cfg.Loop.TokenBudget <= 0 {
		cfg.Loop.TokenBudget = def.Loop.TokenBudget
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Capture.Mode))
	switch mode {
	case "":
		mode = "command"
	case "command", "watch":
	default:
		return fmt.Errorf("invalid capture.mode %q (want command or watch)", cfg.Capture.Mode)
	}
	cfg.Capture.Mode = mode
	if cfg.Capture.TimeoutMS <= 0 {
		cfg.Capture.TimeoutMS = def.Capture.TimeoutMS
	}
	if mode == "watch" {
		watchDir, err := expandPath(cfg.Capture.WatchDir)
		if err != nil {
			return err
		}
		if watchDir == "" {
			return errors.New("capture.watch_dir is required when capture.mode is watch")
		}
		cfg.Capture.WatchDir = watchDir
	}

	if cfg.Speech.TimeoutMS <= 0 {
		cfg.Speech.TimeoutMS = def.Speech.TimeoutMS
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = def.Backend.TimeoutMS
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if storageDir == "" {
		storageDir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = storageDir

	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_BACKEND_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_INTERVAL_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid INSTRUCTOR_INTERVAL_MS: %q", v)
		}
		cfg.Loop.IntervalMS = n
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCTOR_DATA_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}

	return cfg, normalize(&cfg)
}

func normalizeModelList(models []string) []string {
	out := make([]string, 0, len(models))
	seen := map[string]struct{}{}
	for _, m := range models {
		trimmed := strings.TrimSpace(m)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func containsString(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
