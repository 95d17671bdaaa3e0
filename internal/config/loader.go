package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSchema mirrors the YAML config file. Durations are expressed in
// milliseconds to match the environment variable convention.
type fileSchema struct {
	Server struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Classroom struct {
		CodeExpirationMS  int64 `yaml:"code_expiration_ms"`
		CleanupIntervalMS int64 `yaml:"cleanup_interval_ms"`
	} `yaml:"classroom"`
	Session struct {
		StaleTimeoutMS             int64 `yaml:"stale_timeout_ms"`
		AllStudentsLeftTimeoutMS   int64 `yaml:"all_students_left_timeout_ms"`
		EmptyTeacherTimeoutMS      int64 `yaml:"empty_teacher_timeout_ms"`
		CleanupIntervalMS          int64 `yaml:"cleanup_interval_ms"`
		VeryShortThresholdMS       int64 `yaml:"very_short_threshold_ms"`
		TeacherReconnectionGraceMS int64 `yaml:"teacher_reconnection_grace_ms"`
	} `yaml:"session"`
	Gateway struct {
		HealthCheckIntervalMS          int64 `yaml:"health_check_interval_ms"`
		SessionExpiredMessageDelayMS   int64 `yaml:"session_expired_message_delay_ms"`
		InvalidClassroomMessageDelayMS int64 `yaml:"invalid_classroom_message_delay_ms"`
		MinAudioDataLength             int   `yaml:"min_audio_data_length"`
		DetailedTranslationLogging     bool  `yaml:"detailed_translation_logging"`
	} `yaml:"gateway"`
	Providers struct {
		Translate struct {
			APIKey    string `yaml:"api_key"`
			Model     string `yaml:"model"`
			TimeoutMS int64  `yaml:"timeout_ms"`
		} `yaml:"translate"`
		TTS struct {
			BaseURL   string `yaml:"base_url"`
			APIKey    string `yaml:"api_key"`
			Voice     string `yaml:"voice"`
			TimeoutMS int64  `yaml:"timeout_ms"`
			CacheSize int    `yaml:"cache_size"`
		} `yaml:"tts"`
	} `yaml:"providers"`
	TimeScale float64 `yaml:"time_scale"`
}

// Load resolves the full configuration: defaults, then the optional YAML file
// at path (skipped when path is empty or the file does not exist), then
// environment variables. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// No config file is fine; env and defaults carry everything.
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			if err := applyFile(cfg, f); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are built from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := applyFile(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile decodes YAML from r and overlays any set fields onto cfg.
func applyFile(cfg *Config, r io.Reader) error {
	var fs fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fs); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	setStr(&cfg.Server.Host, fs.Server.Host)
	if fs.Server.Port != 0 {
		cfg.Server.Port = fs.Server.Port
	}
	if fs.Server.Env != "" {
		cfg.Server.Env = Environment(fs.Server.Env)
	}
	if fs.Server.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(fs.Server.LogLevel)
	}
	setStr(&cfg.Database.URL, fs.Database.URL)

	setMS(&cfg.Classroom.CodeExpiration, fs.Classroom.CodeExpirationMS)
	setMS(&cfg.Classroom.CleanupInterval, fs.Classroom.CleanupIntervalMS)

	setMS(&cfg.Session.StaleTimeout, fs.Session.StaleTimeoutMS)
	setMS(&cfg.Session.AllStudentsLeftTimeout, fs.Session.AllStudentsLeftTimeoutMS)
	setMS(&cfg.Session.EmptyTeacherTimeout, fs.Session.EmptyTeacherTimeoutMS)
	setMS(&cfg.Session.CleanupInterval, fs.Session.CleanupIntervalMS)
	setMS(&cfg.Session.VeryShortThreshold, fs.Session.VeryShortThresholdMS)
	setMS(&cfg.Session.TeacherReconnectionGrace, fs.Session.TeacherReconnectionGraceMS)

	setMS(&cfg.Gateway.HealthCheckInterval, fs.Gateway.HealthCheckIntervalMS)
	setMS(&cfg.Gateway.SessionExpiredMessageDelay, fs.Gateway.SessionExpiredMessageDelayMS)
	setMS(&cfg.Gateway.InvalidClassroomMessageDelay, fs.Gateway.InvalidClassroomMessageDelayMS)
	if fs.Gateway.MinAudioDataLength != 0 {
		cfg.Gateway.MinAudioDataLength = fs.Gateway.MinAudioDataLength
	}
	if fs.Gateway.DetailedTranslationLogging {
		cfg.Gateway.DetailedTranslationLogging = true
	}

	setStr(&cfg.Providers.Translate.APIKey, fs.Providers.Translate.APIKey)
	setStr(&cfg.Providers.Translate.Model, fs.Providers.Translate.Model)
	setMS(&cfg.Providers.Translate.Timeout, fs.Providers.Translate.TimeoutMS)
	setStr(&cfg.Providers.TTS.BaseURL, fs.Providers.TTS.BaseURL)
	setStr(&cfg.Providers.TTS.APIKey, fs.Providers.TTS.APIKey)
	setStr(&cfg.Providers.TTS.Voice, fs.Providers.TTS.Voice)
	setMS(&cfg.Providers.TTS.Timeout, fs.Providers.TTS.TimeoutMS)
	if fs.Providers.TTS.CacheSize != 0 {
		cfg.Providers.TTS.CacheSize = fs.Providers.TTS.CacheSize
	}

	if fs.TimeScale != 0 {
		cfg.TimeScale = fs.TimeScale
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Unparsable numeric values
// are reported as errors rather than silently ignored.
func applyEnv(cfg *Config) error {
	var errs []error

	envStr("HOST", &cfg.Server.Host)
	if err := envInt("PORT", &cfg.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Server.Env = Environment(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	envStr("DATABASE_URL", &cfg.Database.URL)

	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"CLASSROOM_CODE_EXPIRATION_MS", &cfg.Classroom.CodeExpiration},
		{"CLASSROOM_CODE_CLEANUP_INTERVAL_MS", &cfg.Classroom.CleanupInterval},
		{"SESSION_STALE_TIMEOUT_MS", &cfg.Session.StaleTimeout},
		{"SESSION_ALL_STUDENTS_LEFT_TIMEOUT_MS", &cfg.Session.AllStudentsLeftTimeout},
		{"SESSION_EMPTY_TEACHER_TIMEOUT_MS", &cfg.Session.EmptyTeacherTimeout},
		{"SESSION_CLEANUP_INTERVAL_MS", &cfg.Session.CleanupInterval},
		{"SESSION_VERY_SHORT_THRESHOLD_MS", &cfg.Session.VeryShortThreshold},
		{"TEACHER_RECONNECTION_GRACE_PERIOD_MS", &cfg.Session.TeacherReconnectionGrace},
		{"HEALTH_CHECK_INTERVAL_MS", &cfg.Gateway.HealthCheckInterval},
		{"SESSION_EXPIRED_MESSAGE_DELAY_MS", &cfg.Gateway.SessionExpiredMessageDelay},
		{"INVALID_CLASSROOM_MESSAGE_DELAY_MS", &cfg.Gateway.InvalidClassroomMessageDelay},
		{"TRANSLATE_TIMEOUT_MS", &cfg.Providers.Translate.Timeout},
		{"TTS_TIMEOUT_MS", &cfg.Providers.TTS.Timeout},
	} {
		if err := envMS(d.name, d.dst); err != nil {
			errs = append(errs, err)
		}
	}

	if err := envInt("MIN_AUDIO_DATA_LENGTH", &cfg.Gateway.MinAudioDataLength); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv("ENABLE_DETAILED_TRANSLATION_LOGGING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: ENABLE_DETAILED_TRANSLATION_LOGGING: %w", err))
		} else {
			cfg.Gateway.DetailedTranslationLogging = b
		}
	}

	envStr("GEMINI_API_KEY", &cfg.Providers.Translate.APIKey)
	envStr("GEMINI_MODEL", &cfg.Providers.Translate.Model)
	envStr("TTS_BASE_URL", &cfg.Providers.TTS.BaseURL)
	envStr("TTS_API_KEY", &cfg.Providers.TTS.APIKey)
	envStr("TTS_VOICE", &cfg.Providers.TTS.Voice)

	if v := os.Getenv("TIME_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: TIME_SCALE: %w", err))
		} else {
			cfg.TimeScale = f
		}
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d is out of range", cfg.Server.Port))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.Env.IsValid() {
		errs = append(errs, fmt.Errorf("environment %q is invalid; valid values: development, production, test", cfg.Server.Env))
	}
	// Development and test run fine on the in-memory store; production
	// must not silently lose session records.
	if cfg.Server.Env == EnvProduction && cfg.Database.URL == "" {
		errs = append(errs, errors.New("database url must be set in production (DATABASE_URL)"))
	}
	if cfg.Classroom.CodeExpiration <= 0 {
		errs = append(errs, errors.New("classroom code expiration must be positive"))
	}
	if cfg.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("session cleanup interval must be positive"))
	}
	if cfg.Session.AllStudentsLeftTimeout > cfg.Session.StaleTimeout {
		errs = append(errs, errors.New("all-students-left timeout must not exceed the stale timeout"))
	}
	if cfg.TimeScale < 0 {
		errs = append(errs, fmt.Errorf("time scale %v must not be negative", cfg.TimeScale))
	}

	return errors.Join(errs...)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setMS(dst *time.Duration, ms int64) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envMS(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
