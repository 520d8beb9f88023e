// Package cfg loads runtime settings from a YAML file named by CONFIG_FILE,
// with environment variables overriding individual values, or from the
// environment alone when no file is given. The spectral parameters must match
// the ones the loaded model artifacts were trained with.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port           int
	AllowedOrigins []string
	SendTimeout    time.Duration

	ModelsDir    string
	Models       []string
	DefaultModel string

	SampleRate    float64
	TargetFreqs   []float64
	Harmonics     []int
	BandHalfWidth float64

	DataPath string
}

type ConfigFile struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
		SendTimeout    string   `yaml:"sendTimeout"`
	} `yaml:"server"`

	ML struct {
		ModelsDir    string   `yaml:"modelsDir"`
		Models       []string `yaml:"models"`
		DefaultModel string   `yaml:"defaultModel"`
	} `yaml:"ml"`

	Signal struct {
		SampleRate    float64   `yaml:"sampleRate"`
		TargetFreqs   []float64 `yaml:"targetFreqs"`
		Harmonics     []int     `yaml:"harmonics"`
		BandHalfWidth float64   `yaml:"bandHalfWidth"`
	} `yaml:"signal"`

	System struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	sendTimeout, err := time.ParseDuration(config.Server.SendTimeout)
	if err != nil {
		sendTimeout = 5 * time.Second
	}
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sendTimeout = d
		}
	}

	settings := Settings{
		Port:           getIntFromEnvOrConfig("PORT", config.Server.Port, 8000),
		AllowedOrigins: getListFromEnvOrConfig("ALLOWED_ORIGINS", config.Server.AllowedOrigins, []string{"http://localhost:3000"}),
		SendTimeout:    sendTimeout,
		ModelsDir:      getStringFromEnvOrConfig("MODELS_DIR", config.ML.ModelsDir, "models"),
		Models:         getListFromEnvOrConfig("MODELS", config.ML.Models, []string{"lda", "logreg"}),
		DefaultModel:   getStringFromEnvOrConfig("DEFAULT_MODEL", config.ML.DefaultModel, "lda"),
		SampleRate:     getFloatFromEnvOrConfig("SAMPLE_RATE", config.Signal.SampleRate, 256),
		TargetFreqs:    getFloatListFromEnvOrConfig("TARGET_FREQS", config.Signal.TargetFreqs, []float64{10, 12, 15, 20}),
		Harmonics:      getIntListFromEnvOrConfig("HARMONICS", config.Signal.Harmonics, []int{1, 2, 3}),
		BandHalfWidth:  getFloatFromEnvOrConfig("BAND_HALF_WIDTH", config.Signal.BandHalfWidth, 0.5),
		DataPath:       getEnvOrDefault("DATA_PATH", config.System.DataPath),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Port:           getIntOrDefault("PORT", 8000),
		AllowedOrigins: splitOrDefault(os.Getenv("ALLOWED_ORIGINS"), []string{"http://localhost:3000"}),
		SendTimeout:    getDurationOrDefault("SEND_TIMEOUT", 5*time.Second),
		ModelsDir:      getEnvOrDefault("MODELS_DIR", "models"),
		Models:         splitOrDefault(os.Getenv("MODELS"), []string{"lda", "logreg"}),
		DefaultModel:   getEnvOrDefault("DEFAULT_MODEL", "lda"),
		SampleRate:     getFloatOrDefault("SAMPLE_RATE", 256),
		TargetFreqs:    parseFloatsOrDefault(os.Getenv("TARGET_FREQS"), []float64{10, 12, 15, 20}),
		Harmonics:      parseIntsOrDefault(os.Getenv("HARMONICS"), []int{1, 2, 3}),
		BandHalfWidth:  getFloatOrDefault("BAND_HALF_WIDTH", 0.5),
		DataPath:       os.Getenv("DATA_PATH"), // optional
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseFloatsOrDefault(v string, def []float64) []float64 {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return def
		}
		out = append(out, f)
	}
	return out
}

func parseIntsOrDefault(v string, def []int) []int {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return def
		}
		out = append(out, i)
	}
	return out
}

func getStringFromEnvOrConfig(key, configValue, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	if configValue != "" {
		return configValue
	}
	return def
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

func getFloatListFromEnvOrConfig(key string, configValue, def []float64) []float64 {
	if env := os.Getenv(key); env != "" {
		return parseFloatsOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

func getIntListFromEnvOrConfig(key string, configValue, def []int) []int {
	if env := os.Getenv(key); env != "" {
		return parseIntsOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

// validateSettings performs comprehensive validation of configuration values.
func validateSettings(settings *Settings) error {
	if settings.Port < 1024 || settings.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", settings.Port)
	}
	if len(settings.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if settings.SendTimeout < 100*time.Millisecond || settings.SendTimeout > time.Minute {
		return fmt.Errorf("send timeout must be between 100ms and 1m, got %v", settings.SendTimeout)
	}

	if settings.ModelsDir == "" {
		return fmt.Errorf("models directory cannot be empty")
	}
	if len(settings.Models) == 0 {
		return fmt.Errorf("at least one model must be specified")
	}
	defaultKnown := false
	for _, name := range settings.Models {
		if name == "" {
			return fmt.Errorf("model names cannot be empty")
		}
		if name == settings.DefaultModel {
			defaultKnown = true
		}
	}
	if !defaultKnown {
		return fmt.Errorf("default model %q is not in the model list %v", settings.DefaultModel, settings.Models)
	}

	if settings.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %f", settings.SampleRate)
	}
	if len(settings.TargetFreqs) == 0 {
		return fmt.Errorf("at least one target frequency must be specified")
	}
	if len(settings.Harmonics) == 0 {
		return fmt.Errorf("at least one harmonic must be specified")
	}
	if settings.BandHalfWidth <= 0 || settings.BandHalfWidth > 5 {
		return fmt.Errorf("band half-width must be between 0 and 5 Hz, got %f", settings.BandHalfWidth)
	}

	nyquist := settings.SampleRate / 2
	maxHarmonic := 0
	for _, h := range settings.Harmonics {
		if h < 1 {
			return fmt.Errorf("harmonics must be >= 1, got %d", h)
		}
		if h > maxHarmonic {
			maxHarmonic = h
		}
	}
	for _, freq := range settings.TargetFreqs {
		if freq <= 0 {
			return fmt.Errorf("target frequencies must be positive, got %f", freq)
		}
		if freq >= nyquist {
			return fmt.Errorf("target frequency %f Hz is at or above the Nyquist frequency %f Hz", freq, nyquist)
		}
		// A harmonic band past Nyquist degrades to empty-band zeros rather
		// than failing, but it usually means a misconfigured sample rate.
		if freq*float64(maxHarmonic) >= nyquist {
			log.Warn().
				Float64("freq", freq).
				Int("harmonic", maxHarmonic).
				Float64("nyquist", nyquist).
				Msg("harmonic band exceeds Nyquist frequency, its features will be zero")
		}
	}

	return nil
}
