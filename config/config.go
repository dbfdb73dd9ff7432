package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"guitar-tuner/internal/dsp/window"
)

type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Engine   EngineConfig   `yaml:"engine"`
	Display  DisplayConfig  `yaml:"display"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

type AudioConfig struct {
	Source          string  `yaml:"source"`
	SampleRate      int     `yaml:"sample_rate"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	Device          string  `yaml:"device"`
	FilePath        string  `yaml:"file_path"`
	Loop            bool    `yaml:"loop"`
	HTTPAddr        string  `yaml:"http_addr"`
	AuthToken       string  `yaml:"auth_token"`
	Encoding        string  `yaml:"encoding"`
	RateLimit       int     `yaml:"rate_limit"`
	ToneHz          float64 `yaml:"tone_hz"`
	OpenAttempts    int     `yaml:"open_attempts"`
	OpenBackoff     string  `yaml:"open_backoff"`
}

// Pointer fields are settings where zero is a valid value; nil means unset.
type AnalysisConfig struct {
	FrameSize      int      `yaml:"frame_size"`
	HopSize        int      `yaml:"hop_size"`
	BufferCapacity int      `yaml:"buffer_capacity"`
	MinFrequency   float64  `yaml:"min_frequency"`
	MaxFrequency   float64  `yaml:"max_frequency"`
	Threshold      float64  `yaml:"threshold"`
	SilenceRMS     *float64 `yaml:"silence_rms"`
	Window         string   `yaml:"window"`
	WindowAlpha    *float64 `yaml:"window_alpha"`
	Method         string   `yaml:"method"`
}

type EngineConfig struct {
	SmoothingAlpha float64  `yaml:"smoothing_alpha"`
	LockConfidence *float64 `yaml:"lock_confidence"`
	LockFrames     int      `yaml:"lock_frames"`
	SilenceTimeout string   `yaml:"silence_timeout"`
	ReferenceHz    float64  `yaml:"reference_hz"`
	JumpCents      float64  `yaml:"jump_cents"`
	Tuning         string   `yaml:"tuning"`
}

type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Readings logs every change of the displayed reading.
	Readings bool `yaml:"readings"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) setDefaults() {
	if c.Audio.Source == "" {
		c.Audio.Source = "microphone"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 44100
	}
	if c.Audio.FramesPerBuffer == 0 {
		c.Audio.FramesPerBuffer = 512
	}
	if c.Audio.HTTPAddr == "" {
		c.Audio.HTTPAddr = ":8080"
	}
	if c.Audio.Encoding == "" {
		c.Audio.Encoding = "s16le"
	}
	if c.Audio.RateLimit == 0 {
		c.Audio.RateLimit = 120
	}
	if c.Audio.ToneHz == 0 {
		c.Audio.ToneHz = 110
	}
	if c.Audio.OpenAttempts == 0 {
		c.Audio.OpenAttempts = 3
	}
	if c.Audio.OpenBackoff == "" {
		c.Audio.OpenBackoff = "250ms"
	}

	if c.Analysis.FrameSize == 0 {
		c.Analysis.FrameSize = 2048
	}
	if c.Analysis.HopSize == 0 {
		c.Analysis.HopSize = 512
	}
	if c.Analysis.BufferCapacity == 0 {
		c.Analysis.BufferCapacity = 4 * c.Analysis.FrameSize
	}
	if c.Analysis.MinFrequency == 0 {
		c.Analysis.MinFrequency = 60
	}
	if c.Analysis.MaxFrequency == 0 {
		c.Analysis.MaxFrequency = 1200
	}
	if c.Analysis.Threshold == 0 {
		c.Analysis.Threshold = 0.1
	}
	defaultFloat(&c.Analysis.SilenceRMS, 0.002)
	if c.Analysis.Window == "" {
		c.Analysis.Window = "rectangular"
	}
	defaultFloat(&c.Analysis.WindowAlpha, window.MaxPitchTukeyAlpha)
	if c.Analysis.Method == "" {
		c.Analysis.Method = "fft"
	}

	if c.Engine.SmoothingAlpha == 0 {
		c.Engine.SmoothingAlpha = 0.1
	}
	defaultFloat(&c.Engine.LockConfidence, 0.5)
	if c.Engine.LockFrames == 0 {
		c.Engine.LockFrames = 5
	}
	if c.Engine.SilenceTimeout == "" {
		c.Engine.SilenceTimeout = "2s"
	}
	if c.Engine.ReferenceHz == 0 {
		c.Engine.ReferenceHz = 440
	}
	if c.Engine.JumpCents == 0 {
		c.Engine.JumpCents = 50
	}
	if c.Engine.Tuning == "" {
		c.Engine.Tuning = "standard"
	}

	if c.Display.Addr == "" {
		c.Display.Addr = ":8090"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "guitar-tuner"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "guitar-tuner/state"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func defaultFloat(p **float64, v float64) {
	if *p == nil {
		*p = &v
	}
}

func valueOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Validate checks values that cannot be fixed up by defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.Audio.Source {
	case "microphone", "malgo", "tone", "http":
	case "file":
		if c.Audio.FilePath == "" {
			errs = append(errs, errors.New("audio.file_path is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.source %q is not one of microphone, malgo, file, http, tone", c.Audio.Source))
	}
	if c.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is below 8000", c.Audio.SampleRate))
	}
	if c.Audio.FramesPerBuffer < 1 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive"))
	}
	if c.Audio.OpenAttempts < 1 {
		errs = append(errs, fmt.Errorf("audio.open_attempts must be at least 1"))
	}
	if _, err := c.Audio.OpenBackoffDuration(); err != nil {
		errs = append(errs, err)
	}

	a := c.Analysis
	if a.FrameSize < 256 {
		errs = append(errs, fmt.Errorf("analysis.frame_size %d is below 256", a.FrameSize))
	}
	if a.HopSize < 1 || a.HopSize > a.FrameSize {
		errs = append(errs, fmt.Errorf("analysis.hop_size %d must be in [1, frame_size]", a.HopSize))
	}
	if a.BufferCapacity < a.FrameSize {
		errs = append(errs, fmt.Errorf("analysis.buffer_capacity %d is smaller than frame_size", a.BufferCapacity))
	}
	if a.MinFrequency <= 0 || a.MaxFrequency <= a.MinFrequency {
		errs = append(errs, fmt.Errorf("analysis frequency range [%v, %v] is invalid", a.MinFrequency, a.MaxFrequency))
	}
	if a.Threshold <= 0 || a.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("analysis.threshold %v must be in (0, 1)", a.Threshold))
	}
	if valueOf(a.SilenceRMS) < 0 {
		errs = append(errs, fmt.Errorf("analysis.silence_rms %v must not be negative", valueOf(a.SilenceRMS)))
	}
	if t, err := window.ParseType(a.Window); err != nil {
		errs = append(errs, fmt.Errorf("analysis.window: %w", err))
	} else if err := window.CheckPitch(t, valueOf(a.WindowAlpha)); err != nil {
		errs = append(errs, fmt.Errorf("analysis.window: %w", err))
	}
	if a.Method != "fft" && a.Method != "direct" {
		errs = append(errs, fmt.Errorf("analysis.method %q is not fft or direct", a.Method))
	}

	e := c.Engine
	if e.SmoothingAlpha <= 0 || e.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("engine.smoothing_alpha %v must be in (0, 1]", e.SmoothingAlpha))
	}
	if lc := valueOf(e.LockConfidence); lc < 0 || lc > 1 {
		errs = append(errs, fmt.Errorf("engine.lock_confidence %v must be in [0, 1]", lc))
	}
	if e.LockFrames < 1 {
		errs = append(errs, fmt.Errorf("engine.lock_frames must be at least 1"))
	}
	if _, err := e.SilenceTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}

func (a AudioConfig) OpenBackoffDuration() (time.Duration, error) {
	d, err := time.ParseDuration(a.OpenBackoff)
	if err != nil {
		return 0, fmt.Errorf("audio.open_backoff: %w", err)
	}
	return d, nil
}

func (e EngineConfig) SilenceTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(e.SilenceTimeout)
	if err != nil {
		return 0, fmt.Errorf("engine.silence_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine.silence_timeout must be positive")
	}
	return d, nil
}
