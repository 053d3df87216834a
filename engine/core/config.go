package core

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"
)

type ApplicationSection struct {
	Name   string `toml:"name"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererSection struct {
	// Backend is either "vulkan" or "headless".
	Backend        string     `toml:"backend"`
	FramesInFlight int        `toml:"frames_in_flight"`
	BatchCapacity  int        `toml:"batch_capacity"`
	Validation     bool       `toml:"validation"`
	ClearColour    [4]float32 `toml:"clear_colour"`
	LineWidth      float32    `toml:"line_width"`
	// FenceTimeoutNs of 0 means wait indefinitely.
	FenceTimeoutNs uint64 `toml:"fence_timeout_ns"`
	// HeadlessFrames is the number of frames rendered before a headless run exits.
	HeadlessFrames int `toml:"headless_frames"`
}

type CacheSection struct {
	ShaderDir        string `toml:"shader_dir"`
	TextureDir       string `toml:"texture_dir"`
	PipelineCacheDir string `toml:"pipeline_cache_dir"`
	Watch            bool   `toml:"watch"`
}

type JobsSection struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type LogSection struct {
	Level string `toml:"level"`
}

type Config struct {
	Application ApplicationSection `toml:"application"`
	Renderer    RendererSection    `toml:"renderer"`
	Cache       CacheSection       `toml:"cache"`
	Jobs        JobsSection        `toml:"jobs"`
	Log         LogSection         `toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationSection{
			Name:   "Anima",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererSection{
			Backend:        BackendVulkan,
			FramesInFlight: 2,
			BatchCapacity:  1000,
			Validation:     true,
			ClearColour:    [4]float32{0.0, 0.0, 0.2, 1.0},
			LineWidth:      1.0,
			HeadlessFrames: 120,
		},
		Cache: CacheSection{
			ShaderDir:        "assets/shaders",
			TextureDir:       "assets/textures",
			PipelineCacheDir: ".cache/pipelines",
			Watch:            true,
		},
		Jobs: JobsSection{
			Workers:   4,
			QueueSize: 64,
		},
		Log: LogSection{
			Level: "debug",
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			LogInfo("config file `%s` not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			err = fmt.Errorf("config `%s` has unknown keys:\n%s", path, strict.String())
			LogError("%s", err)
			return nil, err
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			err = fmt.Errorf("config `%s` is invalid at %d:%d: %w", path, row, col, err)
		}
		LogError("%s", err)
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return fmt.Errorf("unknown renderer backend `%s`", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 3 {
		return fmt.Errorf("frames_in_flight must be between 1 and 3, got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.BatchCapacity < 1 {
		return fmt.Errorf("batch_capacity must be positive, got %d", c.Renderer.BatchCapacity)
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("application size must be non zero, got %dx%d", c.Application.Width, c.Application.Height)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must not be negative, got %d", c.Jobs.QueueSize)
	}
	return nil
}

// FenceTimeout returns the timeout handed to fence and acquire waits.
func (c *Config) FenceTimeout() uint64 {
	if c.Renderer.FenceTimeoutNs == 0 {
		return math.MaxUint64
	}
	return c.Renderer.FenceTimeoutNs
}

func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
