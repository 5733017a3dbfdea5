package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/san-kum/momentservo/internal/geometry"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOrder        = 6
	DefaultThreshold    = 128
	DefaultGain         = 1.0
	DefaultPinv         = 1e-6
	DefaultIterations   = 1500
	DefaultPeriod       = 10 * time.Millisecond
	DefaultSamplingTime = 0.01
	DefaultMaxLinear    = 0.2
	DefaultMaxAngular   = 0.7
)

type Config struct {
	Name      string          `yaml:"name,omitempty"`
	Initial   PoseConfig      `yaml:"initial"`
	Desired   PoseConfig      `yaml:"desired"`
	Camera    CameraConfig    `yaml:"camera"`
	Target    TargetConfig    `yaml:"target"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Task      TaskConfig      `yaml:"task"`
	Robot     RobotConfig     `yaml:"robot"`
	Loop      LoopConfig      `yaml:"loop"`
	Display   string          `yaml:"display"`
	LogLevel  string          `yaml:"log_level"`
}

// PoseConfig is a translation in metres and a theta-u rotation in degrees.
type PoseConfig struct {
	Translation [3]float64 `yaml:"translation,flow"`
	Rotation    [3]float64 `yaml:"rotation,flow"`
}

type CameraConfig struct {
	Px     float64 `yaml:"px"`
	Py     float64 `yaml:"py"`
	U0     float64 `yaml:"u0"`
	V0     float64 `yaml:"v0"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
}

// TargetConfig lists the polygon vertices in the object frame.
type TargetConfig struct {
	Vertices [][3]float64 `yaml:"vertices,flow"`
}

type ExtractorConfig struct {
	Kind      string `yaml:"kind"`
	Order     int    `yaml:"order"`
	Threshold uint8  `yaml:"threshold"`
}

type TaskConfig struct {
	Policy    string          `yaml:"policy"`
	Gain      float64         `yaml:"gain"`
	Threshold float64         `yaml:"pinv_threshold"`
	Features  []FeatureConfig `yaml:"features"`
}

// FeatureConfig selects rows of a sub-feature; no rows selects all of them.
type FeatureConfig struct {
	Name string `yaml:"name"`
	Rows []int  `yaml:"rows,flow,omitempty"`
}

type RobotConfig struct {
	SamplingTime float64 `yaml:"sampling_time"`
	MaxLinear    float64 `yaml:"max_linear"`
	MaxAngular   float64 `yaml:"max_angular"`
}

type LoopConfig struct {
	Iterations int           `yaml:"iterations"`
	Period     time.Duration `yaml:"period"`
	Confirm    bool          `yaml:"confirm"`
}

func DefaultConfig() *Config {
	return &Config{
		Name:    "moment-image",
		Initial: PoseConfig{Translation: [3]float64{-0.1, -0.1, 1.5}, Rotation: [3]float64{-20, -20, -30}},
		Desired: PoseConfig{Translation: [3]float64{0, 0, 1}},
		Camera:  CameraConfig{Px: 640, Py: 480, U0: 320, V0: 240, Width: 640, Height: 480},
		Target: TargetConfig{Vertices: [][3]float64{
			{-0.2, -0.1, 0}, {0.2, -0.1, 0}, {0.2, 0.1, 0}, {-0.2, 0.1, 0},
		}},
		Extractor: ExtractorConfig{Kind: "polygon", Order: DefaultOrder, Threshold: DefaultThreshold},
		Task: TaskConfig{
			Policy:    "current",
			Gain:      DefaultGain,
			Threshold: DefaultPinv,
			Features: []FeatureConfig{
				{Name: "centroid"},
				{Name: "area"},
				{Name: "invariants", Rows: []int{0, 1}},
				{Name: "orientation"},
			},
		},
		Robot: RobotConfig{
			SamplingTime: DefaultSamplingTime,
			MaxLinear:    DefaultMaxLinear,
			MaxAngular:   DefaultMaxAngular,
		},
		Loop:     LoopConfig{Iterations: DefaultIterations, Period: DefaultPeriod},
		Display:  "headless",
		LogLevel: "info",
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Target.Vertices = append([][3]float64(nil), c.Target.Vertices...)
	out.Task.Features = make([]FeatureConfig, len(c.Task.Features))
	for i, f := range c.Task.Features {
		out.Task.Features[i] = FeatureConfig{Name: f.Name, Rows: append([]int(nil), f.Rows...)}
	}
	return &out
}

// Pose converts the configured pose into cMo.
func (p PoseConfig) Pose() geometry.Pose {
	t, r := p.Translation, p.Rotation
	return geometry.PoseFromVector([6]float64{
		t[0], t[1], t[2],
		geometry.Radians(r[0]), geometry.Radians(r[1]), geometry.Radians(r[2]),
	})
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Camera.Px <= 0 || c.Camera.Py <= 0 {
		add("camera: focal lengths must be positive")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		add("camera: image size must be positive")
	}
	if len(c.Target.Vertices) < 3 {
		add("target: need at least 3 vertices, got %d", len(c.Target.Vertices))
	}
	switch c.Extractor.Kind {
	case "polygon", "image":
	default:
		add("extractor: unknown kind %q", c.Extractor.Kind)
	}
	if c.Extractor.Order < DefaultOrder {
		add("extractor: order must be at least %d, got %d", DefaultOrder, c.Extractor.Order)
	}
	switch c.Task.Policy {
	case "current", "desired", "mean":
	default:
		add("task: unknown policy %q", c.Task.Policy)
	}
	if c.Task.Gain <= 0 {
		add("task: gain must be positive, got %g", c.Task.Gain)
	}
	if c.Task.Threshold <= 0 || c.Task.Threshold >= 1 {
		add("task: pinv_threshold must be in (0, 1), got %g", c.Task.Threshold)
	}
	if len(c.Task.Features) == 0 {
		add("task: no features")
	}
	for _, f := range c.Task.Features {
		for _, r := range f.Rows {
			if r < 0 || r >= 64 {
				add("task: feature %s row %d out of range", f.Name, r)
			}
		}
	}
	if c.Robot.SamplingTime <= 0 {
		add("robot: sampling_time must be positive")
	}
	if c.Robot.MaxLinear < 0 || c.Robot.MaxAngular < 0 {
		add("robot: velocity limits must not be negative")
	}
	if c.Loop.Iterations <= 0 {
		add("loop: iterations must be positive, got %d", c.Loop.Iterations)
	}
	if c.Loop.Period < 0 {
		add("loop: period must not be negative")
	}
	switch c.Display {
	case "headless", "terminal":
	default:
		add("display: unknown kind %q", c.Display)
	}
	return errors.Join(errs...)
}
