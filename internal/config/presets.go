package config

import "sort"

// Presets are named scenarios. They are complete configurations; GetPreset
// returns a copy.
var Presets = map[string]*Config{
	"moment-image": DefaultConfig(),
	"near": func() *Config {
		c := DefaultConfig()
		c.Name = "near"
		c.Initial = PoseConfig{Translation: [3]float64{0.02, -0.01, 1.1}, Rotation: [3]float64{5, -5, 10}}
		c.Loop.Iterations = 600
		return c
	}(),
	"translation": func() *Config {
		c := DefaultConfig()
		c.Name = "translation"
		c.Initial = PoseConfig{Translation: [3]float64{0.1, 0.05, 1.3}}
		c.Loop.Iterations = 1000
		return c
	}(),
	"triangle": func() *Config {
		c := DefaultConfig()
		c.Name = "triangle"
		c.Target.Vertices = [][3]float64{{-0.15, -0.1, 0}, {0.2, -0.05, 0}, {-0.05, 0.15, 0}}
		c.Initial = PoseConfig{Translation: [3]float64{0.05, -0.05, 1.3}, Rotation: [3]float64{-10, 10, 20}}
		c.Task.Features[2].Rows = []int{2, 3}
		return c
	}(),
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
