package rig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
	"gopkg.in/yaml.v3"
)

// Definition describes a rig: one position and one schedule per channel.
type Definition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Positions   []watering.Position `yaml:"positions"`
	Schedules   []schedule.Schedule `yaml:"schedules"`
}

// ChannelCount is the number of channels the definition configures.
func (d *Definition) ChannelCount() int {
	return len(d.Positions)
}

// CloneSchedules returns fresh schedules the caller may advance.
func (d *Definition) CloneSchedules() []*schedule.Schedule {
	out := make([]*schedule.Schedule, len(d.Schedules))
	for i, s := range d.Schedules {
		out[i] = &schedule.Schedule{Steps: slices.Clone(s.Steps), Cyclic: s.Cyclic}
	}
	return out
}

func (d *Definition) Validate() error {
	if len(d.Positions) != len(d.Schedules) {
		return fmt.Errorf("rig defines %d positions but %d schedules", len(d.Positions), len(d.Schedules))
	}
	for i, p := range d.Positions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("position %d: %w", i, err)
		}
	}
	for i := range d.Schedules {
		if err := d.Schedules[i].Validate(); err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return nil
}

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

// NewLoader resolves relative definition paths against searchPaths, in order.
// Without search paths they are taken relative to the working directory.
func NewLoader(searchPaths ...string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *Loader) Load(path string) (*Definition, error) {
	// Cache-Check
	if cached, ok := l.cache.Load(path); ok {
		return cached.(*Definition), nil
	}

	data, foundPath, err := l.read(path)
	if err != nil {
		return nil, err
	}

	if err := l.validator.ValidateYAML(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode rig definition %s: %w", foundPath, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rig definition %s: %w", foundPath, err)
	}

	l.cache.Store(path, &def)

	return &def, nil
}

func (l *Loader) read(path string) ([]byte, string, error) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = candidates[:0]
		for _, dir := range l.searchPaths {
			candidates = append(candidates, filepath.Join(dir, path))
		}
	}

	for _, c := range candidates {
		data, err := os.ReadFile(c)
		if err == nil {
			return data, c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to read rig definition %s: %w", c, err)
		}
	}

	return nil, "", fmt.Errorf("rig definition not found: %s (searched in: %v)", path, l.searchPaths)
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
