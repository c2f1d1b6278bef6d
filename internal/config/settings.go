// Package config holds the layered experiment settings and the process-level
// run configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// SystemConfigName is the base name of the system layer inside a config
// directory. Every other config file is an experiment layer.
const SystemConfigName = "config"

var (
	// ErrMissingSetting is returned when neither layer defines a key.
	ErrMissingSetting = errors.New("missing setting")

	// ErrSettingType is returned when a setting exists with an incompatible type.
	ErrSettingType = errors.New("setting has wrong type")

	// ErrConfigMismatch is returned when an experiment file's experimentName
	// does not match the name it was loaded under.
	ErrConfigMismatch = errors.New("config and experiment names do not match")

	// ErrNoExperiments is returned when a config directory holds no experiment
	// files.
	ErrNoExperiments = errors.New("no experiment configurations found")
)

var configExts = []string{".json", ".yaml", ".yml"}

// Settings is a two-layer key/value store. Experiment values shadow system
// values. All methods are safe for concurrent use.
type Settings struct {
	mu         sync.RWMutex
	system     map[string]any
	experiment map[string]any
}

// NewSettings returns settings with the given system layer and no experiment
// layer.
func NewSettings(system map[string]any) *Settings {
	if system == nil {
		system = make(map[string]any)
	}
	return &Settings{system: system}
}

func readLayer(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	// JSON is a subset of YAML, so one decoder serves both file kinds.
	layer := make(map[string]any)
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, nil
}

func findLayer(fs afero.Fs, dir, name string) (string, error) {
	for _, ext := range configExts {
		p := filepath.Join(dir, name+ext)
		ok, err := afero.Exists(fs, p)
		if err != nil {
			return "", err
		}
		if ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("config %q not found in %s", name, dir)
}

// LoadSystem reads <dir>/config.{json,yaml,yml} as the system layer and
// records the experiment names available in dir under
// "availableExperiments".
func LoadSystem(fs afero.Fs, dir string) (*Settings, error) {
	path, err := findLayer(fs, dir, SystemConfigName)
	if err != nil {
		return nil, err
	}
	layer, err := readLayer(fs, path)
	if err != nil {
		return nil, err
	}
	s := NewSettings(layer)

	names, err := AvailableExperiments(fs, dir)
	if err != nil {
		return nil, err
	}
	s.Set("availableExperiments", names)
	return s, nil
}

// AvailableExperiments lists the experiment config names in dir, sorted.
func AvailableExperiments(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !slices.Contains(configExts, ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if name == SystemConfigName || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, ErrNoExperiments
	}
	slices.Sort(names)
	return names, nil
}

// LoadExperiment reads <dir>/<name>.{json,yaml,yml} as the experiment layer,
// replacing any previous one. The file must declare experimentName equal to
// name.
func (s *Settings) LoadExperiment(fs afero.Fs, dir, name string) error {
	path, err := findLayer(fs, dir, name)
	if err != nil {
		return err
	}
	layer, err := readLayer(fs, path)
	if err != nil {
		return err
	}
	if got, _ := layer["experimentName"].(string); got != name {
		return fmt.Errorf("%w: file %s declares %q", ErrConfigMismatch, name, got)
	}

	s.mu.Lock()
	s.experiment = layer
	s.mu.Unlock()
	return nil
}

// HasExperiment reports whether an experiment layer is loaded.
func (s *Settings) HasExperiment() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.experiment != nil
}

// Get returns the raw value of key, experiment layer first.
func (s *Settings) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.experiment[key]; ok && v != nil {
		return v, nil
	}
	if v, ok := s.system[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingSetting, key)
}

// Set writes key to the experiment layer when one is loaded, otherwise to the
// system layer.
func (s *Settings) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.experiment != nil {
		s.experiment[key] = v
		return
	}
	s.system[key] = v
}

func typeErr(key string, v any, want string) error {
	return fmt.Errorf("%w: %s is %T, want %s", ErrSettingType, key, v, want)
}

func (s *Settings) String(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", typeErr(key, v, "string")
	}
	return str, nil
}

func (s *Settings) Bool(key string) (bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeErr(key, v, "bool")
	}
	return b, nil
}

func (s *Settings) Int(key string) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, nil
		}
	}
	return 0, typeErr(key, v, "int")
}

func (s *Settings) Float(key string) (float64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, typeErr(key, v, "float")
}

// Duration reads key as a duration. Bare numbers are milliseconds; strings
// use time.ParseDuration syntax.
func (s *Settings) Duration(key string) (time.Duration, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if str, ok := v.(string); ok {
		d, perr := time.ParseDuration(str)
		if perr != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrSettingType, key, perr)
		}
		return d, nil
	}
	ms, err := s.Int(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// IntRange reads a two-element list [lo, hi] of milliseconds, as used for
// randomized inter-stimulus intervals.
func (s *Settings) IntRange(key string) (lo, hi int, err error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, 0, err
	}
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return 0, 0, typeErr(key, v, "two-element list")
	}
	vals := [2]int{}
	for i, e := range list {
		switch n := e.(type) {
		case int:
			vals[i] = n
		case float64:
			vals[i] = int(n)
		default:
			return 0, 0, typeErr(key, v, "list of ints")
		}
	}
	if vals[0] > vals[1] {
		return 0, 0, fmt.Errorf("%w: %s lower bound %d exceeds upper bound %d", ErrSettingType, key, vals[0], vals[1])
	}
	return vals[0], vals[1], nil
}

// Strings reads a list of strings.
func (s *Settings) Strings(key string) ([]string, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	switch l := v.(type) {
	case []string:
		return slices.Clone(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			str, ok := e.(string)
			if !ok {
				return nil, typeErr(key, v, "list of strings")
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, typeErr(key, v, "list of strings")
}

// IntOr returns the int value of key, or def when the key is missing. Type
// errors are still reported.
func (s *Settings) IntOr(key string, def int) (int, error) {
	n, err := s.Int(key)
	if errors.Is(err, ErrMissingSetting) {
		return def, nil
	}
	return n, err
}

// BoolOr returns the bool value of key, or def when the key is missing.
func (s *Settings) BoolOr(key string, def bool) (bool, error) {
	b, err := s.Bool(key)
	if errors.Is(err, ErrMissingSetting) {
		return def, nil
	}
	return b, err
}

// Require checks that every key is defined in one of the layers.
func (s *Settings) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, err := s.Get(k); err != nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}
