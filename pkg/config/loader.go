package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from a directory of YAML files and can watch
// that directory for changes, invoking OnChange with the freshly decoded
// and validated Config on every edit (spec.md §4.1 reload()).
type Loader struct {
	dir      string
	onChange func(*Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewLoader creates a Loader rooted at dir. dir may not exist yet; Load
// will then fall back to SeedMinimalConfig.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// SetOnChange registers the callback invoked after a successful reload.
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Load reads every *.yaml file directly under dir, merges them into a
// single raw map (later files win on scalar collisions), expands
// environment variables, decodes into Config, applies defaults, and
// validates. A missing directory yields a zero Config with defaults
// applied (SeedMinimalConfig packs, in-memory everything).
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.SetDefaults()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config directory %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		expanded := ExpandEnv(string(data))

		var fragment map[string]any
		if err := yaml.Unmarshal([]byte(expanded), &fragment); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		mergeMaps(merged, fragment)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// mergeMaps shallow-merges src into dst, recursing into nested maps so
// e.g. base_packs.yaml and coris_money_packs.yaml both contribute to
// packs.app_packs without clobbering each other.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if existing, ok := dst[k]; ok {
			existingMap, existingIsMap := existing.(map[string]any)
			newMap, newIsMap := v.(map[string]any)
			if existingIsMap && newIsMap {
				mergeMaps(existingMap, newMap)
				continue
			}
		}
		dst[k] = v
	}
}

// Watch starts an fsnotify watch on the config directory. Every write,
// create, remove or rename event triggers a reload; a successful reload invokes OnChange
// with the new Config under an atomic swap at the call site. Errors
// during a triggered reload are logged and the previous config is kept
// live — a bad edit never tears down a running process.
func (l *Loader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return nil
	}

	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.stop = make(chan struct{})

	go l.watchLoop(watcher, l.stop)
	return nil
}

func (l *Loader) watchLoop(watcher *fsnotify.Watcher, stop chan struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := l.Load()
			if err != nil {
				slog.Error("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			l.mu.Lock()
			cb := l.onChange
			l.mu.Unlock()
			if cb != nil {
				cb(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		case <-stop:
			return
		}
	}
}

// Stop tears down the filesystem watch, if any.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return
	}
	close(l.stop)
	l.watcher.Close()
	l.watcher = nil
}
