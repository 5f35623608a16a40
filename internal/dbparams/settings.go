package dbparams

import (
	_ "embed"
	"sync"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

//go:embed dbconfig.yaml
var embeddedSettings []byte

// EngineSettings are the per-engine defaults from the embedded table.
type EngineSettings struct {
	Driver       string `yaml:"driver"`
	Options      string `yaml:"options"`
	DefaultPort  int    `yaml:"default_port"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ContentionSettings tune the retry loop for busy/locked errors.
type ContentionSettings struct {
	MaxRetries  int           `yaml:"max_retries"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// ReconnectSettings tune reopening a backend after a connection error.
type ReconnectSettings struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Settings is the parsed embedded configuration table.
type Settings struct {
	Engines    map[string]EngineSettings `yaml:"engines"`
	Contention ContentionSettings        `yaml:"contention"`
	Reconnect  ReconnectSettings         `yaml:"reconnect"`
}

var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error
)

// LoadSettings parses the embedded engine table. The result is cached.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings, settingsErr = ParseSettings(embeddedSettings)
	})
	return settings, settingsErr
}

// ParseSettings parses and checks an engine settings document.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Annotate(err, "parsing engine settings")
	}
	for _, e := range []Engine{EngineSQLite, EngineNetworkSQL} {
		es, ok := s.Engines[e.String()]
		if !ok {
			return Settings{}, errors.NotFoundf("settings for engine %s", e)
		}
		if es.Driver == "" {
			return Settings{}, errors.NotValidf("empty driver for engine %s", e)
		}
	}
	if s.Contention.MaxRetries < 0 {
		return Settings{}, errors.NotValidf("negative contention max_retries")
	}
	if s.Contention.InitialWait <= 0 {
		s.Contention.InitialWait = 10 * time.Millisecond
	}
	if s.Contention.MaxWait < s.Contention.InitialWait {
		s.Contention.MaxWait = s.Contention.InitialWait
	}
	if s.Reconnect.Attempts < 1 {
		s.Reconnect.Attempts = 1
	}
	if s.Reconnect.Delay <= 0 {
		s.Reconnect.Delay = time.Second
	}
	return s, nil
}

// ForEngine returns the settings for e.
func (s Settings) ForEngine(e Engine) (EngineSettings, error) {
	es, ok := s.Engines[e.String()]
	if !ok {
		return EngineSettings{}, errors.NotFoundf("settings for engine %q", e)
	}
	return es, nil
}
