package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ErrNoDefault is returned when a config file is absent and the plugin
// ships no embedded default for it.
var ErrNoDefault = errors.New("no config file or embedded default")

// DefaultFile is the conventional main configuration filename.
const DefaultFile = "config.yml"

// Store reads and writes one plugin's configuration files under its
// data directory, with artifact-embedded resources as defaults.
type Store struct {
	pluginName string
	dataDir    string
	resources  fs.FS // may be nil when the plugin embeds nothing
}

// NewStore creates a store for the named plugin. resources typically
// comes from an embed.FS compiled into the artifact; nil is allowed.
func NewStore(pluginName, dataDir string, resources fs.FS) *Store {
	return &Store{
		pluginName: pluginName,
		dataDir:    dataDir,
		resources:  resources,
	}
}

// Load reads the named file from the data directory, falling back to
// the embedded default when the file does not exist. Missing file and
// missing default together are a hard error. The data directory is
// created if needed. Every call re-reads from disk; configurations are
// never cached.
func (s *Store) Load(filename string) (*Configuration, error) {
	errb := oops.In("config").With("plugin", s.pluginName).With("file", filename)

	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return nil, errb.Hint("failed to create data folder").Wrap(err)
	}

	path := filepath.Join(s.dataDir, filename)
	data, err := os.ReadFile(path) //nolint:gosec // path is rooted in the plugin's own data dir
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errb.Hint("failed to read config file").Wrap(err)
		}
		data, err = s.readResource(filename)
		if err != nil {
			return nil, errb.Wrap(ErrNoDefault)
		}
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errb.Hint("invalid YAML").Wrap(err)
	}

	return fromDocument(doc), nil
}

// LoadDefault reads the conventional config.yml.
func (s *Store) LoadDefault() (*Configuration, error) {
	return s.Load(DefaultFile)
}

// SaveDefault writes the embedded default to the data directory unless
// the file already exists.
func (s *Store) SaveDefault(filename string) error {
	errb := oops.In("config").With("plugin", s.pluginName).With("file", filename)

	path := filepath.Join(s.dataDir, filename)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := s.readResource(filename)
	if err != nil {
		return errb.Wrap(ErrNoDefault)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errb.Hint("failed to create directory").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errb.Hint("failed to write config file").Wrap(err)
	}

	slog.Info("created default config file",
		"plugin", s.pluginName,
		"file", filename)
	return nil
}

// SaveResource copies the named embedded resource into the data
// directory. An existing file is only overwritten when replace is set.
func (s *Store) SaveResource(filename string, replace bool) error {
	errb := oops.In("config").With("plugin", s.pluginName).With("file", filename)

	data, err := s.readResource(filename)
	if err != nil {
		return errb.Wrap(ErrNoDefault)
	}

	path := filepath.Join(s.dataDir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errb.Hint("failed to create directory").Wrap(err)
	}

	if !replace {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errb.Hint("failed to write resource file").Wrap(err)
	}

	slog.Info("saved resource file",
		"plugin", s.pluginName,
		"file", filename)
	return nil
}

func (s *Store) readResource(filename string) ([]byte, error) {
	if s.resources == nil {
		return nil, ErrNoDefault
	}
	return fs.ReadFile(s.resources, filename)
}

// fromDocument converts a decoded YAML document into a configuration.
// Non-mapping documents and non-string keys decode to an empty store
// rather than erroring.
func fromDocument(doc any) *Configuration {
	switch m := doc.(type) {
	case map[string]any:
		return FromMap(m)
	case map[any]any:
		data := make(map[string]any, len(m))
		for k, v := range m {
			if ks, ok := k.(string); ok {
				data[ks] = v
			}
		}
		return FromMap(data)
	default:
		return New()
	}
}
