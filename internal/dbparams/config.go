package dbparams

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding persisted parameters.
const (
	EnvEngine   = "CATALOG_DB_ENGINE"
	EnvPath     = "CATALOG_DB_PATH"
	EnvHost     = "CATALOG_DB_HOST"
	EnvPort     = "CATALOG_DB_PORT"
	EnvUser     = "CATALOG_DB_USER"
	EnvPassword = "CATALOG_DB_PASSWORD"
	EnvOptions  = "CATALOG_DB_OPTIONS"
)

// configFile is the on-disk layout of catalog.yaml. Only the database
// section is owned by this package; other keys are preserved on save.
type configFile struct {
	Database Parameters `yaml:"database"`
}

// LoadFile reads parameters from the database section of a YAML
// configuration file. A missing file yields zero parameters and no error.
func LoadFile(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Parameters{}, nil
	}
	if err != nil {
		return Parameters{}, errors.Annotatef(err, "reading %s", path)
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return Parameters{}, errors.Annotatef(err, "parsing %s", path)
	}
	p := cf.Database
	if p.IsSQLite() && p.DatabaseName != "" {
		// Fill in auxiliary files that were left out of the file.
		derived := ParametersFromSQLitePath(p.DatabaseName)
		if p.ThumbnailsName == "" {
			p.ThumbnailsName = derived.ThumbnailsName
		}
		if p.FacesName == "" {
			p.FacesName = derived.FacesName
		}
		if p.SimilarityName == "" {
			p.SimilarityName = derived.SimilarityName
		}
	}
	return p, nil
}

// SaveFile writes p into the database section of the YAML file at path,
// keeping any other top level keys already present.
func SaveFile(path string, p Parameters) error {
	doc := map[string]interface{}{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return errors.Annotatef(err, "parsing %s", path)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	} else if !os.IsNotExist(err) {
		return errors.Annotatef(err, "reading %s", path)
	}
	doc["database"] = p

	out, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Annotatef(err, "creating config directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return errors.Annotatef(err, "writing %s", tmp)
	}
	return errors.Trace(os.Rename(tmp, path))
}

// FromEnv overlays CATALOG_DB_* values from lookup on top of p. Setting
// CATALOG_DB_PATH alone selects the SQLite engine.
func FromEnv(p Parameters, lookup func(string) string) (Parameters, error) {
	if lookup == nil {
		lookup = os.Getenv
	}

	if v := strings.TrimSpace(lookup(EnvEngine)); v != "" {
		engine, err := ParseEngine(v)
		if err != nil {
			return p, errors.Annotatef(err, "%s", EnvEngine)
		}
		if engine != p.Engine {
			p = Parameters{Engine: engine, ConnectOptions: p.ConnectOptions}
		}
	}

	if v := lookup(EnvPath); v != "" {
		if p.Engine == EngineUnset || p.IsSQLite() {
			options := p.ConnectOptions
			p = ParametersFromSQLitePath(v)
			p.ConnectOptions = options
		} else {
			p.DatabaseName = v
			p.ThumbnailsName, p.FacesName, p.SimilarityName = v, v, v
		}
	}
	if v := lookup(EnvHost); v != "" {
		p.Host = v
	}
	if v := lookup(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.NotValidf("%s=%q", EnvPort, v)
		}
		p.Port = port
	}
	if v := lookup(EnvUser); v != "" {
		p.UserName = v
	}
	if v := lookup(EnvPassword); v != "" {
		p.Password = v
	}
	if v := lookup(EnvOptions); v != "" {
		p.ConnectOptions = v
	}
	return p, nil
}
