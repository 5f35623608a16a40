package dbparams

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Engine identifies the SQL backend a catalog lives in.
type Engine int

const (
	// EngineUnset marks parameters that were never configured.
	EngineUnset Engine = iota
	// EngineSQLite is the embedded, file based engine.
	EngineSQLite
	// EngineNetworkSQL is a MySQL/MariaDB server reached over TCP.
	EngineNetworkSQL
)

// ParseEngine accepts the names used in configuration files, URLs and
// environment variables.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return EngineUnset, nil
	case "sqlite", "sqlite3", "qsqlite":
		return EngineSQLite, nil
	case "mysql", "mariadb", "network", "qmysql":
		return EngineNetworkSQL, nil
	}
	return EngineUnset, errors.NotValidf("database engine %q", s)
}

func (e Engine) String() string {
	switch e {
	case EngineSQLite:
		return "sqlite"
	case EngineNetworkSQL:
		return "mysql"
	case EngineUnset:
		return ""
	default:
		return fmt.Sprintf("engine(%d)", int(e))
	}
}

// MarshalYAML implements yaml.Marshaler.
func (e Engine) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Engine) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseEngine(node.Value)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Database selects one of the logical databases a catalog is split into.
type Database int

const (
	CoreDatabase Database = iota
	ThumbnailsDatabase
	FacesDatabase
	SimilarityDatabase
)

// File names used next to the core database when the engine is SQLite.
const (
	CoreFileName       = "catalog.db"
	ThumbnailsFileName = "thumbnails-catalog.db"
	FacesFileName      = "recognition.db"
	SimilarityFileName = "similarity.db"
)

const defaultMySQLPort = 3306

// Parameters describes where the catalog databases live and how to reach
// them. The zero value is invalid. Parameters are compared structurally and
// may be used as map keys.
type Parameters struct {
	Engine         Engine `yaml:"engine"`
	DatabaseName   string `yaml:"database"`
	ThumbnailsName string `yaml:"thumbnails,omitempty"`
	FacesName      string `yaml:"faces,omitempty"`
	SimilarityName string `yaml:"similarity,omitempty"`
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	UserName       string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	ConnectOptions string `yaml:"options,omitempty"`
}

// ParametersFromSQLitePath builds SQLite parameters from either the core
// database file or the directory holding it. The auxiliary databases are
// placed next to the core file.
func ParametersFromSQLitePath(path string) Parameters {
	path = filepath.Clean(path)
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, CoreFileName)
	}
	dir := filepath.Dir(path)

	return Parameters{
		Engine:         EngineSQLite,
		DatabaseName:   path,
		ThumbnailsName: filepath.Join(dir, ThumbnailsFileName),
		FacesName:      filepath.Join(dir, FacesFileName),
		SimilarityName: filepath.Join(dir, SimilarityFileName),
	}
}

// NetworkParameters builds parameters for a MySQL server. All logical
// databases share the same schema unless changed afterwards.
func NetworkParameters(host string, port int, user, password, database string) Parameters {
	return Parameters{
		Engine:         EngineNetworkSQL,
		DatabaseName:   database,
		ThumbnailsName: database,
		FacesName:      database,
		SimilarityName: database,
		Host:           host,
		Port:           port,
		UserName:       user,
		Password:       password,
	}
}

// IsValid reports whether the parameters name an engine and a core database.
func (p Parameters) IsValid() bool {
	return p.Validate() == nil
}

// Validate returns a NotValid error describing the first problem found.
func (p Parameters) Validate() error {
	switch p.Engine {
	case EngineSQLite, EngineNetworkSQL:
	default:
		return errors.NotValidf("database engine %q", p.Engine)
	}
	if strings.TrimSpace(p.DatabaseName) == "" {
		return errors.NotValidf("empty database name")
	}
	if p.Port < 0 || p.Port > 65535 {
		return errors.NotValidf("port %d", p.Port)
	}
	if p.Engine == EngineNetworkSQL && p.Host == "" {
		return errors.NotValidf("empty host for %s engine", p.Engine)
	}
	if p.Engine != EngineSQLite {
		return nil
	}

	seen := map[string]Database{filepath.Clean(p.DatabaseName): CoreDatabase}
	for _, db := range []Database{ThumbnailsDatabase, FacesDatabase, SimilarityDatabase} {
		name := p.name(db)
		if name == "" {
			continue
		}
		name = filepath.Clean(name)
		if other, ok := seen[name]; ok {
			return errors.NotValidf("%s database shares file %q with %s database", db, name, other)
		}
		seen[name] = db
	}
	return nil
}

func (d Database) String() string {
	switch d {
	case CoreDatabase:
		return "core"
	case ThumbnailsDatabase:
		return "thumbnails"
	case FacesDatabase:
		return "faces"
	case SimilarityDatabase:
		return "similarity"
	default:
		return fmt.Sprintf("database(%d)", int(d))
	}
}

func (p Parameters) name(db Database) string {
	switch db {
	case ThumbnailsDatabase:
		return p.ThumbnailsName
	case FacesDatabase:
		return p.FacesName
	case SimilarityDatabase:
		return p.SimilarityName
	default:
		return p.DatabaseName
	}
}

// For returns the parameters addressing one logical database: the result
// has DatabaseName set to that database and no auxiliary names.
func (p Parameters) For(db Database) Parameters {
	out := p
	if name := p.name(db); name != "" {
		out.DatabaseName = name
	} else if p.Engine == EngineSQLite && db != CoreDatabase {
		out.DatabaseName = ParametersFromSQLitePath(p.DatabaseName).name(db)
	}
	out.ThumbnailsName, out.FacesName, out.SimilarityName = "", "", ""
	return out
}

// Equal reports structural equality.
func (p Parameters) Equal(other Parameters) bool {
	return p == other
}

// IsSQLite reports whether the embedded engine is configured.
func (p Parameters) IsSQLite() bool {
	return p.Engine == EngineSQLite
}

// IsNetwork reports whether a database server is configured.
func (p Parameters) IsNetwork() bool {
	return p.Engine == EngineNetworkSQL
}

// Address returns host:port for network engines.
func (p Parameters) Address() string {
	port := p.Port
	if port == 0 {
		port = defaultMySQLPort
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// Identity is a stable description of the physical storage, used to tell
// other processes which store changed.
func (p Parameters) Identity() string {
	switch p.Engine {
	case EngineSQLite:
		if abs, err := filepath.Abs(p.DatabaseName); err == nil {
			return "sqlite:" + abs
		}
		return "sqlite:" + p.DatabaseName
	case EngineNetworkSQL:
		return fmt.Sprintf("mysql:%s@%s/%s", p.UserName, p.Address(), p.DatabaseName)
	default:
		return ""
	}
}

// DSN returns the driver specific data source name, combining the engine
// defaults with the user's connect options.
func (p Parameters) DSN(settings EngineSettings) (string, error) {
	if err := p.Validate(); err != nil {
		return "", errors.Trace(err)
	}

	options := joinOptions(settings.Options, p.ConnectOptions)
	switch p.Engine {
	case EngineSQLite:
		if options == "" {
			return p.DatabaseName, nil
		}
		return p.DatabaseName + "?" + options, nil

	case EngineNetworkSQL:
		cfg := mysql.NewConfig()
		cfg.User = p.UserName
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = p.Address()
		cfg.DBName = p.DatabaseName

		dsn := cfg.FormatDSN()
		if options != "" {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + options
		}
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return "", errors.Annotatef(err, "invalid connect options %q", p.ConnectOptions)
		}
		return dsn, nil
	}
	return "", errors.NotSupportedf("engine %s", p.Engine)
}

func joinOptions(parts ...string) string {
	var kept []string
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "?&;")
		if part != "" {
			kept = append(kept, strings.ReplaceAll(part, ";", "&"))
		}
	}
	return strings.Join(kept, "&")
}

// Redacted is the URL form with the password masked, for log output.
func (p Parameters) Redacted() string {
	if p.Password == "" {
		return p.URL()
	}
	masked := p
	masked.Password = "xxxxx"
	return masked.URL()
}
