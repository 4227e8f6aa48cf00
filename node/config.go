package node

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"runtime"
	"unicode"

	"github.com/alecthomas/units"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config collects every tunable of a running node. It is decoded from
// a TOML file; keys absent from the file keep DefaultConfig's values.
type Config struct {
	// DataDir is where the chain database lives. Empty selects an
	// in-memory database (useful for throwaway devnets and tests).
	DataDir string

	// NetworkID selects which network's peers to accept.
	NetworkID uint64

	// ListenAddr is the TCP endpoint for inbound peers; empty disables
	// listening.
	ListenAddr string

	// StaticPeers are host:port endpoints dialed (and redialed) at
	// startup.
	StaticPeers []string

	// EnableNAT turns on best-effort NAT-PMP/UPnP port mapping for the
	// listening endpoint.
	EnableNAT bool

	// Mining starts the PoW worker at boot; MineIntervalMs is the pause
	// between candidate assemblies (0 = continuous).
	Mining         bool
	MineIntervalMs uint64

	// MetricsAddr, when set, serves a Prometheus scrape endpoint on the
	// given host:port.
	MetricsAddr string

	// DBCacheSize is the database cache budget, accepted in human units
	// ("64MiB", "1GiB").
	DBCacheSize string

	// DBHandles caps the database's open file descriptors.
	DBHandles int
}

// DefaultConfig contains reasonable default settings.
var DefaultConfig = Config{
	DataDir:     DefaultDataDir(),
	NetworkID:   1,
	ListenAddr:  ":32323",
	DBCacheSize: "64MiB",
	DBHandles:   512,
}

// DefaultDataDir is the default data directory to use for the database
// and other persistence requirements.
func DefaultDataDir() string {
	home := homeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Axledger")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Axledger")
	default:
		return filepath.Join(home, ".axledger")
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LoadConfig reads a TOML config file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			err = errors.New(path + ", " + err.Error())
		}
		return nil, errors.Wrap(err, "decode config")
	}
	if _, err := cfg.dbCacheBytes(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// dbCacheBytes parses the human-readable cache size into megabytes for
// the database layer.
func (c *Config) dbCacheBytes() (int, error) {
	if c.DBCacheSize == "" {
		c.DBCacheSize = DefaultConfig.DBCacheSize
	}
	n, err := units.ParseBase2Bytes(c.DBCacheSize)
	if err != nil {
		return 0, errors.Wrapf(err, "parse DBCacheSize %q", c.DBCacheSize)
	}
	mb := int(n / units.MiB)
	if mb < 1 {
		mb = 1
	}
	return mb, nil
}
