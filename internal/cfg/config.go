package cfg

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/peter-kozarec/roundtrip/internal/dbg"
	"github.com/peter-kozarec/roundtrip/pkg/data/db/psql"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/tools/store"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

const (
	FormatExport = "export"
	FormatDuckDB = "duckdb"

	LogModeDev  = dbg.ModeDev
	LogModeProd = dbg.ModeProd
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Input struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

type Output struct {
	Path   string `yaml:"path"`
	Indent string `yaml:"indent"`
}

type DuckDB struct {
	DSN string `yaml:"dsn"`
	// Store, when set, also writes round trips into the DuckDB database.
	Store bool `yaml:"store"`
}

type Matching struct {
	ClosePolicy matching.ClosePolicy `yaml:"close_policy"`
	Workers     int                  `yaml:"workers"`
	Strict      bool                 `yaml:"strict"`
	Accounts    []string             `yaml:"accounts"`
}

type Log struct {
	Mode     string `yaml:"mode"`
	Monitor  bool   `yaml:"monitor"`
	Textfile string `yaml:"metrics_textfile"`
}

type Config struct {
	Input     Input                `yaml:"input"`
	Output    Output               `yaml:"output"`
	DuckDB    DuckDB               `yaml:"duckdb"`
	Postgres  psql.Credentials     `yaml:"postgres"`
	Matching  Matching             `yaml:"matching"`
	Log       Log                  `yaml:"log"`
	Contracts []store.ContractInfo `yaml:"contracts"`
}

func Defaults() Config {
	return Config{
		Input: Input{
			Path:   "trade_data_raw.json",
			Format: FormatExport,
		},
		Output: Output{
			Indent: "  ",
		},
		Matching: Matching{
			ClosePolicy: matching.ClosePolicyPerFill,
			Workers:     runtime.GOMAXPROCS(0),
		},
		Log: Log{
			Mode: LogModeDev,
		},
	}
}

// Load merges the YAML file at path over the defaults, then applies .env and
// ROUNDTRIP_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Input.Format {
	case FormatExport:
		if c.Input.Path == "" {
			return fmt.Errorf("%w: input path is required for the export format", ErrInvalidConfig)
		}
	case FormatDuckDB:
		if c.DuckDB.DSN == "" {
			return fmt.Errorf("%w: duckdb dsn is required for the duckdb format", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown input format %q", ErrInvalidConfig, c.Input.Format)
	}

	if c.DuckDB.Store && c.DuckDB.DSN == "" {
		return fmt.Errorf("%w: duckdb dsn is required to store round trips", ErrInvalidConfig)
	}
	if c.Postgres.Host != "" && c.Postgres.Database == "" {
		return fmt.Errorf("%w: postgres database is required when a host is set", ErrInvalidConfig)
	}
	if c.Matching.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Matching.Workers)
	}
	if c.Log.Mode != LogModeDev && c.Log.Mode != LogModeProd {
		return fmt.Errorf("%w: unknown log mode %q", ErrInvalidConfig, c.Log.Mode)
	}
	for _, contract := range c.Contracts {
		if contract.Symbol == "" || !contract.PointValue.Gt(fixed.Zero) {
			return fmt.Errorf("%w: contract %q needs a symbol and a positive point value", ErrInvalidConfig, contract.Symbol)
		}
	}
	return nil
}

// PostgresEnabled reports whether round trips are also stored in PostgreSQL.
func (c *Config) PostgresEnabled() bool {
	return c.Postgres.Host != ""
}

// OutputPath defaults to the input file name with a _roundtrips suffix.
func (c *Config) OutputPath() string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	if c.Input.Format == FormatExport {
		return strings.TrimSuffix(c.Input.Path, ".json") + "_roundtrips.json"
	}
	return "roundtrips.json"
}

// ContractStore is the default CME table with the configured contracts layered on top.
func (c *Config) ContractStore() store.ContractStore {
	return store.CreateDefaultContractStore().With(c.Contracts...)
}
