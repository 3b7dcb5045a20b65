package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default locations mirror the repository layout.
const (
	DefaultSourcesPath = "config/sources.yml"
	DefaultDQPath      = "config/dq.yml"
)

// Config is the parsed sources.yml document: store defaults plus a
// group -> sources mapping. Immutable once loaded.
type Config struct {
	Defaults Defaults            `yaml:"defaults"`
	Schedule Schedule            `yaml:"schedule"`
	Groups   map[string][]Source `yaml:"groups"`
}

// Defaults carries run-wide settings shared by every source.
type Defaults struct {
	DBPath     string `yaml:"db_path"`
	ReportsDir string `yaml:"reports_dir"`
	Mode       string `yaml:"mode"`
	Debug      bool   `yaml:"debug"`
}

// Schedule configures the periodic runner.
type Schedule struct {
	EveryMinutes int `yaml:"every_minutes"`
}

// Source declares one configured producer of a dataset destined for one
// destination table.
type Source struct {
	Name  string         `yaml:"name"`
	Type  string         `yaml:"type"`
	Table string         `yaml:"table"`
	Mode  string         `yaml:"mode"`
	Key   []string       `yaml:"key"`
	Cast  map[string]string `yaml:"cast"`
	// BatchDedup selects how duplicate keys inside one incoming batch are
	// handled: none (insert all), first, or last.
	BatchDedup string         `yaml:"batch_dedup"`
	Params     map[string]any `yaml:"params"`
	Export     *ExportSpec    `yaml:"export_parquet"`
}

// ExportSpec configures the optional partitioned parquet export of a
// destination table.
type ExportSpec struct {
	Dir         string            `yaml:"dir"`
	Overwrite   bool              `yaml:"overwrite"`
	PartitionBy []string          `yaml:"partition_by"`
	// Derive adds partition columns computed from a timestamp column,
	// e.g. year: "datetime_utc". Supported derivations: year, month, day.
	Derive map[string]string `yaml:"derive"`
}

// Load modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Within-batch duplicate key policies.
const (
	DedupNone  = "none"
	DedupFirst = "first"
	DedupLast  = "last"
)

// DestTable returns the destination table name, falling back to the
// source name when table is not set.
func (s *Source) DestTable() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Name
}

// Load reads and validates a sources.yml document.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Defaults.DBPath == "" {
		c.Defaults.DBPath = "data/warehouse.db"
	}
	if c.Defaults.ReportsDir == "" {
		c.Defaults.ReportsDir = "data/reports"
	}
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = ModeFull
	}
	if c.Schedule.EveryMinutes <= 0 {
		c.Schedule.EveryMinutes = 60
	}
	for _, sources := range c.Groups {
		for i := range sources {
			if sources[i].Mode == "" {
				sources[i].Mode = c.Defaults.Mode
			}
			if sources[i].BatchDedup == "" {
				sources[i].BatchDedup = DedupNone
			}
		}
	}
}

func (c *Config) validate() error {
	if len(c.Groups) == 0 {
		return errors.New("at least one group is required")
	}
	for group, sources := range c.Groups {
		if len(sources) == 0 {
			return fmt.Errorf("group %s has no sources", group)
		}
		for _, src := range sources {
			if src.Name == "" {
				return fmt.Errorf("group %s: source.name is required", group)
			}
			if src.Type == "" {
				return fmt.Errorf("source %s: type is required", src.Name)
			}
			switch src.Mode {
			case ModeFull, ModeIncremental:
			default:
				return fmt.Errorf("source %s: mode must be %s or %s", src.Name, ModeFull, ModeIncremental)
			}
			if src.Mode == ModeIncremental && len(src.Key) == 0 {
				return fmt.Errorf("source %s: incremental mode requires key", src.Name)
			}
			switch src.BatchDedup {
			case DedupNone, DedupFirst, DedupLast:
			default:
				return fmt.Errorf("source %s: batch_dedup must be none, first or last", src.Name)
			}
			if src.Export != nil && src.Export.Dir == "" {
				return fmt.Errorf("source %s: export_parquet.dir is required", src.Name)
			}
		}
	}
	return nil
}

// FindSource returns the named source within a group, or nil.
func (c *Config) FindSource(group, name string) *Source {
	for i := range c.Groups[group] {
		if c.Groups[group][i].Name == name {
			return &c.Groups[group][i]
		}
	}
	return nil
}
