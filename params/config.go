// Package params holds run configuration: exchange session profiles and
// batch options. Priority is ENV > yaml profile file > defaults.
package params

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quantops/tickrecon/pkg/recon"
)

// SessionProfile is one exchange's continuous-auction calendar in
// HHMMSSmmm stamps. Half-open intervals; AfternoonEnd is where the
// exchanges actually differ (SH 15:00, SZ 14:57).
type SessionProfile struct {
	MorningStart   int64 `yaml:"morning_start"`
	MorningEnd     int64 `yaml:"morning_end"`
	AfternoonStart int64 `yaml:"afternoon_start"`
	AfternoonEnd   int64 `yaml:"afternoon_end"`
}

func (p SessionProfile) Filter() recon.SessionFilter {
	return recon.SessionFilter{
		Morning:   recon.Window{Start: p.MorningStart, End: p.MorningEnd},
		Afternoon: recon.Window{Start: p.AfternoonStart, End: p.AfternoonEnd},
	}
}

type Batch struct {
	Workers      int    `yaml:"workers"`
	OnError      string `yaml:"on_error"` // abort | skip
	SkipExisting bool   `yaml:"skip_existing"`
}

type Paths struct {
	Input   string `yaml:"input"`
	Store   string `yaml:"store"`
	LogFile string `yaml:"log_file"`
}

type Config struct {
	Exchanges map[string]SessionProfile `yaml:"exchanges"`
	Batch     Batch                     `yaml:"batch"`
	Paths     Paths                     `yaml:"paths"`
}

func Default() Config {
	sh := recon.ShanghaiSessions()
	sz := recon.ShenzhenSessions()
	return Config{
		Exchanges: map[string]SessionProfile{
			"sh": {
				MorningStart:   sh.Morning.Start,
				MorningEnd:     sh.Morning.End,
				AfternoonStart: sh.Afternoon.Start,
				AfternoonEnd:   sh.Afternoon.End,
			},
			"sz": {
				MorningStart:   sz.Morning.Start,
				MorningEnd:     sz.Morning.End,
				AfternoonStart: sz.Afternoon.Start,
				AfternoonEnd:   sz.Afternoon.End,
			},
		},
		Batch: Batch{
			Workers:      runtime.NumCPU(),
			OnError:      "abort",
			SkipExisting: false,
		},
		Paths: Paths{
			Input:   "data/feed",
			Store:   "data/results",
			LogFile: "data/tickrecon.log",
		},
	}
}

// Load builds the effective config: defaults, then the optional yaml
// profile file, then environment variables (a .env file is honored if
// present).
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	_ = godotenv.Load() // optional .env in the working directory

	if v := os.Getenv("TICKRECON_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("TICKRECON_ON_ERROR"); v != "" {
		cfg.Batch.OnError = v
	}
	if v := os.Getenv("TICKRECON_SKIP_EXISTING"); v != "" {
		cfg.Batch.SkipExisting = v == "true"
	}
	if v := os.Getenv("TICKRECON_INPUT"); v != "" {
		cfg.Paths.Input = v
	}
	if v := os.Getenv("TICKRECON_STORE"); v != "" {
		cfg.Paths.Store = v
	}
	if v := os.Getenv("TICKRECON_LOG_FILE"); v != "" {
		cfg.Paths.LogFile = v
	}

	return cfg, nil
}

// Session resolves an exchange name to its filter.
func (c Config) Session(exchange string) (recon.SessionFilter, error) {
	p, ok := c.Exchanges[exchange]
	if !ok {
		return recon.SessionFilter{}, fmt.Errorf("unknown exchange %q", exchange)
	}
	return p.Filter(), nil
}
