// Package config loads xtreedb's on-disk YAML configuration into the
// strongly typed structs each subsystem already declares (pkg/logger.Config,
// pkg/telemetry.Config, core/xtree.Config), following the same yaml.v3
// tagged-struct convention those packages use for their own Config types.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtreedb/xtreedb/core/xtree"
	"github.com/xtreedb/xtreedb/pkg/logger"
	"github.com/xtreedb/xtreedb/pkg/telemetry"
)

// XTreeOptions mirrors xtree.Config with yaml tags; spec.md §6.2 names these
// as on-disk configuration knobs, so the xtree package itself stays free of
// yaml tags and this package owns the wire mapping.
type XTreeOptions struct {
	PageSize                 int     `yaml:"page_size"`
	Dimensionality           int     `yaml:"dimensionality"`
	OverlapType              string  `yaml:"overlap_type"`
	MaxOverlap               float32 `yaml:"max_overlap"`
	RelMinEntries            float64 `yaml:"rel_min_entries"`
	RelMinFanout             float64 `yaml:"rel_min_fanout"`
	ReinsertFraction         float64 `yaml:"reinsert_fraction"`
	OmitOverlapForSupernodes bool    `yaml:"omit_overlap_for_supernodes"`
}

// Config is the top-level document: one xtree section plus the ambient
// logger/telemetry sections every xtreedb binary wires up the same way.
type Config struct {
	XTree     XTreeOptions     `yaml:"xtree"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// defaults matches spec.md §6.2's documented defaults for any field a config
// file omits.
func defaults() Config {
	return Config{
		XTree: XTreeOptions{
			PageSize:         4096,
			Dimensionality:   2,
			OverlapType:      "volume",
			MaxOverlap:       0.2,
			RelMinEntries:    0.3,
			RelMinFanout:     0.3,
			ReinsertFraction: 0.3,
		},
		Logger: logger.Config{
			Level:       "info",
			Format:      "json",
			OutputFile:  "stdout",
			ServiceName: "xtreedb",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "xtreedb",
			PrometheusPort:   9090,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads and parses a YAML config file, starting from defaults() so a
// file only needs to name the fields it overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// XTreeConfig translates the YAML-facing XTreeOptions into xtree.Config,
// resolving the overlap_type string into its typed enum.
func (c Config) XTreeConfig() (xtree.Config, error) {
	ot, err := parseOverlapType(c.XTree.OverlapType)
	if err != nil {
		return xtree.Config{}, err
	}
	return xtree.Config{
		PageSize:                 c.XTree.PageSize,
		Dimensionality:           c.XTree.Dimensionality,
		OverlapType:              ot,
		MaxOverlap:               c.XTree.MaxOverlap,
		RelMinEntries:            c.XTree.RelMinEntries,
		RelMinFanout:             c.XTree.RelMinFanout,
		ReinsertFraction:         c.XTree.ReinsertFraction,
		OmitOverlapForSupernodes: c.XTree.OmitOverlapForSupernodes,
	}, nil
}

func parseOverlapType(s string) (xtree.OverlapType, error) {
	switch s {
	case "", "volume":
		return xtree.OverlapVolume, nil
	case "data":
		return xtree.OverlapData, nil
	default:
		return 0, fmt.Errorf("config: unknown overlap_type %q: %w", s, xtree.ErrConfigInvalid)
	}
}
