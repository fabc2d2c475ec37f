package spooler

import (
	"fmt"
	"os"
	"strings"

	"capture-spooler/capture"

	"gopkg.in/yaml.v3"
)

// InputConfig is one spool location: a glob of recording files plus the
// directory broken recordings are moved to.
type InputConfig struct {
	Label    string `yaml:"label"`
	Glob     string `yaml:"glob"`
	ErrorDir string `yaml:"error_dir"`
}

// InputsConfig accepts either:
//  1. mapping form (preferred):
//     inputs:
//     mill1: /data/mill1/**/*.json
//     mill2: {glob: /data/mill2/*.zip, error_dir: /data/mill2/broken}
//  2. list form:
//     inputs:
//     - label: mill1
//     glob: /data/mill1/**/*.json
type InputsConfig struct {
	Items []InputConfig
}

func (in *InputsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]InputConfig, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			label := strings.TrimSpace(value.Content[i].Value)
			v := value.Content[i+1]
			if label == "" {
				continue
			}
			switch v.Kind {
			case yaml.ScalarNode:
				glob := strings.TrimSpace(v.Value)
				if glob == "" {
					continue
				}
				items = append(items, InputConfig{Label: label, Glob: glob})
			case yaml.MappingNode:
				var tmp struct {
					Glob     string `yaml:"glob"`
					ErrorDir string `yaml:"error_dir"`
				}
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				if strings.TrimSpace(tmp.Glob) == "" {
					continue
				}
				items = append(items, InputConfig{Label: label, Glob: strings.TrimSpace(tmp.Glob), ErrorDir: strings.TrimSpace(tmp.ErrorDir)})
			default:
				return fmt.Errorf("inputs.%s: expected a glob or a mapping", label)
			}
		}
		in.Items = items
		return nil
	case yaml.SequenceNode:
		var items []InputConfig
		if err := value.Decode(&items); err != nil {
			return err
		}
		in.Items = items
		return nil
	default:
		return fmt.Errorf("inputs: expected a mapping or a list")
	}
}

type DatabaseConfig struct {
	Folder string `yaml:"folder"`
	Prefix string `yaml:"prefix"`
}

// ExportConfig controls what is written per stitched run.
type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
	// Groups lists the groups written by the json format. The csv format
	// always writes HFData.
	Groups         []string `yaml:"groups"`
	ExcludeColumns []string `yaml:"exclude_columns"`
	// LimitToCalibration drops HFData rows past the last HFTimestamp counter.
	LimitToCalibration *bool `yaml:"limit_to_calibration"`
	// InfoKeys are LFData columns whose last value is added to info.csv.
	InfoKeys []string `yaml:"info_keys"`
}

type FileConfig struct {
	// Single DB path. Database takes precedence when its folder is set.
	DB       string         `yaml:"db"`
	Database DatabaseConfig `yaml:"database"`

	Inputs InputsConfig `yaml:"inputs"`
	Export ExportConfig `yaml:"export"`

	RenameHF      bool   `yaml:"rename_hf"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	SaturateZero  *bool  `yaml:"saturate_zero"`
	Workers       int    `yaml:"workers"`
	DoneDir       string `yaml:"done_dir"`
	Debug         bool   `yaml:"debug"`
	MetricsAddr   string `yaml:"metrics_addr"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if strings.TrimSpace(c.Export.Format) == "" {
		c.Export.Format = FormatCSV
	}
	c.Export.Format = strings.ToLower(strings.TrimSpace(c.Export.Format))
	if c.Export.ExcludeColumns == nil {
		c.Export.ExcludeColumns = []string{capture.ColumnCycle, capture.ColumnProbeCounter}
	}
	if c.Export.LimitToCalibration == nil {
		v := true
		c.Export.LimitToCalibration = &v
	}
	if c.SaturateZero == nil {
		v := true
		c.SaturateZero = &v
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = string(capture.HashSHA256)
	}
	for i := range c.Inputs.Items {
		if c.Inputs.Items[i].Label == "" {
			c.Inputs.Items[i].Label = fmt.Sprintf("input%d", i+1)
		}
	}
}

func (c *FileConfig) validate() error {
	switch c.Export.Format {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("export.format: unknown format %q (want csv or json)", c.Export.Format)
	}
	if _, err := capture.ParseHashAlgorithm(c.HashAlgorithm); err != nil {
		return fmt.Errorf("hash_algorithm: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative")
	}
	seen := make(map[string]bool, len(c.Inputs.Items))
	for _, in := range c.Inputs.Items {
		if strings.TrimSpace(in.Glob) == "" {
			return fmt.Errorf("inputs.%s: glob is empty", in.Label)
		}
		if seen[in.Label] {
			return fmt.Errorf("inputs.%s: duplicate label", in.Label)
		}
		seen[in.Label] = true
	}
	return nil
}

// RunnerConfig converts the file config into runner settings.
func (c *FileConfig) RunnerConfig() RunnerConfig {
	rc := RunnerConfig{
		DBPath:         c.DB,
		DBFolder:       c.Database.Folder,
		DBPrefix:       c.Database.Prefix,
		Debug:          c.Debug,
		ExportDir:      c.Export.Dir,
		ExportFormat:   c.Export.Format,
		ExportGroups:   c.Export.Groups,
		ExcludeColumns: c.Export.ExcludeColumns,
		InfoKeys:       c.Export.InfoKeys,
		RenameHF:       c.RenameHF,
		HashAlgorithm:  capture.HashAlgorithm(c.HashAlgorithm),
		Workers:        c.Workers,
		DoneDir:        c.DoneDir,
	}
	if c.Export.LimitToCalibration != nil {
		rc.LimitToCalibration = *c.Export.LimitToCalibration
	}
	if c.SaturateZero != nil {
		rc.SaturateZero = *c.SaturateZero
	}
	for _, in := range c.Inputs.Items {
		rc.Inputs = append(rc.Inputs, InputSpec{Label: in.Label, Glob: in.Glob, ErrorDir: in.ErrorDir})
	}
	return rc
}
