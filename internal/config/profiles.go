package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile is a named preset that overrides extraction settings for one run,
// e.g. a limited first pass with tight ceilings versus a comprehensive
// final pass.
type Profile struct {
	Model          string   `yaml:"model,omitempty"`
	Zoom           float64  `yaml:"zoom,omitempty"`
	Concurrency    int      `yaml:"concurrency,omitempty"`
	BatchSize      int      `yaml:"batch_size,omitempty"`
	ScoreThreshold int      `yaml:"score_threshold,omitempty"`
	MinLikelihood  *float64 `yaml:"min_likelihood,omitempty"`
	MaxRows        int      `yaml:"max_rows,omitempty"`
	MaxCols        int      `yaml:"max_cols,omitempty"`
	MaxSheets      int      `yaml:"max_sheets,omitempty"`
}

// Profiles maps profile names to presets.
type Profiles struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads extraction profiles from a YAML file.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read profiles %s", path)
	}

	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "config: parse profiles")
	}
	if len(p.Profiles) == 0 {
		return nil, eris.Errorf("config: no profiles defined in %s", path)
	}

	return &p, nil
}

// Apply overlays a named profile onto the configuration. Zero-valued profile
// fields leave the existing setting untouched.
func (p *Profiles) Apply(cfg *Config, name string) error {
	prof, ok := p.Profiles[name]
	if !ok {
		return eris.Errorf("config: unknown profile %q", name)
	}

	if prof.Model != "" {
		cfg.Anthropic.ExtractModel = prof.Model
	}
	if prof.Zoom > 0 {
		cfg.Raster.Zoom = prof.Zoom
	}
	if prof.Concurrency > 0 {
		cfg.Extract.Concurrency = prof.Concurrency
	}
	if prof.BatchSize > 0 {
		cfg.Extract.BatchSize = prof.BatchSize
	}
	if prof.ScoreThreshold > 0 {
		cfg.Extract.ScoreThreshold = prof.ScoreThreshold
	}
	if prof.MinLikelihood != nil {
		cfg.Extract.MinLikelihood = *prof.MinLikelihood
	}
	if prof.MaxRows > 0 {
		cfg.Extract.MaxRows = prof.MaxRows
	}
	if prof.MaxCols > 0 {
		cfg.Extract.MaxCols = prof.MaxCols
	}
	if prof.MaxSheets > 0 {
		cfg.Extract.MaxSheets = prof.MaxSheets
	}

	return nil
}
