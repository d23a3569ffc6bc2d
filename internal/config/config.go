// Package config holds the sample index configuration: the bucket
// thresholds for QUAL, DP and population frequencies.
//
// The configuration is a plain value. It is loaded once (from YAML or the
// defaults) and passed to the planner; nothing mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v2"
)

// MaxThresholds is the number of cut points that fit the 2-bit codes of
// the file and population frequency indexes.
const MaxThresholds = 3

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid sample index configuration")

// SampleIndexConfiguration defines how numeric values are bucketed by
// the sample index.
type SampleIndexConfiguration struct {
	QualThresholds []float64                  `yaml:"qualThresholds" json:"qualThresholds"`
	DPThresholds   []float64                  `yaml:"dpThresholds" json:"dpThresholds"`
	Populations    []PopulationFrequencyRange `yaml:"populations" json:"populations"`
}

// PopulationFrequencyRange is the bucketing of the alternate allele
// frequency of one population.
type PopulationFrequencyRange struct {
	Study      string    `yaml:"study" json:"study"`
	Population string    `yaml:"population" json:"population"`
	Thresholds []float64 `yaml:"thresholds" json:"thresholds"`
}

// Key returns "study:population", the form used in query filters.
func (p PopulationFrequencyRange) Key() string {
	return p.Study + ":" + p.Population
}

// Default population frequency cut points.
var DefaultPopFreqThresholds = []float64{0.001, 0.005, 0.01}

// Default returns the configuration used when no file is given.
func Default() SampleIndexConfiguration {
	pop := func(study, population string) PopulationFrequencyRange {
		return PopulationFrequencyRange{
			Study:      study,
			Population: population,
			Thresholds: slices.Clone(DefaultPopFreqThresholds),
		}
	}
	return SampleIndexConfiguration{
		QualThresholds: []float64{10, 20, 30},
		DPThresholds:   []float64{5, 10, 15},
		Populations: []PopulationFrequencyRange{
			pop("1kG_phase3", "ALL"),
			pop("GNOMAD_GENOMES", "ALL"),
		},
	}
}

// Population returns the index of the population range with the given
// "study:population" key, or -1.
func (c SampleIndexConfiguration) Population(key string) int {
	return slices.IndexFunc(c.Populations, func(p PopulationFrequencyRange) bool {
		return p.Key() == key
	})
}

// Validate checks that every threshold list is ascending and fits its code
// width, and that populations are not repeated.
func (c SampleIndexConfiguration) Validate() error {
	if err := validateThresholds("qualThresholds", c.QualThresholds); err != nil {
		return err
	}
	if err := validateThresholds("dpThresholds", c.DPThresholds); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Populations))
	for i, p := range c.Populations {
		if p.Study == "" || p.Population == "" {
			return fmt.Errorf("%w: populations[%d]: study and population are required", ErrInvalid, i)
		}
		if seen[p.Key()] {
			return fmt.Errorf("%w: population %q listed twice", ErrInvalid, p.Key())
		}
		seen[p.Key()] = true
		if err := validateThresholds("populations["+p.Key()+"]", p.Thresholds); err != nil {
			return err
		}
		for _, t := range p.Thresholds {
			if t <= 0 || t > 1 {
				return fmt.Errorf("%w: population %q: frequency threshold %v out of (0, 1]", ErrInvalid, p.Key(), t)
			}
		}
	}
	return nil
}

func validateThresholds(name string, t []float64) error {
	if len(t) > MaxThresholds {
		return fmt.Errorf("%w: %s: at most %d thresholds, got %d", ErrInvalid, name, MaxThresholds, len(t))
	}
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return fmt.Errorf("%w: %s: thresholds must be strictly ascending", ErrInvalid, name)
		}
	}
	return nil
}

// Parse decodes a YAML configuration. Missing sections take their default
// values; the result is validated.
func Parse(data []byte) (SampleIndexConfiguration, error) {
	var c SampleIndexConfiguration
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return SampleIndexConfiguration{}, fmt.Errorf("parse sample index configuration: %w", err)
	}
	c.defineMissing()
	if err := c.Validate(); err != nil {
		return SampleIndexConfiguration{}, err
	}
	return c, nil
}

// Load reads the configuration at path. A missing file yields the default
// configuration.
func Load(path string) (SampleIndexConfiguration, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return SampleIndexConfiguration{}, fmt.Errorf("read sample index configuration: %w", err)
	}
	return Parse(data)
}

// Marshal encodes c as YAML.
func (c SampleIndexConfiguration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *SampleIndexConfiguration) defineMissing() {
	def := Default()
	if c.QualThresholds == nil {
		c.QualThresholds = def.QualThresholds
	}
	if c.DPThresholds == nil {
		c.DPThresholds = def.DPThresholds
	}
	if c.Populations == nil {
		c.Populations = def.Populations
	}
	for i := range c.Populations {
		if c.Populations[i].Thresholds == nil {
			c.Populations[i].Thresholds = slices.Clone(DefaultPopFreqThresholds)
		}
	}
}
