package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := c.Population("GNOMAD_GENOMES:ALL"); got != 1 {
		t.Errorf("Population(GNOMAD_GENOMES:ALL) = %d, want 1", got)
	}
	if got := c.Population("GNOMAD_EXOMES:ALL"); got != -1 {
		t.Errorf("unknown population index = %d, want -1", got)
	}
}

func TestParseDefinesMissing(t *testing.T) {
	c, err := Parse([]byte(`
qualThresholds: [20, 40]
populations:
  - study: GNOMAD_EXOMES
    population: NFE
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !slices.Equal(c.QualThresholds, []float64{20, 40}) {
		t.Errorf("QualThresholds = %v", c.QualThresholds)
	}
	if !slices.Equal(c.DPThresholds, Default().DPThresholds) {
		t.Errorf("DPThresholds = %v, want the default", c.DPThresholds)
	}
	if len(c.Populations) != 1 || !slices.Equal(c.Populations[0].Thresholds, DefaultPopFreqThresholds) {
		t.Errorf("Populations = %+v", c.Populations)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"descending":    "qualThresholds: [30, 20]\n",
		"too many":      "dpThresholds: [1, 2, 3, 4]\n",
		"duplicate":     "populations:\n- {study: A, population: B}\n- {study: A, population: B}\n",
		"freq range":    "populations:\n- {study: A, population: B, thresholds: [0.5, 2]}\n",
		"missing study": "populations:\n- {population: B}\n",
	}
	for name, doc := range tests {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: error = %v, want ErrInvalid", name, err)
		}
	}
	if _, err := Parse([]byte("qualThreshold: [1]\n")); err == nil {
		t.Error("unknown field should be rejected")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if !slices.Equal(c.QualThresholds, Default().QualThresholds) {
		t.Errorf("missing file should give defaults, got %+v", c)
	}

	data, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(dir, "sampleindex.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Populations) != 2 || c.Populations[0].Key() != "1kG_phase3:ALL" {
		t.Errorf("Populations = %+v", c.Populations)
	}
}
