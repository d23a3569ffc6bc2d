package genotype

import (
	"slices"
	"testing"
)

func TestClassFilter(t *testing.T) {
	loaded := []string{"0/0", "0/1", "1/1", "./.", "0|1", "1/2", "2/2", "./1", "?/?"}
	tests := []struct {
		class Class
		want  []string
	}{
		{HomRef, []string{"0/0"}},
		{HomAlt, []string{"1/1", "2/2"}},
		{Het, []string{"0/1", "0|1", "1/2"}},
		{HetRef, []string{"0/1", "0|1"}},
		{HetAlt, []string{"1/2"}},
		{HetMiss, []string{"./1"}},
		{Miss, []string{"./."}},
		{MainAlt, []string{"0/1", "1/1", "0|1", "1/2", "./1"}},
		{NA, []string{"?/?"}},
	}
	for _, tt := range tests {
		if got := tt.class.Filter(loaded); !slices.Equal(got, tt.want) {
			t.Errorf("%s.Filter = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestFilterClasses(t *testing.T) {
	loaded := []string{"0/0", "0/1", "1/1", "1/2"}
	got := FilterClasses([]string{"HOM_ALT", "0/1", "het", "!0/0", "NA"}, loaded)
	want := []string{"1/1", "0/1", "1/2", "!0/0", "NA"}
	if !slices.Equal(got, want) {
		t.Errorf("FilterClasses = %v, want %v", got, want)
	}
}

func TestParseClass(t *testing.T) {
	if c, ok := ParseClass("main_alt"); !ok || c != MainAlt {
		t.Errorf("ParseClass(main_alt) = %v, %v", c, ok)
	}
	if _, ok := ParseClass("0/1"); ok {
		t.Error("a literal genotype is not a class")
	}
}
