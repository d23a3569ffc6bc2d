package region

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Region
	}{
		{"1:1000-2000", Region{"1", 1000, 2000}},
		{"chr2:500", Region{"2", 500, 500}},
		{"X", Region{"X", 1, math.MaxInt32}},
		{" 3:10-10 ", Region{"3", 10, 10}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", ":10", "1:abc", "1:20-10", "1:0-5"} {
		if _, err := Parse(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestString(t *testing.T) {
	for _, in := range []string{"1:1000-2000", "X", "2:5-5"} {
		r, err := Parse(in)
		if err != nil {
			t.Fatal(err)
		}
		if r.String() != in {
			t.Errorf("String() = %q, want %q", r.String(), in)
		}
	}
}

func TestMerge(t *testing.T) {
	a, _ := ParseList("2:100-200,1:1000-2000,1:1500-2500")
	b, _ := ParseList("1:2501-3000,10:5-6,1:5000-6000")
	got := Merge(a, b)
	want := []Region{
		{"1", 1000, 3000},
		{"1", 5000, 6000},
		{"2", 100, 200},
		{"10", 5, 6},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
	if Merge() != nil {
		t.Error("Merge of nothing should be nil")
	}
}

func TestMergeContained(t *testing.T) {
	got := Merge([]Region{{"1", 10, 100}, {"1", 20, 30}})
	if !slices.Equal(got, []Region{{"1", 10, 100}}) {
		t.Errorf("Merge = %v", got)
	}
}
