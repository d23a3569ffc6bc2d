package sampleindex

import (
	"fmt"
	"strings"

	"github.com/wychytu/opencga/internal/query"
)

// Step is one line of a plan explanation.
type Step struct {
	Stage  string
	Detail string
}

func (s Step) String() string {
	return s.Stage + ": " + s.Detail
}

// Explain describes what plan asks of the index and which predicates of
// original it leaves to the residual filter.
func Explain(plan *SampleIndexQuery, original, residual query.Query) []Step {
	var steps []Step
	add := func(stage, format string, args ...any) {
		steps = append(steps, Step{Stage: stage, Detail: fmt.Sprintf(format, args...)})
	}

	add("study", "%s", plan.Study)
	if len(plan.Regions) == 0 {
		add("regions", "whole genome")
	} else {
		rs := make([]string, len(plan.Regions))
		for i, r := range plan.Regions {
			rs[i] = r.String()
		}
		add("regions", "%s", strings.Join(rs, ","))
	}

	add("samples", "%d samples, operation %s", len(plan.Samples), plan.Operation)
	for _, name := range plan.SampleNames() {
		detail := strings.Join(plan.Samples[name], ",")
		if plan.IsNegated(name) {
			detail = "none of " + detail
		}
		add("sample "+name, "%s", detail)
		if f, ok := plan.FatherFilter[name]; ok {
			add("sample "+name, "father %s", f)
		}
		if f, ok := plan.MotherFilter[name]; ok {
			add("sample "+name, "mother %s", f)
		}
		if f := plan.FileFilter[name]; f != nil && !f.Empty() {
			detail := fmt.Sprintf("file mask %08b", f.Mask)
			if f.Qual != nil {
				detail += " qual " + f.Qual.String()
			}
			if f.DP != nil {
				detail += " dp " + f.DP.String()
			}
			add("sample "+name, "%s", detail)
		}
	}
	if len(plan.MendelianErrorSamples) > 0 {
		kind := "mendelian error"
		if plan.OnlyDeNovo {
			kind = "de novo"
		}
		add("family", "%s in %s", kind, strings.Join(plan.MendelianErrorSamples, ","))
	}

	a := plan.Annotation
	if !a.Empty() {
		add("annotation", "summary %08b/%08b ct %016b bt %08b clinical %08b",
			a.SummaryMask[0], a.SummaryMask[1], a.CTMask, a.BTMask, a.ClinicalMask)
		for _, pf := range a.PopFreq {
			add("annotation", "popfreq %s:%s %s", pf.Study, pf.Population, pf.Range)
		}
		if len(a.PopFreq) > 1 {
			add("annotation", "popfreq operation %s partial=%t", a.PopFreqOp, a.PopFreqPartial)
		}
	}
	if len(plan.VariantTypes) > 0 {
		add("types", "%s", strings.Join(plan.VariantTypes, ","))
	}

	covered := original.Removed(residual)
	names := make([]string, len(covered))
	for i, p := range covered {
		names[i] = string(p)
	}
	add("covered", "%s", orNone(names))
	kept := residual.Keys()
	names = make([]string, len(kept))
	for i, p := range kept {
		names[i] = string(p)
	}
	add("residual", "%s", orNone(names))
	add("complete", "%t", plan.Complete)
	return steps
}

func orNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ",")
}
