package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wychytu/opencga/internal/query"
	"github.com/wychytu/opencga/internal/sampleindex"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type planResult struct {
	Plan     *sampleindex.SampleIndexQuery `json:"plan"`
	Residual query.Query                   `json:"residual"`
}

func newPlanCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan key=value...",
		Short: "Plan a query against the sample index",
		Long:  "Plan a query given as key=value predicates, e.g. genotype=S1:0/1;S2:0/0 region=1:1000-2000.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planOut, _ := cmd.Flags().GetString("plan-out")
			q, err := query.Parse(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, logger())
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := s.planner(logger())
			if err != nil {
				return err
			}
			pl, residual, err := p.Plan(cmd.Context(), q)
			if err != nil {
				return err
			}
			if planOut != "" {
				if err := writePlan(planOut, pl); err != nil {
					return err
				}
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(planResult{Plan: pl, Residual: residual})
			}
			printSteps(out, sampleindex.Explain(pl, q, residual))
			return nil
		},
	}
	cmd.Flags().String("plan-out", "", "write the encoded plan to this file")
	return cmd
}

// writePlan stores the encoded plan at path through a temp file.
func writePlan(path string, pl *sampleindex.SampleIndexQuery) error {
	b, err := sampleindex.EncodePlan(pl)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plan-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func newValidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "valid key=value...",
		Short: "Report whether the sample index can serve a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(args)
			if err != nil {
				return err
			}
			ok, err := sampleindex.Valid(q)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(map[string]bool{"valid": ok})
			}
			_, err = fmt.Fprintln(out.w, ok)
			return err
		},
	}
}

func newExplainCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "explain key=value...",
		Short: "Explain how a query is split between the index and the residual filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, logger())
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := s.planner(logger())
			if err != nil {
				return err
			}
			pl, residual, err := p.Plan(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			steps := sampleindex.Explain(pl, q, residual)
			if out.isJSON() {
				return out.json(steps)
			}
			printSteps(out, steps)
			return nil
		},
	}
}

func printSteps(out *printer, steps []sampleindex.Step) {
	pairs := make([][2]string, len(steps))
	for i, s := range steps {
		pairs[i] = [2]string{s.Stage, s.Detail}
	}
	out.kv(pairs)
}

// batchResult is the outcome of planning one line of a batch file.
type batchResult struct {
	Line     int         `json:"line"`
	Samples  []string    `json:"samples,omitempty"`
	Complete bool        `json:"complete"`
	Residual query.Query `json:"residual,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func newBatchCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Plan one query per line of FILE (\"-\" for stdin)",
		Long:  "Plan one query per line. Each line holds space separated key=value predicates; blank lines and lines starting with # are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			failFast, _ := cmd.Flags().GetBool("fail-fast")

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(filepath.Clean(args[0]))
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			lines, err := readBatch(in)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, logger())
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := s.planner(logger())
			if err != nil {
				return err
			}

			results, err := planBatch(cmd.Context(), p, lines, workers, failFast)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(results)
			}
			rows := make([][]string, len(results))
			for i, r := range results {
				detail := r.Residual.String()
				if r.Error != "" {
					detail = "error: " + r.Error
				}
				rows[i] = []string{strconv.Itoa(r.Line), strings.Join(r.Samples, ","), strconv.FormatBool(r.Complete), detail}
			}
			out.table([]string{"LINE", "SAMPLES", "COMPLETE", "RESIDUAL"}, rows)
			return nil
		},
	}
	cmd.Flags().Int("workers", 4, "number of queries planned concurrently")
	cmd.Flags().Bool("fail-fast", false, "stop at the first query that fails to plan")
	return cmd
}

type batchLine struct {
	n      int
	fields []string
}

func readBatch(r io.Reader) ([]batchLine, error) {
	var lines []batchLine
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		lines = append(lines, batchLine{n: n, fields: strings.Fields(text)})
	}
	return lines, sc.Err()
}

// planBatch plans every line with at most workers plans in flight. Results
// keep the order of lines. Without failFast a failing line is reported in
// its result and the others still run.
func planBatch(ctx context.Context, p *sampleindex.Planner, lines []batchLine, workers int, failFast bool) ([]batchResult, error) {
	results := make([]batchResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, l := range lines {
		g.Go(func() error {
			results[i] = batchResult{Line: l.n}
			q, err := query.Parse(l.fields)
			if err == nil {
				var pl *sampleindex.SampleIndexQuery
				pl, results[i].Residual, err = p.Plan(gctx, q)
				if err == nil {
					results[i].Samples = pl.SampleNames()
					results[i].Complete = pl.Complete
				}
			}
			if err != nil {
				if failFast {
					return fmt.Errorf("line %d: %w", l.n, err)
				}
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
