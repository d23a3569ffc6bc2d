package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/vcf"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMetadataCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Manage the studies, samples and files the planner reads",
	}
	cmd.AddCommand(
		newStudyCmd(logger),
		newSampleCmd(logger),
		newFileCmd(logger),
		newStatusCmd(logger),
		newLockCmd(logger),
	)
	return cmd
}

// sessionCmd wraps a RunE body with an open session.
func sessionCmd(logger func() *slog.Logger, fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, logger())
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

// studyFlag resolves the --study flag, falling back to the only study.
func studyFlag(cmd *cobra.Command, s *session) (metadata.Study, error) {
	name, _ := cmd.Flags().GetString("study")
	return s.mm.DefaultStudy(cmd.Context(), nil, name)
}

func newStudyCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "study", Short: "Manage studies"}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a study",
		Args:  cobra.ExactArgs(1),
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, args []string) error {
			genotypes, _ := cmd.Flags().GetStringSlice("genotypes")
			aggregation, _ := cmd.Flags().GetString("aggregation")
			ctx := cmd.Context()
			var st metadata.Study
			err := s.withLock(ctx, func() error {
				id, err := metadata.NextStudyID(ctx, s.store)
				if err != nil {
					return err
				}
				st = metadata.Study{ID: id, Name: args[0], LoadedGenotypes: genotypes, Aggregation: aggregation}
				return s.store.PutStudy(ctx, st)
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(newPrinter(cmd).w, "study %s added with id %d\n", st.Name, st.ID)
			return err
		}),
	}
	add.Flags().StringSlice("genotypes", nil, "loaded genotypes (default: the standard list)")
	add.Flags().String("aggregation", "", "aggregation type")

	list := &cobra.Command{
		Use:   "list",
		Short: "List studies",
		Args:  cobra.NoArgs,
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, _ []string) error {
			studies, err := s.store.ListStudies(cmd.Context())
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(studies)
			}
			rows := make([][]string, len(studies))
			for i, st := range studies {
				rows[i] = []string{strconv.Itoa(st.ID), st.Name, strings.Join(st.Genotypes(), ",")}
			}
			out.table([]string{"ID", "NAME", "GENOTYPES"}, rows)
			return nil
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newSampleCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "sample", Short: "Manage samples"}
	cmd.PersistentFlags().String("study", "", "study name or id")

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a sample",
		Args:  cobra.ExactArgs(1),
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, args []string) error {
			father, _ := cmd.Flags().GetString("father")
			mother, _ := cmd.Flags().GetString("mother")
			ctx := cmd.Context()
			st, err := studyFlag(cmd, s)
			if err != nil {
				return err
			}
			var sm metadata.Sample
			err = s.withLock(ctx, func() error {
				id, err := metadata.NextSampleID(ctx, s.store, st.ID)
				if err != nil {
					return err
				}
				sm = metadata.Sample{StudyID: st.ID, ID: id, Name: args[0]}
				if sm.Father, err = parentID(ctx, s, st.ID, father); err != nil {
					return err
				}
				if sm.Mother, err = parentID(ctx, s, st.ID, mother); err != nil {
					return err
				}
				return s.store.PutSample(ctx, sm)
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(newPrinter(cmd).w, "sample %s added with id %d\n", sm.Name, sm.ID)
			return err
		}),
	}
	add.Flags().String("father", "", "father sample name or id")
	add.Flags().String("mother", "", "mother sample name or id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the samples of a study",
		Args:  cobra.NoArgs,
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, _ []string) error {
			st, err := studyFlag(cmd, s)
			if err != nil {
				return err
			}
			samples, err := s.store.ListSamples(cmd.Context(), st.ID)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(samples)
			}
			rows := make([][]string, len(samples))
			for i, sm := range samples {
				var status []string
				for _, task := range metadata.Tasks {
					status = append(status, task+"="+string(sm.StatusOf(task)))
				}
				rows[i] = []string{strconv.Itoa(sm.ID), sm.Name, idList(sm.Files), optionalID(sm.Father), optionalID(sm.Mother), strings.Join(status, " ")}
			}
			out.table([]string{"ID", "NAME", "FILES", "FATHER", "MOTHER", "STATUS"}, rows)
			return nil
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

func parentID(ctx context.Context, s *session, studyID int, name string) (*int, error) {
	if name == "" {
		return nil, nil
	}
	id, err := s.mm.SampleID(ctx, studyID, name)
	if err != nil {
		return nil, fmt.Errorf("parent %q: %w", name, err)
	}
	return &id, nil
}

func newFileCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "file", Short: "Manage files"}
	cmd.PersistentFlags().String("study", "", "study name or id")

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a file and link it to its samples",
		Long:  "Add a file. Samples are given with --samples or read from the header of the VCF named by --vcf; samples not yet in the study are created.",
		Args:  cobra.ExactArgs(1),
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, args []string) error {
			names, _ := cmd.Flags().GetStringSlice("samples")
			vcfPath, _ := cmd.Flags().GetString("vcf")
			ctx := cmd.Context()
			if vcfPath != "" {
				h, err := vcf.ReadHeaderFile(vcfPath)
				if err != nil {
					return err
				}
				names = append(names, h.Samples...)
			}
			st, err := studyFlag(cmd, s)
			if err != nil {
				return err
			}
			var f metadata.File
			err = s.withLock(ctx, func() error {
				var err error
				f, err = addFile(ctx, s, st.ID, args[0], names)
				return err
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(newPrinter(cmd).w, "file %s added with id %d and %d samples\n", f.Name, f.ID, len(f.Samples))
			return err
		}),
	}
	add.Flags().StringSlice("samples", nil, "samples with calls in the file")
	add.Flags().String("vcf", "", "read the samples from this VCF header")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the files of a study",
		Args:  cobra.NoArgs,
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, _ []string) error {
			st, err := studyFlag(cmd, s)
			if err != nil {
				return err
			}
			files, err := s.store.ListFiles(cmd.Context(), st.ID)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(files)
			}
			rows := make([][]string, len(files))
			for i, f := range files {
				rows[i] = []string{strconv.Itoa(f.ID), f.Name, idList(f.Samples)}
			}
			out.table([]string{"ID", "NAME", "SAMPLES"}, rows)
			return nil
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

// addFile stores a new file and links it both ways with the named
// samples, creating the ones the study does not have yet.
func addFile(ctx context.Context, s *session, studyID int, name string, samples []string) (metadata.File, error) {
	id, err := metadata.NextFileID(ctx, s.store, studyID)
	if err != nil {
		return metadata.File{}, err
	}
	f := metadata.File{StudyID: studyID, ID: id, Name: name}
	var linked []metadata.Sample
	for _, sampleName := range samples {
		var sm metadata.Sample
		sampleID, err := s.mm.SampleID(ctx, studyID, sampleName)
		switch {
		case errors.Is(err, metadata.ErrNotFound):
			next, err := metadata.NextSampleID(ctx, s.store, studyID)
			if err != nil {
				return f, err
			}
			sm = metadata.Sample{StudyID: studyID, ID: next, Name: sampleName}
			if err := s.store.PutSample(ctx, sm); err != nil {
				return f, err
			}
		case err != nil:
			return f, err
		default:
			if sm, err = s.store.GetSample(ctx, studyID, sampleID); err != nil {
				return f, err
			}
		}
		if slices.Contains(f.Samples, sm.ID) {
			continue
		}
		f.Samples = append(f.Samples, sm.ID)
		sm.Files = append(sm.Files, f.ID)
		linked = append(linked, sm)
	}
	if err := s.store.PutFile(ctx, f); err != nil {
		return f, err
	}
	for _, sm := range linked {
		if err := s.store.PutSample(ctx, sm); err != nil {
			return f, err
		}
	}
	return f, nil
}

func newStatusCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status SAMPLE TASK STATUS",
		Short: "Set the status of a sample task",
		Long:  fmt.Sprintf("Set the status of a sample task. Tasks: %s. Statuses: NONE, RUNNING, READY, ERROR.", strings.Join(metadata.Tasks, ", ")),
		Args:  cobra.ExactArgs(3),
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			st, err := studyFlag(cmd, s)
			if err != nil {
				return err
			}
			status, err := metadata.ParseTaskStatus(strings.ToUpper(args[2]))
			if err != nil {
				return err
			}
			id, err := s.mm.SampleID(ctx, st.ID, args[0])
			if err != nil {
				return err
			}
			return s.withLock(ctx, func() error {
				return s.store.SetSampleStatus(ctx, st.ID, id, args[1], status)
			})
		}),
	}
	cmd.Flags().String("study", "", "study name or id")
	return cmd
}

func newLockCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "lock", Short: "Acquire or release the project metadata lock"}

	acquire := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire the lock and print its token",
		Args:  cobra.NoArgs,
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, _ []string) error {
			duration, _ := cmd.Flags().GetDuration("duration")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			l, err := s.store.Lock(cmd.Context(), duration, timeout)
			if err != nil {
				return err
			}
			out := newPrinter(cmd)
			if out.isJSON() {
				return out.json(l)
			}
			out.kv([][2]string{
				{"token", l.Token.String()},
				{"expires", l.Expires.Format(time.RFC3339)},
			})
			return nil
		}),
	}
	acquire.Flags().Duration("duration", 5*time.Minute, "how long the lock is held")
	acquire.Flags().Duration("timeout", 30*time.Second, "how long to wait for the lock")

	release := &cobra.Command{
		Use:   "release TOKEN",
		Short: "Release a lock acquired earlier",
		Args:  cobra.ExactArgs(1),
		RunE: sessionCmd(logger, func(cmd *cobra.Command, s *session, args []string) error {
			token, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid lock token: %w", err)
			}
			return s.store.Unlock(cmd.Context(), metadata.Lock{Token: token})
		}),
	}

	cmd.AddCommand(acquire, release)
	return cmd
}

func idList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func optionalID(id *int) string {
	if id == nil {
		return "-"
	}
	return strconv.Itoa(*id)
}
