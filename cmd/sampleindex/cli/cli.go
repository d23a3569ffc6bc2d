// Package cli implements the sampleindex command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/home"
	"github.com/wychytu/opencga/internal/logging"
	"github.com/wychytu/opencga/internal/metadata"
	metadatafile "github.com/wychytu/opencga/internal/metadata/file"
	metadatamem "github.com/wychytu/opencga/internal/metadata/memory"
	metadatasqlite "github.com/wychytu/opencga/internal/metadata/sqlite"
	"github.com/wychytu/opencga/internal/sampleindex"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the sampleindex command with all subcommands
// wired in.
func NewRootCommand(version string) *cobra.Command {
	var logger *slog.Logger

	root := &cobra.Command{
		Use:          "sampleindex",
		Short:        "Plan variant queries against the sample index",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			levelFlag, _ := cmd.Flags().GetString("log-level")
			formatFlag, _ := cmd.Flags().GetString("log-format")
			level, err := logging.ParseLevel(levelFlag)
			if err != nil {
				return err
			}
			h, err := logging.NewHandler(cmd.ErrOrStderr(), formatFlag, slog.LevelDebug)
			if err != nil {
				return err
			}
			logger = slog.New(logging.NewComponentFilterHandler(h, level))
			return nil
		},
	}

	root.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	root.PersistentFlags().String("metadata-type", "sqlite", "metadata store type: sqlite, json, or memory")
	root.PersistentFlags().String("config", "", "sample index configuration file (default: <home>/sampleindex.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, or error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")
	root.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	loggerFn := func() *slog.Logger { return logger }
	root.AddCommand(
		newPlanCmd(loggerFn),
		newValidCmd(),
		newExplainCmd(loggerFn),
		newBatchCmd(loggerFn),
		newMetadataCmd(loggerFn),
		newConfigCmd(),
		versionCmd,
	)
	return root
}

// session holds what a command needs to read or change metadata.
type session struct {
	home  home.Dir
	store metadata.Store
	mm    metadata.Manager
	cfg   config.SampleIndexConfiguration
}

func (s *session) Close() error {
	return s.store.Close()
}

// planner builds a planner over the session's metadata.
func (s *session) planner(logger *slog.Logger) (*sampleindex.Planner, error) {
	return sampleindex.New(s.mm, s.cfg, logger)
}

// withLock runs fn while holding the project metadata lock.
func (s *session) withLock(ctx context.Context, fn func() error) error {
	l, err := s.store.Lock(ctx, time.Minute, 30*time.Second)
	if err != nil {
		return err
	}
	defer func() { _ = s.store.Unlock(context.WithoutCancel(ctx), l) }()
	return fn()
}

func resolveHome(homeFlag string) (home.Dir, error) {
	if homeFlag != "" {
		return home.New(homeFlag), nil
	}
	return home.Default()
}

// openSession opens the metadata store and loads the configuration named
// by the persistent flags of cmd.
func openSession(cmd *cobra.Command, logger *slog.Logger) (*session, error) {
	homeFlag, _ := cmd.Flags().GetString("home")
	storeType, _ := cmd.Flags().GetString("metadata-type")
	configFlag, _ := cmd.Flags().GetString("config")

	hd, err := resolveHome(homeFlag)
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	if storeType != "memory" {
		if err := hd.EnsureExists(); err != nil {
			return nil, err
		}
	}
	store, err := openMetadataStore(hd, storeType, logger)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	path := configFlag
	if path == "" {
		path = hd.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{home: hd, store: store, mm: metadata.NewManager(store), cfg: cfg}, nil
}

func openMetadataStore(hd home.Dir, storeType string, logger *slog.Logger) (metadata.Store, error) {
	switch storeType {
	case "memory":
		return metadatamem.NewStore(), nil
	case "json":
		return metadatafile.NewStore(hd.MetadataPath("json"), logger)
	case "sqlite":
		return metadatasqlite.NewStore(hd.MetadataPath("sqlite"))
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (valid: sqlite, json, memory)", storeType)
	}
}
