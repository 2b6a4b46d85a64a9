package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/synthetichealth/vistaexport/internal/config"
	"github.com/synthetichealth/vistaexport/internal/domain/cohort"
	"github.com/synthetichealth/vistaexport/internal/platform/blobstore"
	"github.com/synthetichealth/vistaexport/internal/platform/db"
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
	"github.com/synthetichealth/vistaexport/internal/platform/vista"
)

const version = "0.1.0"

// errProblems makes verify exit non-zero when the store has problems.
var errProblems = errors.New("verification found problems")

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vista-export",
		Short:        "Export a synthetic cohort as VistA FileMan globals",
		SilenceUsage: true,
	}
	root.AddCommand(exportCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp().Str("service", "vista-export").Logger()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	}
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

type exportFlags struct {
	fromDB  bool
	limit   int
	archive bool
}

func exportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a cohort to a global store",
		Long: `Reads a cohort graph from a JSON file (or - for stdin) or from the source
database and writes the resulting globals, one node per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			overrideString(cmd, "input", &cfg.InputPath)
			overrideString(cmd, "out", &cfg.OutputPath)
			overrideString(cmd, "sqlite", &cfg.SQLitePath)
			overrideString(cmd, "mode", &cfg.ExportMode)
			overrideString(cmd, "export-date", &cfg.ExportDate)
			if cmd.Flags().Changed("ien-offset") {
				cfg.IENOffset, _ = cmd.Flags().GetInt64("ien-offset")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			return runExport(cmd.Context(), cfg, f, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("input", "", "Cohort JSON file, - for stdin (INPUT_PATH)")
	cmd.Flags().BoolVar(&f.fromDB, "from-db", false, "Read the cohort from DATABASE_URL")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Export at most this many patients (0 for all)")
	cmd.Flags().String("mode", "", "Encoding mode: pointer-clean or legacy (EXPORT_MODE)")
	cmd.Flags().String("export-date", "", "Header date as YYYY-MM-DD, defaults to today (EXPORT_DATE)")
	cmd.Flags().Int64("ien-offset", 0, "First IEN minus one for every file (IEN_OFFSET)")
	cmd.Flags().String("out", "", "Output file, stdout when empty (OUTPUT_PATH)")
	cmd.Flags().String("sqlite", "", "Also save the run to this SQLite snapshot (SQLITE_PATH)")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "Archive the run to S3_BUCKET")
	return cmd
}

func overrideString(cmd *cobra.Command, flag string, dst *string) {
	if cmd.Flags().Changed(flag) {
		*dst, _ = cmd.Flags().GetString(flag)
	}
}

func runExport(ctx context.Context, cfg *config.Config, f exportFlags, logger zerolog.Logger, stdout io.Writer) error {
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	day, err := cfg.ExportDay(time.Now())
	if err != nil {
		return err
	}
	if f.archive && cfg.S3Bucket == "" {
		return errors.New("--archive needs S3_BUCKET")
	}

	patients, err := loadCohort(ctx, cfg, f)
	if err != nil {
		return err
	}

	s, err := vista.NewSession(vista.Options{
		Mode:       mode,
		ExportDate: day,
		IENOffset:  fileman.IEN(cfg.IENOffset),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	res, err := s.Run(patients)
	if err != nil {
		return err
	}

	if err := writeStore(res.Store, cfg.OutputPath, stdout); err != nil {
		return err
	}
	manifest := res.Manifest()

	if cfg.SQLitePath != "" {
		snap, err := db.OpenSnapshotDB(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer snap.Close()
		run := db.RunInfo{
			RunID:      manifest.RunID,
			Mode:       manifest.Mode,
			ExportDate: manifest.ExportDate,
			Entries:    manifest.Entries,
			CreatedAt:  time.Now().UTC(),
		}
		if err := snap.Save(ctx, run, res.Store); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("snapshot saved")
	}

	if f.archive {
		store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return err
		}
		m, err := blobstore.NewArchiver(store, cfg.S3Prefix).Archive(ctx, manifest, strings.NewReader(res.Store.String()))
		if err != nil {
			return err
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Str("sha256", m.Hash).Msg("run archived")
	}
	return nil
}

// loadCohort reads the graph from the database inside one snapshot
// transaction, or from the input file.
func loadCohort(ctx context.Context, cfg *config.Config, f exportFlags) ([]*cohort.Patient, error) {
	if f.fromDB {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("--from-db needs DATABASE_URL")
		}
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		svc := cohort.NewService(cohort.NewRepo(pool))
		var patients []*cohort.Patient
		err = db.Snapshot(ctx, pool, func(ctx context.Context) error {
			var err error
			patients, err = svc.Load(ctx, f.limit)
			return err
		})
		return patients, err
	}

	switch cfg.InputPath {
	case "":
		return nil, errors.New("one of --input or --from-db is required")
	case "-":
		patients, err := cohort.Decode(os.Stdin)
		if err != nil {
			return nil, err
		}
		if f.limit > 0 && len(patients) > f.limit {
			patients = patients[:f.limit]
		}
		return patients, cohort.Validate(patients)
	default:
		return cohort.NewService(cohort.NewJSONRepo(cfg.InputPath)).Load(ctx, f.limit)
	}
}

func writeStore(store *globals.Store, path string, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := store.WriteTo(stdout)
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := store.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ---------------------------------------------------------------------------
// verify
// ---------------------------------------------------------------------------

func verifyCmd() *cobra.Command {
	var input, sqlitePath, runID, mode string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a global store for referential and encoding problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.ExportMode = mode
			}
			m, err := cfg.Mode()
			if err != nil {
				return err
			}
			store, err := readStore(cmd.Context(), input, sqlitePath, runID)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), vista.Verify(store, m))
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Serialized store, - for stdin")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite snapshot to read the run from")
	cmd.Flags().StringVar(&runID, "run", "", "Run id within --sqlite")
	cmd.Flags().StringVar(&mode, "mode", "", "Encoding mode the store was written in (EXPORT_MODE)")
	return cmd
}

func readStore(ctx context.Context, input, sqlitePath, runID string) (*globals.Store, error) {
	switch {
	case sqlitePath != "":
		if runID == "" {
			return nil, errors.New("--sqlite needs --run")
		}
		snap, err := db.OpenSnapshotDB(sqlitePath)
		if err != nil {
			return nil, err
		}
		defer snap.Close()
		return snap.Load(ctx, runID)
	case input == "-":
		return globals.Parse(os.Stdin)
	case input != "":
		in, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		defer in.Close()
		return globals.Parse(in)
	}
	return nil, errors.New("one of --input or --sqlite is required")
}

func report(w io.Writer, rep *vista.Report) error {
	for _, p := range rep.Problems {
		fmt.Fprintln(w, p.String())
	}
	fmt.Fprintf(w, "%s: %d nodes, %d records, %d problems\n", rep.Mode, rep.Entries, rep.Records, len(rep.Problems))
	if !rep.OK() {
		return errProblems
	}
	return nil
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the export API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		errc <- srv.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the cohort source schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema, defaults to DB_SCHEMA")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
				fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, at := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							at = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, at)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema, defaults to DB_SCHEMA")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, cohort.Migrations, "migrations"), schema)
}
