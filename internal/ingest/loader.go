package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/semaphore"
)

// LoaderConfig locates the toolchain and the target database.
type LoaderConfig struct {
	Shp2pgsqlPath  string
	PsqlPath       string
	DatabaseURL    string
	SSLMode        string
	GeometryColumn string
	Timeout        time.Duration
	MaxConcurrent  int64
}

// LoadSpec describes one load.
type LoadSpec struct {
	Source *GeometrySource
	Table  TableName
	SRID   int
	Mode   Mode
}

type loaderStore interface {
	EnsureSchema(ctx context.Context, schema string) error
	DropTable(ctx context.Context, schema, table string) error
}

// Loader converts a shapefile with shp2pgsql and streams the SQL into psql.
type Loader struct {
	cfg      LoaderConfig
	runner   Runner
	store    loaderStore
	sem      *semaphore.Weighted
	pgEnv    []string
	lookPath func(string) (string, error)
	log      *slog.Logger
}

func NewLoader(cfg LoaderConfig, runner Runner, store loaderStore, log *slog.Logger) (*Loader, error) {
	env, err := psqlEnv(cfg.DatabaseURL, cfg.SSLMode)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Loader{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		pgEnv:    env,
		lookPath: exec.LookPath,
		log:      log,
	}, nil
}

// psqlEnv turns the connection string into libpq environment variables so
// the password never shows up in a process listing.
func psqlEnv(dsn, sslmode string) ([]string, error) {
	pc, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	env := []string{
		"PGHOST=" + pc.Host,
		"PGPORT=" + strconv.Itoa(int(pc.Port)),
		"PGUSER=" + pc.User,
		"PGDATABASE=" + pc.Database,
		"PGAPPNAME=geoingest-loader",
	}
	if pc.Password != "" {
		env = append(env, "PGPASSWORD="+pc.Password)
	}
	if sslmode != "" {
		env = append(env, "PGSSLMODE="+sslmode)
	}
	return env, nil
}

// Load writes the shapefile into the target table. In replace mode the table is
// dropped first; a failure after that drop is ErrPartialReplaceFailure.
func (l *Loader) Load(ctx context.Context, ld LoadSpec) error {
	if err := ValidateIdentifier("schema", ld.Table.Schema); err != nil {
		return err
	}
	if err := ValidateIdentifier("table", ld.Table.Table); err != nil {
		return err
	}

	shp2pgsql, err := l.lookPath(l.cfg.Shp2pgsqlPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolchainUnavailable, err)
	}
	psql, err := l.lookPath(l.cfg.PsqlPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolchainUnavailable, err)
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for load slot: %v", ErrLoadFailure, err)
	}
	defer l.sem.Release(1)

	if err := l.store.EnsureSchema(ctx, ld.Table.Schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrLoadFailure, err)
	}

	dropped := false
	if ld.Mode == ModeReplace {
		if err := l.store.DropTable(ctx, ld.Table.Schema, ld.Table.Table); err != nil {
			return fmt.Errorf("%w: %v", ErrLoadFailure, err)
		}
		dropped = true
		l.log.Info("existing layer dropped", "table", ld.Table.String())
	}

	err = l.run(ctx, shp2pgsql, psql, ld)
	if err != nil && dropped {
		l.log.Error("replace left layer without data",
			"alert", true, "table", ld.Table.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrPartialReplaceFailure, err)
	}
	return err
}

func (l *Loader) run(ctx context.Context, shp2pgsql, psql string, ld LoadSpec) error {
	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	producer := Command{
		Path: shp2pgsql,
		Args: []string{
			"-s", strconv.Itoa(ld.SRID),
			"-I",
			"-W", ld.Source.Encoding,
			"-g", l.cfg.GeometryColumn,
			"-c",
			ld.Source.Path,
			ld.Table.String(),
		},
	}
	consumer := Command{
		Path: psql,
		Args: []string{"-X", "-q", "-v", "ON_ERROR_STOP=1"},
		Env:  l.pgEnv,
	}

	start := time.Now()
	res, err := l.runner.RunPipe(runCtx, producer, consumer)
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrLoadTimeout, l.cfg.Timeout)
	case err != nil:
		var te *ToolError
		if errors.As(err, &te) {
			l.log.Warn("load tool failed", "tool", te.Tool, "exit_code", te.ExitCode, "stderr", te.Stderr)
		}
		return fmt.Errorf("%w: %w", ErrLoadFailure, err)
	case strings.Contains(res.Stderr, "ERROR:") || strings.Contains(res.Output, "ERROR:"):
		l.log.Warn("load reported errors", "stderr", res.Stderr)
		return fmt.Errorf("%w: %w", ErrLoadFailure, &ToolError{Tool: psql, Stderr: res.Stderr, Err: errors.New("error in output")})
	}

	l.log.Info("layer loaded", "table", ld.Table.String(), "srid", ld.SRID, "took", time.Since(start))
	return nil
}
