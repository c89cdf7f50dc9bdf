package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nabachouhan/gatishakti3.0/internal/catalog"
)

// Store is the database surface the pipeline needs. *catalog.Repository
// satisfies it.
type Store interface {
	LayerExists(ctx context.Context, schema, table string) (bool, error)
	EnsureSchema(ctx context.Context, schema string) error
	DropTable(ctx context.Context, schema, table string) error
	Describe(ctx context.Context, schema, table, column string) (catalog.GeometryTableDescriptor, error)
	Upsert(ctx context.Context, m *catalog.LayerMetadata) error
	UpdateInfo(ctx context.Context, department, layer string, title, description *string) error
}

// Options configures a Pipeline.
type Options struct {
	ScratchDir     string
	MaxUploadBytes int64
	// MaxExtractBytes caps the summed uncompressed size of an archive. Zero
	// means no cap.
	MaxExtractBytes int64
	Loader          LoaderConfig
	// Runner defaults to ExecRunner.
	Runner Runner
	Logger *slog.Logger
}

// Pipeline runs ingestion jobs: stage, extract, load and reconcile, then
// clean up whatever happened.
type Pipeline struct {
	stager     *Stager
	extractor  *Extractor
	loader     *Loader
	reconciler *Reconciler
	store      Store
	locks      *KeyedMutex
	scratch    string
	log        *slog.Logger

	active sync.Map // job id -> struct{}
}

func New(store Store, opts Options) (*Pipeline, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.ScratchDir == "" {
		return nil, errors.New("scratch dir is required")
	}
	loader, err := NewLoader(opts.Loader, runner, store, log)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		stager:     &Stager{MaxBytes: opts.MaxUploadBytes},
		extractor:  NewExtractor(opts.MaxExtractBytes, log),
		loader:     loader,
		reconciler: NewReconciler(store, opts.Loader.GeometryColumn, log),
		store:      store,
		locks:      NewKeyedMutex(),
		scratch:    opts.ScratchDir,
		log:        log,
	}, nil
}

// Run takes one upload through the whole pipeline. The workspace is removed
// before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, req Request, upload *Upload) (Result, error) {
	job := newJob(req)
	p.active.Store(job.ID, struct{}{})
	defer p.active.Delete(job.ID)
	log := p.log.With("job_id", job.ID, "department", req.Department, "layer", req.Layer, "mode", string(req.Mode))
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		log = log.With("request_id", id)
	}

	err := p.run(ctx, job, upload, log)
	if err != nil {
		job.fail(err)
		level := slog.LevelWarn
		if StatusForError(err) >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(ctx, level, "ingestion failed", "error", err)
	} else {
		log.Info("ingestion complete",
			"table", job.Table.String(), "srid", job.Descriptor.SRID,
			"geometry_type", job.Descriptor.GeometryType, "took", job.FinishedAt.Sub(job.StartedAt))
	}
	return job.result(), err
}

func (p *Pipeline) run(ctx context.Context, job *Job, upload *Upload, log *slog.Logger) error {
	req := job.Request

	// Identifiers are checked before anything touches disk or spawns a process.
	table, err := NewTableName(req.Department, req.Layer)
	if err != nil {
		return err
	}
	job.Table = table
	if req.Mode != ModeCreate && req.Mode != ModeReplace {
		return fmt.Errorf("%w: mode %q", ErrInvalidUpload, req.Mode)
	}
	if req.SRID <= 0 {
		return fmt.Errorf("%w: srid is required", ErrInvalidUpload)
	}

	ws, err := NewWorkspace(p.scratch, job.ID, log)
	if err != nil {
		return err
	}
	defer ws.Release()

	job.ArchivePath, job.Format, err = p.stager.Stage(upload, ws)
	if err != nil {
		return err
	}
	job.advance(StateStaged)

	job.ExtractDir = ws.ExtractDir()
	job.Source, err = p.extractor.Extract(job.ArchivePath, job.Format, job.ExtractDir)
	if err != nil {
		return err
	}
	job.advance(StateExtracted)

	unlock, err := p.locks.Lock(ctx, table.LockKey())
	if err != nil {
		return fmt.Errorf("wait for layer lock: %w", err)
	}
	defer unlock()

	// From here on the database is changed. A caller going away must not stop
	// the job between drop, load and reconcile; the loader's own timeout
	// bounds the toolchain.
	ctx = context.WithoutCancel(ctx)

	exists, err := p.store.LayerExists(ctx, table.Schema, table.Table)
	if err != nil {
		return fmt.Errorf("check layer %s: %w", table, err)
	}
	switch {
	case req.Mode == ModeCreate && exists:
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, table)
	case req.Mode == ModeReplace && !exists:
		return fmt.Errorf("%w: %s", ErrLayerNotFound, table)
	}

	err = p.loader.Load(ctx, LoadSpec{Source: job.Source, Table: table, SRID: req.SRID, Mode: req.Mode})
	if err != nil {
		return err
	}
	job.advance(StateLoaded)

	job.Descriptor, err = p.reconciler.Reconcile(ctx, table, req)
	if err != nil {
		return err
	}
	job.advance(StateReconciled)
	return nil
}

// Active reports whether a job with this id is still running. The sweeper uses
// it to leave in-use workspaces alone.
func (p *Pipeline) Active(jobID string) bool {
	_, ok := p.active.Load(jobID)
	return ok
}

// UpdateInfo changes a layer's title and description without touching its data.
func (p *Pipeline) UpdateInfo(ctx context.Context, department, layer string, title, description *string) error {
	table, err := NewTableName(department, layer)
	if err != nil {
		return err
	}
	unlock, err := p.locks.Lock(ctx, table.LockKey())
	if err != nil {
		return fmt.Errorf("wait for layer lock: %w", err)
	}
	defer unlock()

	err = p.store.UpdateInfo(ctx, table.Schema, table.Table, title, description)
	if errors.Is(err, catalog.ErrLayerNotFound) {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, table)
	}
	return err
}

type requestIDKey struct{}

// WithRequestID tags ctx so pipeline logs can be joined with access logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}
