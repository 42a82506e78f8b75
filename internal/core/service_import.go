package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrImportNotFound is returned for an unknown or expired import id.
var ErrImportNotFound = errors.New("import not found")

// finishedImportTTL is how long a finished import stays queryable.
const finishedImportTTL = 5 * time.Minute

type activeImport struct {
	ID       string
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *IngestResult
	err       error
	listeners []chan ImportProgress
}

// setProgress updates the snapshot and fans it out to listeners.
// Slow listeners miss intermediate updates but never block the import.
func (imp *activeImport) setProgress(update func(*ImportProgress)) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	update(&imp.progress)
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.progress:
		default:
		}
	}
}

// finish records the outcome and closes every listener.
func (imp *activeImport) finish(res *IngestResult, err error) {
	imp.mu.Lock()
	imp.result = res
	imp.err = err
	for _, ch := range imp.listeners {
		// Terminal state must reach every listener; make room if needed.
		select {
		case ch <- imp.progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- imp.progress
		}
		close(ch)
	}
	imp.listeners = nil
	imp.mu.Unlock()
	close(imp.Done)
}

// StartImport begins an asynchronous ingestion of r and returns its id
// immediately. size is the raw byte length for progress (0 if unknown).
// The reader must stay valid until the import finishes; if it is an
// io.Closer the import closes it when done.
//
// Returns ErrTooManyImports if no slot frees up within the wait period.
func (s *Service) StartImport(ctx context.Context, fileName string, r io.Reader, size int64) (string, error) {
	if err := s.importLimiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()
	timeout := s.cfg.ImportTimeout
	if timeout <= 0 {
		timeout = DefaultServiceConfig().ImportTimeout
	}
	importCtx, cancel := context.WithTimeout(context.Background(), timeout)

	imp := &activeImport{
		ID:       importID,
		FileName: fileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{
			ImportID: importID,
			FileName: fileName,
			Phase:    PhaseStarting,
		},
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	slog.Info("import accepted", append([]any{"import_id", importID, "file", fileName}, requesterAttrs(ctx)...)...)

	go func() {
		defer s.importLimiter.Release()
		defer cancel()
		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in import",
					"import_id", importID,
					"file", fileName,
					"panic", rec,
				)
				err := fmt.Errorf("internal error: %v", rec)
				imp.setProgress(func(p *ImportProgress) {
					p.Phase = PhaseFailed
					p.Error = MapImportError(err).Message
				})
				imp.finish(nil, err)
				s.cleanup(importID, finishedImportTTL)
			}
		}()
		s.runImport(importCtx, imp, r, size)
	}()

	return importID, nil
}

func (s *Service) runImport(ctx context.Context, imp *activeImport, r io.Reader, size int64) {
	log := slog.With("import_id", imp.ID, "file", imp.FileName)
	log.Info("import started", "bytes", size)

	imp.setProgress(func(p *ImportProgress) { p.Phase = PhaseReading })

	res, err := s.ingester.IngestAs(ctx, imp.ID, r, size, s.Policy(), func(pct int) {
		imp.setProgress(func(p *ImportProgress) {
			p.Percent = pct
			if pct == 100 {
				p.Phase = PhaseComplete
			}
		})
	})

	switch {
	case err == nil:
		imp.setProgress(func(p *ImportProgress) {
			p.Phase = PhaseComplete
			p.Imported = res.Imported
		})
	case errors.Is(err, context.Canceled):
		log.Info("import cancelled")
		imp.setProgress(func(p *ImportProgress) {
			p.Phase = PhaseCancelled
			p.Error = MapImportError(err).Message
		})
	default:
		log.Error("import failed", "error", err)
		imp.setProgress(func(p *ImportProgress) {
			p.Phase = PhaseFailed
			p.Error = MapImportError(err).Message
		})
	}

	imp.finish(res, err)
	s.cleanup(imp.ID, finishedImportTTL)
}

// Import ingests r synchronously under the current policy.
func (s *Service) Import(ctx context.Context, r io.Reader, size int64, onProgress ProgressFunc) (*IngestResult, error) {
	if err := s.importLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.importLimiter.Release()
	return s.ingester.Ingest(ctx, r, size, s.Policy(), onProgress)
}

func (s *Service) lookupImport(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// SubscribeProgress returns a channel of progress updates. The current state
// is delivered first; the channel is closed when the import finishes.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 16)
	imp.mu.Lock()
	defer imp.mu.Unlock()
	ch <- imp.progress
	select {
	case <-imp.Done:
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
	}
	return ch, nil
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(importID string) (ImportProgress, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return ImportProgress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// CancelImport cancels an in-progress import. Batches already written stay.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// GetImportResult waits for the import to finish and returns its result.
func (s *Service) GetImportResult(ctx context.Context, importID string) (*IngestResult, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return nil, err
	}
	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, imp.err
}

// WaitForImports blocks until no imports are running.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.importLimiter.WaitForDrain(ctx)
}

func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}
