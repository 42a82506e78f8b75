package core

// ingest.go implements the streaming CDM ingestion pipeline.
//
// Input is consumed in fixed-size chunks. Each chunk is appended to the
// partial line carried from the previous chunk, complete lines are parsed,
// and the trailing fragment is carried forward. Parsed events are classified
// and buffered; the buffer is written with one BulkUpsert whenever it reaches
// BatchSize, so at most BatchSize events are ever pending.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultBatchSize is the number of events written per BulkUpsert.
	DefaultBatchSize = 1000

	// DefaultChunkSize is the read size for each ingestion chunk.
	DefaultChunkSize = 64 * 1024

	// MaxRejections caps the rejection report; RejectedRows still counts all.
	MaxRejections = 100
)

// ProgressFunc receives integer percentages 0-100, non-decreasing, with 100
// delivered exactly once after all data is flushed.
type ProgressFunc func(percent int)

// Ingester streams delimited CDM text into an EventStore.
type Ingester struct {
	Store     EventStore
	BatchSize int
	ChunkSize int
	Source    *Source
	Now       func() time.Time
	Metrics   *Metrics

	// WriteGuard, when set, is held around each batch write.
	WriteGuard sync.Locker
}

// NewIngester creates an ingester with default batch and chunk sizes.
func NewIngester(store EventStore, src *Source) *Ingester {
	return &Ingester{
		Store:     store,
		BatchSize: DefaultBatchSize,
		ChunkSize: DefaultChunkSize,
		Source:    src,
		Now:       time.Now,
	}
}

// Ingest reads r to completion, persisting classified events in batches.
// totalBytes is the raw input size for progress reporting; pass 0 if unknown.
//
// A read, decompression, or store failure aborts the ingestion and no further
// progress is reported. Batches flushed before the failure stay persisted.
// Empty input imports nothing and is not an error.
func (ing *Ingester) Ingest(ctx context.Context, r io.Reader, totalBytes int64, p PolicyConfig, onProgress ProgressFunc) (*IngestResult, error) {
	return ing.IngestAs(ctx, ulid.Make().String(), r, totalBytes, p, onProgress)
}

// IngestAs is Ingest with a caller-chosen import id. The id appears in the
// result and in ids generated for rows that lack one.
func (ing *Ingester) IngestAs(ctx context.Context, importID string, r io.Reader, totalBytes int64, p PolicyConfig, onProgress ProgressFunc) (*IngestResult, error) {
	start := time.Now()

	stream, err := WrapForIngest(r, totalBytes)
	if err != nil {
		ing.Metrics.observeImport("failed", time.Since(start))
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer stream.Close()

	run := ing.newRun(importID, p, onProgress)
	if err := run.consume(ctx, stream, ing.chunkSize()); err != nil {
		ing.Metrics.observeImport(importStatus(err), time.Since(start))
		slog.Warn("ingest aborted",
			"import_id", run.result.ImportID,
			"rows", run.result.Imported,
			"batches", run.result.Batches,
			"error", err,
		)
		return nil, err
	}

	res := &run.result
	res.BytesRead = stream.BytesRead()
	res.Digest = stream.Digest()
	res.Duration = time.Since(start)
	ing.Metrics.observeImport("complete", res.Duration)

	slog.Info("ingest complete",
		"import_id", res.ImportID,
		"rows", res.Imported,
		"rejected", res.RejectedRows,
		"batches", res.Batches,
		"compression", stream.Compression(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (ing *Ingester) batchSize() int {
	if ing.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return ing.BatchSize
}

func (ing *Ingester) chunkSize() int {
	if ing.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return ing.ChunkSize
}

func importStatus(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "failed"
}

// ingestRun holds the state of a single ingestion. It is owned by one
// goroutine for its whole life.
type ingestRun struct {
	ing        *Ingester
	parser     rowParser
	haveHeader bool
	lineNo     int // physical line number, 1-indexed
	dataIndex  int // data lines seen, 0-indexed
	pending    []Event
	lastPct    int
	onProgress ProgressFunc
	result     IngestResult
}

func (ing *Ingester) newRun(importID string, p PolicyConfig, onProgress ProgressFunc) *ingestRun {
	now := time.Now
	if ing.Now != nil {
		now = ing.Now
	}
	src := ing.Source
	if src == nil {
		src = NewTimeSeededSource()
	}
	return &ingestRun{
		ing: ing,
		parser: rowParser{
			policy:   p,
			rng:      src.Fork(),
			now:      now().UTC(),
			importID: importID,
		},
		pending:    make([]Event, 0, ing.batchSize()),
		onProgress: onProgress,
		result:     IngestResult{ImportID: importID, Headers: []string{}},
	}
}

func (run *ingestRun) consume(ctx context.Context, stream *IngestStream, chunkSize int) error {
	buf := make([]byte, chunkSize)
	var leftover string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			lines := strings.Split(leftover+string(buf[:n]), "\n")
			leftover = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if err := run.handleLine(ctx, line); err != nil {
					return err
				}
			}
			run.report(stream.Percent())
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read input: %w", readErr)
		}
	}

	if strings.TrimSpace(leftover) != "" {
		if err := run.handleLine(ctx, leftover); err != nil {
			return err
		}
	}
	if len(run.pending) > 0 {
		if err := run.flush(ctx); err != nil {
			return err
		}
	}
	run.report(100)
	return nil
}

func (run *ingestRun) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSuffix(line, "\r")
	run.lineNo++
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if !run.haveHeader {
		run.parser.header = parseHeader(line)
		run.haveHeader = true
		run.result.Delimiter = run.parser.header.delimiter
		run.result.Headers = run.parser.header.names
		return nil
	}

	ev, reason, ok := run.parser.parse(line, run.dataIndex)
	run.dataIndex++
	if !ok {
		run.reject(reason)
		return nil
	}

	run.pending = append(run.pending, ev)
	if len(run.pending) > run.result.MaxPending {
		run.result.MaxPending = len(run.pending)
	}
	if len(run.pending) >= run.ing.batchSize() {
		return run.flush(ctx)
	}
	return nil
}

func (run *ingestRun) reject(reason string) {
	run.result.RejectedRows++
	if len(run.result.Rejections) < MaxRejections {
		run.result.Rejections = append(run.result.Rejections, RowRejection{Line: run.lineNo, Reason: reason})
	}
	run.ing.Metrics.observeRejected()
}

// flush writes the pending batch, then yields so progress observers and
// other goroutines get scheduled between batches.
func (run *ingestRun) flush(ctx context.Context) error {
	batch := run.pending
	if err := run.ing.upsert(ctx, batch); err != nil {
		return fmt.Errorf("write batch %d: %w", run.result.Batches+1, err)
	}
	run.result.Batches++
	run.result.Imported += len(batch)
	run.ing.Metrics.observeBatch(len(batch))
	run.ing.Metrics.observeLanes(batch)
	run.pending = make([]Event, 0, run.ing.batchSize())

	runtime.Gosched()
	return ctx.Err()
}

func (ing *Ingester) upsert(ctx context.Context, batch []Event) error {
	if ing.WriteGuard != nil {
		ing.WriteGuard.Lock()
		defer ing.WriteGuard.Unlock()
	}
	return ing.Store.BulkUpsert(ctx, batch)
}

func (run *ingestRun) report(pct int) {
	if pct < run.lastPct {
		pct = run.lastPct
	}
	run.lastPct = pct
	if run.onProgress != nil {
		run.onProgress(pct)
	}
}
