package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// PreviewSummary contains the summary counts for an import preview.
type PreviewSummary struct {
	TotalRows       int          `json:"totalRows"`
	NewRows         int          `json:"newRows"`
	UpdateRows      int          `json:"updateRows"`
	RejectedRows    int          `json:"rejectedRows"`
	DuplicateInFile int          `json:"duplicateInFile"`
	Lanes           map[Lane]int `json:"lanes"`
}

// UpdateDiff describes a stored event that the import would overwrite.
type UpdateDiff struct {
	ID          string   `json:"id"`
	CurrentLane Lane     `json:"currentLane"`
	NewLane     Lane     `json:"newLane"`
	Changed     []string `json:"changed"`
}

// DuplicatePreview is an id that appears more than once in the file. The last
// occurrence wins on import.
type DuplicatePreview struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// PreviewResult is the read-only analysis of an import.
type PreviewResult struct {
	Summary          PreviewSummary     `json:"summary"`
	NewSamples       []Event            `json:"newSamples"`
	UpdateDiffs      []UpdateDiff       `json:"updateDiffs"`
	Rejections       []RowRejection     `json:"rejections"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	Delimiter        string             `json:"delimiter"`
	Headers          []string           `json:"headers"`
	Digest           string             `json:"digest"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// Sample limits
const (
	maxNewSamples       = 10
	maxUpdateDiffs      = 10
	maxDuplicateSamples = 10
)

// previewSink is an EventStore that records batches instead of writing them.
type previewSink struct {
	existing map[string]Event
	seen     map[string]int
	order    []string
	result   *PreviewResult
}

func (p *previewSink) FetchAll(context.Context) ([]Event, error) { return nil, nil }

func (p *previewSink) Get(context.Context, string) (*Event, bool, error) { return nil, false, nil }

func (p *previewSink) Clear(context.Context) error { return nil }

func (p *previewSink) BulkUpsert(_ context.Context, events []Event) error {
	sum := &p.result.Summary
	for i := range events {
		ev := &events[i]
		sum.TotalRows++
		sum.Lanes[ev.Lane]++

		p.seen[ev.ID]++
		if p.seen[ev.ID] > 1 {
			sum.DuplicateInFile++
			continue
		}
		p.order = append(p.order, ev.ID)

		cur, ok := p.existing[ev.ID]
		if !ok {
			sum.NewRows++
			if len(p.result.NewSamples) < maxNewSamples {
				p.result.NewSamples = append(p.result.NewSamples, ev.Clone())
			}
			continue
		}
		sum.UpdateRows++
		if len(p.result.UpdateDiffs) < maxUpdateDiffs {
			p.result.UpdateDiffs = append(p.result.UpdateDiffs, UpdateDiff{
				ID:          ev.ID,
				CurrentLane: cur.Lane,
				NewLane:     ev.Lane,
				Changed:     changedFields(cur, *ev),
			})
		}
	}
	return nil
}

// changedFields lists the user-visible fields that differ between two
// versions of an event. Placeholder statistics are ignored.
func changedFields(cur, next Event) []string {
	var changed []string
	if cur.Object1 != next.Object1 {
		changed = append(changed, "object1")
	}
	if cur.Object2 != next.Object2 {
		changed = append(changed, "object2")
	}
	if !cur.TCA.Equal(next.TCA) {
		changed = append(changed, "tca")
	}
	if cur.MissDistance != next.MissDistance {
		changed = append(changed, "missDistance")
	}
	if cur.RelativeSpeed != next.RelativeSpeed {
		changed = append(changed, "relativeSpeed")
	}
	if cur.PcAnalytic != next.PcAnalytic {
		changed = append(changed, "pcAnalytic")
	}
	if cur.PcMC != nil {
		// An import carries no refinement, so a stored one is dropped.
		changed = append(changed, "pcMc")
	}
	if cur.Lane != next.Lane {
		changed = append(changed, "lane")
	}
	return changed
}

// PreviewImport parses r under the current policy without writing anything
// and reports what an import would do. It shares the import limiter.
func (s *Service) PreviewImport(ctx context.Context, r io.Reader, size int64) (*PreviewResult, error) {
	start := time.Now()

	if err := s.importLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.importLimiter.Release()

	stored, err := s.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	existing := make(map[string]Event, len(stored))
	for _, ev := range stored {
		existing[ev.ID] = ev
	}

	res := &PreviewResult{
		Summary:          PreviewSummary{Lanes: CountByLane(nil)},
		NewSamples:       []Event{},
		UpdateDiffs:      []UpdateDiff{},
		Rejections:       []RowRejection{},
		DuplicateSamples: []DuplicatePreview{},
	}
	sink := &previewSink{
		existing: existing,
		seen:     make(map[string]int),
		result:   res,
	}

	ing := &Ingester{
		Store:     sink,
		BatchSize: s.cfg.BatchSize,
		ChunkSize: s.cfg.ChunkSize,
		Source:    s.source,
		Now:       s.now,
	}
	ingested, err := ing.IngestAs(ctx, "preview", r, size, s.Policy(), nil)
	if err != nil {
		return nil, err
	}

	res.Summary.RejectedRows = ingested.RejectedRows
	if ingested.Rejections != nil {
		res.Rejections = ingested.Rejections
	}
	res.Delimiter = ingested.Delimiter
	res.Headers = ingested.Headers
	res.Digest = ingested.Digest

	for _, id := range sink.order {
		if n := sink.seen[id]; n > 1 && len(res.DuplicateSamples) < maxDuplicateSamples {
			res.DuplicateSamples = append(res.DuplicateSamples, DuplicatePreview{ID: id, Count: n})
		}
	}
	sort.SliceStable(res.DuplicateSamples, func(i, j int) bool {
		return res.DuplicateSamples[i].Count > res.DuplicateSamples[j].Count
	})

	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res, nil
}
