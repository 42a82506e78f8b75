package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestIngester(store EventStore, batch, chunk int) *Ingester {
	return &Ingester{
		Store:     store,
		BatchSize: batch,
		ChunkSize: chunk,
		Source:    NewSource(1),
		Now:       fixedClock,
	}
}

// progressLog records every progress callback.
type progressLog struct{ values []int }

func (l *progressLog) record(pct int) { l.values = append(l.values, pct) }

func (l *progressLog) check(t *testing.T) {
	t.Helper()
	if len(l.values) == 0 {
		t.Fatal("no progress reported")
	}
	hundreds := 0
	for i, v := range l.values {
		if v < 0 || v > 100 {
			t.Errorf("progress[%d] = %d out of range", i, v)
		}
		if i > 0 && v < l.values[i-1] {
			t.Errorf("progress decreased: %d -> %d", l.values[i-1], v)
		}
		if v == 100 {
			hundreds++
		}
	}
	if hundreds != 1 {
		t.Errorf("100%% reported %d times, want exactly once", hundreds)
	}
	if last := l.values[len(l.values)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestIngest_SingleRow(t *testing.T) {
	store := newFakeStore()
	input := "id,object1,object2,tca,miss_distance,pc\nCDM-1,SAT-A,SAT-B,2024-01-01 10:00:00,500,0.0002\n"

	res, err := newTestIngester(store, 1000, 0).Ingest(context.Background(), strings.NewReader(input), int64(len(input)), DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Imported != 1 || res.RejectedRows != 0 {
		t.Fatalf("Imported = %d, Rejected = %d, want 1, 0", res.Imported, res.RejectedRows)
	}

	ev, ok, _ := store.Get(context.Background(), "CDM-1")
	if !ok {
		t.Fatal("CDM-1 not stored")
	}
	if got := ev.TCA.Format(time.RFC3339); got != "2024-01-01T10:00:00Z" {
		t.Errorf("TCA = %s, want 2024-01-01T10:00:00Z", got)
	}
	if ev.Object1 != "SAT-A" || ev.Object2 != "SAT-B" {
		t.Errorf("objects = %s, %s", ev.Object1, ev.Object2)
	}
	if ev.MissDistance != 500 {
		t.Errorf("MissDistance = %g, want 500", ev.MissDistance)
	}
	if ev.PcAnalytic != 0.0002 {
		t.Errorf("PcAnalytic = %g, want 0.0002", ev.PcAnalytic)
	}
	if ev.Lane != LaneMCRequired {
		t.Errorf("Lane = %v, want MC_REQUIRED", ev.Lane)
	}
	if ev.RelativeSpeed != DefaultRelativeSpeed {
		t.Errorf("RelativeSpeed = %g, want default %g", ev.RelativeSpeed, DefaultRelativeSpeed)
	}
	if ev.HBR < 5 || ev.HBR >= 10 {
		t.Errorf("HBR = %g, want placeholder in [5, 10)", ev.HBR)
	}
	if !ev.CreationDate.Equal(testNow) {
		t.Errorf("CreationDate = %v, want %v", ev.CreationDate, testNow)
	}
	if res.Delimiter != "," || len(res.Headers) != 6 {
		t.Errorf("Delimiter = %q, Headers = %v", res.Delimiter, res.Headers)
	}
}

func bulkCSV(rows int) string {
	var b strings.Builder
	b.WriteString("id,object1,object2,tca,miss_distance,pc\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "CDM-%05d,SAT-%d,DEB-%d,2025-03-02 12:00:00,%d,1e-7\n", i, i%50, i%70, 100+i%900)
	}
	return b.String()
}

func TestIngest_TenThousandRows(t *testing.T) {
	store := newFakeStore()
	input := bulkCSV(10000)
	var progress progressLog

	res, err := newTestIngester(store, 1000, 0).Ingest(context.Background(), strings.NewReader(input), int64(len(input)), DefaultPolicy(), progress.record)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	batches := store.batchSizes()
	if len(batches) != 10 {
		t.Fatalf("flushes = %d, want 10", len(batches))
	}
	for i, n := range batches {
		if n != 1000 {
			t.Errorf("batch %d size = %d, want 1000", i+1, n)
		}
	}
	if res.Imported != 10000 || res.Batches != 10 {
		t.Errorf("Imported = %d, Batches = %d", res.Imported, res.Batches)
	}
	if res.MaxPending > 1000 {
		t.Errorf("MaxPending = %d, want <= 1000", res.MaxPending)
	}
	if store.len() != 10000 {
		t.Errorf("stored = %d, want 10000", store.len())
	}
	if res.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", res.BytesRead, len(input))
	}
	progress.check(t)
}

func TestIngest_PartialFinalBatch(t *testing.T) {
	store := newFakeStore()
	input := bulkCSV(25)

	res, err := newTestIngester(store, 10, 0).Ingest(context.Background(), strings.NewReader(input), 0, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := store.batchSizes(); len(got) != 3 || got[2] != 5 {
		t.Errorf("batches = %v, want [10 10 5]", got)
	}
	if res.MaxPending != 10 {
		t.Errorf("MaxPending = %d, want 10", res.MaxPending)
	}
}

func TestIngest_ChunkBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("id;object1;object2;tca;miss_distance;relative_speed;pc\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Ω-%d;Δ-SAT-%d;débris-€%d;2025-03-0%dT%02d:30:00Z;%d.25;%d;%de-6\n",
			i, i, i, 2+i%7, i%24, 100+i, 7000+i, 1+i%9)
	}
	input := b.String()

	reference := newFakeStore()
	if _, err := newTestIngester(reference, 1000, 0).Ingest(context.Background(), strings.NewReader(input), 0, DefaultPolicy(), nil); err != nil {
		t.Fatalf("reference Ingest() error = %v", err)
	}
	want, _ := reference.FetchAll(context.Background())

	for _, chunk := range []int{1, 2, 3, 5, 7, 64} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			store := newFakeStore()
			r := &chunkReader{data: []byte(input), size: 3}
			if _, err := newTestIngester(store, 7, chunk).Ingest(context.Background(), r, int64(len(input)), DefaultPolicy(), nil); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			got, _ := store.FetchAll(context.Background())
			if len(got) != len(want) {
				t.Fatalf("stored %d events, want %d", len(got), len(want))
			}
			for i := range want {
				if !reflect.DeepEqual(got[i], want[i]) {
					t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestIngest_Rejections(t *testing.T) {
	store := newFakeStore()
	input := "id,object1,object2,pc\nA1,S1,S2,1e-5\n\nbad\nA2,S3,S4,1e-5\nx,y\n"

	res, err := newTestIngester(store, 1000, 0).Ingest(context.Background(), strings.NewReader(input), 0, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Imported != 2 || res.RejectedRows != 2 {
		t.Fatalf("Imported = %d, Rejected = %d, want 2, 2", res.Imported, res.RejectedRows)
	}
	want := []RowRejection{
		{Line: 4, Reason: "expected at least 3 values, got 1"},
		{Line: 6, Reason: "expected at least 3 values, got 2"},
	}
	for i, w := range want {
		if res.Rejections[i] != w {
			t.Errorf("Rejections[%d] = %+v, want %+v", i, res.Rejections[i], w)
		}
	}
}

func TestIngest_RejectionReportCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,object1,object2\n")
	for i := 0; i < MaxRejections+20; i++ {
		b.WriteString("short\n")
	}
	res, err := newTestIngester(newFakeStore(), 1000, 0).Ingest(context.Background(), strings.NewReader(b.String()), 0, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.RejectedRows != MaxRejections+20 {
		t.Errorf("RejectedRows = %d, want %d", res.RejectedRows, MaxRejections+20)
	}
	if len(res.Rejections) != MaxRejections {
		t.Errorf("len(Rejections) = %d, want %d", len(res.Rejections), MaxRejections)
	}
}

func TestIngest_CRLFAndBOM(t *testing.T) {
	store := newFakeStore()
	input := "\ufeffID\tObject1\tObject2\tCollision_Probability\r\nR1\tA\tB\t0.5\r\nR2\tC\tD\t1e-8"

	res, err := newTestIngester(store, 1000, 0).Ingest(context.Background(), strings.NewReader(input), 0, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Imported != 2 {
		t.Fatalf("Imported = %d, want 2", res.Imported)
	}
	if res.Delimiter != "\t" || res.Headers[0] != "id" {
		t.Errorf("Delimiter = %q, Headers = %q", res.Delimiter, res.Headers)
	}
	r1, _, _ := store.Get(context.Background(), "R1")
	if r1.Object2 != "B" || r1.PcAnalytic != 0.5 {
		t.Errorf("R1 = %s, %g", r1.Object2, r1.PcAnalytic)
	}
	r2, ok, _ := store.Get(context.Background(), "R2")
	if !ok || r2.PcAnalytic != 1e-8 {
		t.Error("final line without newline was not imported")
	}
}

func TestIngest_Defaults(t *testing.T) {
	store := newFakeStore()
	input := "object1,object2,miss,probability,speed\n,,-3,1.5,abc\nS,T,NaN,0.01,7000\n"

	res, err := newTestIngester(store, 1000, 0).IngestAs(context.Background(), "job7", strings.NewReader(input), 0, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("IngestAs() error = %v", err)
	}
	if res.ImportID != "job7" {
		t.Errorf("ImportID = %q, want job7", res.ImportID)
	}

	first, ok, _ := store.Get(context.Background(), "IMP-job7-0")
	if !ok {
		t.Fatal("generated id IMP-job7-0 not found")
	}
	if first.Object1 != unknownObject1 || first.Object2 != unknownObject2 {
		t.Errorf("objects = %s, %s", first.Object1, first.Object2)
	}
	if first.MissDistance != DefaultMissDistance {
		t.Errorf("MissDistance = %g, want default", first.MissDistance)
	}
	if first.PcAnalytic != DefaultPc {
		t.Errorf("PcAnalytic = %g, want default", first.PcAnalytic)
	}
	if first.RelativeSpeed != DefaultRelativeSpeed {
		t.Errorf("RelativeSpeed = %g, want default", first.RelativeSpeed)
	}
	if !first.TCA.Equal(testNow) {
		t.Errorf("TCA = %v, want now", first.TCA)
	}

	second, ok, _ := store.Get(context.Background(), "IMP-job7-1")
	if !ok {
		t.Fatal("generated id IMP-job7-1 not found")
	}
	if second.PcAnalytic != 0.01 || second.RelativeSpeed != 7000 || second.MissDistance != DefaultMissDistance {
		t.Errorf("second = pc %g, speed %g, miss %g", second.PcAnalytic, second.RelativeSpeed, second.MissDistance)
	}
}

func TestNormalizeTCA(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01 10:00:00", want},
		{"2024-01-01T10:00:00Z", want},
		{"2024-01-01T12:00:00+02:00", want},
		{"2024-01-01T10:00:00.000", want},
		{"2024/01/01 10:00", want},
		{"2024-001T10:00:00", want},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage", testNow},
		{"", testNow},
	}
	for _, tt := range tests {
		if got := normalizeTCA(tt.in, testNow); !got.Equal(tt.want) {
			t.Errorf("normalizeTCA(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIngest_EmptyInput(t *testing.T) {
	for name, input := range map[string]string{"empty": "", "blank lines": "\n\n\r\n", "header only": "id,pc"} {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			var progress progressLog
			res, err := newTestIngester(store, 1000, 0).Ingest(context.Background(), strings.NewReader(input), 0, DefaultPolicy(), progress.record)
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if res.Imported != 0 || res.Batches != 0 || len(store.batchSizes()) != 0 {
				t.Errorf("Imported = %d, Batches = %d, want nothing written", res.Imported, res.Batches)
			}
			progress.check(t)
		})
	}
}

func TestIngest_StoreFailureKeepsFlushedBatches(t *testing.T) {
	boom := errors.New("disk full")
	store := newFakeStore()
	store.failAt, store.failErr = 2, boom
	var progress progressLog

	_, err := newTestIngester(store, 2, 0).Ingest(context.Background(), strings.NewReader(bulkCSV(5)), 0, DefaultPolicy(), progress.record)
	if !errors.Is(err, boom) {
		t.Fatalf("Ingest() error = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "write batch 2") {
		t.Errorf("error = %v, want write batch 2", err)
	}
	if store.len() != 2 {
		t.Errorf("stored = %d, want first batch of 2 kept", store.len())
	}
	for _, v := range progress.values {
		if v == 100 {
			t.Error("100% reported after a failed ingestion")
		}
	}
}

func TestIngest_AbortLogsImportID(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := newFakeStore()
	store.failAt, store.failErr = 1, errors.New("disk full")

	_, err := newTestIngester(store, 2, 0).IngestAs(context.Background(), "job42", strings.NewReader(bulkCSV(3)), 0, DefaultPolicy(), nil)
	if err == nil {
		t.Fatal("IngestAs() error = nil, want store failure")
	}
	out := logs.String()
	for _, want := range []string{"ingest aborted", "import_id=job42", "disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestIngest_ReadFailure(t *testing.T) {
	boom := errors.New("connection dropped")
	store := newFakeStore()
	r := &chunkReader{data: []byte("id,object1,object2\nA,B,C\nD,E,F\nG,H"), size: 8, err: boom}

	_, err := newTestIngester(store, 1, 16).Ingest(context.Background(), r, 0, DefaultPolicy(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Ingest() error = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "read input") {
		t.Errorf("error = %v, want read input prefix", err)
	}
	if store.len() != 2 {
		t.Errorf("stored = %d, want the 2 complete rows", store.len())
	}
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newFakeStore()

	_, err := newTestIngester(store, 10, 0).Ingest(ctx, strings.NewReader(bulkCSV(100)), 0, DefaultPolicy(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest() error = %v, want context.Canceled", err)
	}
	if store.len() != 0 {
		t.Errorf("stored = %d, want 0", store.len())
	}
}

func TestIngest_Compressed(t *testing.T) {
	input := []byte(bulkCSV(300))
	for _, kind := range []Compression{CompressionGzip, CompressionZstd, CompressionLZ4} {
		t.Run(string(kind), func(t *testing.T) {
			raw := compress(t, kind, input)
			store := newFakeStore()
			var progress progressLog

			res, err := newTestIngester(store, 100, 0).Ingest(context.Background(), bytes.NewReader(raw), int64(len(raw)), DefaultPolicy(), progress.record)
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if res.Imported != 300 || store.len() != 300 {
				t.Errorf("Imported = %d, stored = %d, want 300", res.Imported, store.len())
			}
			if res.BytesRead != int64(len(raw)) {
				t.Errorf("BytesRead = %d, want compressed size %d", res.BytesRead, len(raw))
			}
			progress.check(t)
		})
	}
}
