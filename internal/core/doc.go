// Package core provides the business logic for conjunction event triage.
//
// This package contains all domain logic independent of any transport or
// storage engine. It is used by the HTTP server, the cdmctl CLI, and tests
// without modification.
//
// # Architecture
//
//   - Classification: [ClassifyAt] evaluates the three diagnostic gates and
//     assigns a [Lane] under a [PolicyConfig]. [ReclassifyAllAt] is the
//     batch re-triage pass required whenever the policy changes.
//   - Ingestion: [Ingester] streams delimited CDM text of any size into an
//     [EventStore] in batches of [DefaultBatchSize].
//   - Refinement: [Estimator] runs a Monte Carlo estimate with a 95%
//     confidence interval.
//   - Service: the entry point that ties these together with limiters,
//     progress subscriptions, and the re-triage scheduler.
//
// # Streaming Import
//
// Imports use O(chunk + batch) memory regardless of file size:
//
//  1. The caller passes an io.Reader to [Service.StartImport]
//  2. The reader is wrapped by [WrapForIngest]: digest, byte counting,
//     transparent gzip/zstd/lz4 decompression, BOM skipping, UTF-8 repair
//  3. Lines are reassembled across chunks, parsed, and classified
//  4. Each full batch is written with one [EventStore.BulkUpsert]
//  5. Progress is broadcast to subscribers via [Service.SubscribeProgress];
//     100% is sent only after the last batch is written
//
// [Service.PreviewImport] runs the same pipeline into a recording store and
// reports new, updated, duplicate, and rejected rows without writing.
//
// # Randomness
//
// All randomness flows from an injected [Source]. Tests construct one with a
// fixed seed and get reproducible generator and estimator output.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]:
//
//   - DB001-DB007: store errors
//   - IMP001-IMP006: import errors
//   - SIM001-SIM003: simulation errors
//   - POL001: policy validation
//
// Malformed rows, bad numbers, and bad timestamps are not errors. They are
// skipped or defaulted, and skipped rows appear in [IngestResult.Rejections].
package core
