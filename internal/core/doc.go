// Package core provides the business logic for supplier feed ingestion and
// cross-supplier deduplication.
//
// This package holds the orchestration independent of any transport. The
// pure building blocks live in their own packages (feed, normalize,
// mapping, uid, dedup); core wires them to a [Store] and tracks runs.
//
// # Ingestion
//
// [Service.StartIngestion] starts one run per call:
//
//  1. A run slot is taken from the [RunLimiter] and a running [model.Run]
//     is stored.
//  2. The feed is parsed as a [feed.Stream]; every record is normalized and
//     mapped onto the workspace's Custom Fields.
//  3. Mapped rows collect in a batch. When the batch is full the stream is
//     paused, the batch is upserted and the stream resumes.
//  4. Item problems become Feed Errors; stream and storage problems fail
//     the run. Either way the run is finalized exactly once.
//
// # Deduplication
//
// [Service.RunDeduplication] resolves all active mapped products of a
// workspace with the first active rule and replaces the Final Product set.
// It must not run concurrently with itself for the same workspace; callers
// serialize it (the HTTP layer uses internal/lock).
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Codes are grouped as FEED, DB, RUN, VAL, DEDUP and RATE.
package core
