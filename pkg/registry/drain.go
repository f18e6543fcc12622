// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package registry

import (
	"github.com/DataDog/tail-file-source/pkg/identity"
	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

// pendingOffset records, for one file drained in a Batch, the
// lineReadPos reached so Commit/Rollback know what to promote or
// discard once the caller's Channel transaction resolves.
type pendingOffset struct {
	id          identity.ID
	path        string
	lineReadPos int64
}

// Batch is one process() cycle's worth of records across every tracked
// file, plus the bookkeeping needed to commit or roll back the offsets
// they came from as a single unit.
type Batch struct {
	Records []tailfile.Record
	pending []pendingOffset
}

// Drain reads up to batchSize records total across every tracked file,
// visiting files in ascending lastUpdated order (ties by FileIdentity):
// a file's own records stay in byte-offset order, and an
// earlier-updated file's records all precede a later-updated file's.
func (r *Registry) Drain(batchSize int, backoffWithoutNL, addByteOffset bool) *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := &Batch{}
	for _, e := range r.orderedEntries() {
		remaining := batchSize - len(batch.Records)
		if remaining <= 0 {
			break
		}
		records, err := e.tail.ReadEvents(remaining, backoffWithoutNL, addByteOffset)
		if err != nil {
			r.log.Warnw("registry: read failed, skipping file for this cycle", "path", e.tail.Path(), "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		batch.Records = append(batch.Records, records...)
		batch.pending = append(batch.pending, pendingOffset{
			id:          e.id,
			path:        e.tail.Path(),
			lineReadPos: e.tail.LineReadPos(),
		})
	}
	return batch
}

// Commit promotes every drained file's pos to the lineReadPos reached
// during Drain and records it in the position store. Call this only
// after the downstream Channel transaction has committed.
func (r *Registry) Commit(batch *Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range batch.pending {
		if e, ok := r.entries[p.id]; ok {
			e.tail.Commit(p.lineReadPos)
		}
		r.positions.Set(p.id, p.lineReadPos, p.path)
	}
}

// Rollback rewinds every drained file's read cursor back to its last
// committed offset, discarding framing state, so the same bytes are
// re-read next cycle. Call this when the downstream Channel transaction
// fails to commit.
func (r *Registry) Rollback(batch *Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range batch.pending {
		if e, ok := r.entries[p.id]; ok {
			if err := e.tail.Rollback(); err != nil {
				r.log.Warnw("registry: rollback failed", "path", p.path, "error", err)
			}
		}
	}
}
