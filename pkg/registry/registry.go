// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package registry maintains the FileIdentity -> TailFile map: opening
// newly matched files, following rotations and renames in place,
// detecting truncation, evicting least-recently-read handles past the
// open-file budget, and removing files that have dropped out of every
// FileGroup's match set.
package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DataDog/tail-file-source/pkg/identity"
	"github.com/DataDog/tail-file-source/pkg/matcher"
	"github.com/DataDog/tail-file-source/pkg/positionstore"
	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

// Options configures the Registry's resource limits. Per-file framing
// options (buffer size, headers, multiline) are supplied through
// newTailFile at construction, since they vary by FileGroup.
type Options struct {
	SkipToEnd      bool
	OpenFilesLimit int
	IdleTimeout    time.Duration
}

type entry struct {
	id    identity.ID
	tail  *tailfile.TailFile
	group string

	lastUpdated time.Time
	missingAt   time.Time
}

// Registry is the authoritative in-memory FileIdentity -> TailFile map.
// It is driven by an external poller and holds no goroutines of its
// own. Entries are keyed by FileIdentity rather than by path, so a
// rotation or a rename in place never loses offset continuity.
type Registry struct {
	mu        sync.Mutex
	entries   map[identity.ID]*entry
	positions *positionstore.Store
	opts      Options
	log       *zap.SugaredLogger

	newTailFile func(id identity.ID, path string, pos int64, group string, headers map[string]string) (*tailfile.TailFile, error)
}

// New returns an empty Registry. newTailFile constructs a TailFile for a
// newly discovered identity; pkg/source supplies one that bakes in the
// FileGroup's headers and the configured multiline settings.
func New(positions *positionstore.Store, opts Options, log *zap.SugaredLogger,
	newTailFile func(id identity.ID, path string, pos int64, group string, headers map[string]string) (*tailfile.TailFile, error)) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		entries:     make(map[identity.ID]*entry),
		positions:   positions,
		opts:        opts,
		log:         log,
		newTailFile: newTailFile,
	}
}

// Reconcile updates the registry against the Matcher's latest output:
// union the matched paths, resolve identities, fold renames and
// truncations into existing entries, open new files, and age out
// entries that have dropped out of the match set.
func (r *Registry) Reconcile(matches []matcher.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	seen := make(map[identity.ID]bool, len(matches))

	for _, m := range matches {
		info, err := os.Stat(m.Path)
		if err != nil {
			r.log.Warnw("registry: could not stat matched file, skipping this cycle", "path", m.Path, "error", err)
			continue
		}
		id, err := identity.OfPath(m.Path)
		if err != nil {
			r.log.Warnw("registry: could not resolve identity, skipping this cycle", "path", m.Path, "error", err)
			continue
		}
		seen[id] = true

		if e, ok := r.entries[id]; ok {
			if e.tail.Path() != m.Path {
				e.tail.SetPath(m.Path) // rename in place: offset untouched
			}
			if info.Size() < e.tail.Pos() {
				if err := e.tail.ResetToStart(); err != nil {
					r.log.Warnw("registry: truncation reset failed", "path", m.Path, "error", err)
				} else {
					r.log.Infow("registry: truncation detected, resuming from start", "path", m.Path)
				}
			}
			if info.ModTime().After(e.lastUpdated) {
				e.lastUpdated = info.ModTime()
			}
			e.missingAt = time.Time{}
			continue
		}

		pos := int64(0)
		if saved, ok := r.positions.Get(id); ok {
			pos = saved
		} else if r.opts.SkipToEnd {
			pos = info.Size()
		}

		tf, err := r.newTailFile(id, m.Path, pos, m.Group, m.Headers)
		if err != nil {
			r.log.Warnw("registry: could not open matched file, skipping this cycle", "path", m.Path, "error", err)
			continue
		}
		r.entries[id] = &entry{id: id, tail: tf, group: m.Group, lastUpdated: info.ModTime()}
	}

	for id, e := range r.entries {
		if seen[id] {
			continue
		}
		if e.missingAt.IsZero() {
			e.missingAt = now
			continue
		}
		if now.Sub(e.missingAt) >= r.opts.IdleTimeout {
			e.tail.Close()
			delete(r.entries, id)
			r.positions.Forget(id)
		}
	}
}

// CloseIdle releases handles for files that have not produced a record
// in longer than idleTimeout, retaining their offsets. It does not
// remove entries from the registry; Reconcile does that once a file
// also drops out of its FileGroup's match set.
func (r *Registry) CloseIdle(idleTimeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range r.entries {
		if e.tail.IsOpen() && now.Sub(e.tail.LastRead()) > idleTimeout {
			e.tail.Close()
		}
	}
}

// EnforceOpenFileBudget closes the least-recently-read open handles
// until at most limit remain open.
func (r *Registry) EnforceOpenFileBudget(limit int) {
	if limit <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []*entry
	for _, e := range r.entries {
		if e.tail.IsOpen() {
			open = append(open, e)
		}
	}
	if len(open) <= limit {
		return
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].tail.LastRead().Before(open[j].tail.LastRead())
	})
	for _, e := range open[:len(open)-limit] {
		e.tail.Close()
	}
}

// orderedEntries returns every tracked entry sorted by lastUpdated
// ascending, ties broken by FileIdentity string, for a deterministic
// cross-file consumption order.
func (r *Registry) orderedEntries() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].lastUpdated.Equal(out[j].lastUpdated) {
			return out[i].lastUpdated.Before(out[j].lastUpdated)
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Len reports how many FileIdentities are currently tracked, for tests
// and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close releases every open handle, e.g. on host shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.tail.Close()
	}
}
