// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package positionstore persists the {FileIdentity -> byte offset} map
// to a JSON document on disk, as a {inode, pos, file} array, so a
// restarted source can resume from where it left off.
package positionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/DataDog/tail-file-source/pkg/identity"
)

// Entry is one {inode, pos, file} triple as it appears on disk.
type Entry struct {
	Inode uint64 `json:"inode"`
	Pos   int64  `json:"pos"`
	File  string `json:"file"`
}

// Store is the durable FileIdentity -> pos map. A single coarse mutex
// guards the in-memory copy.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.SugaredLogger

	// Keyed by inode only: the on-disk format has no room for a
	// device/volume component, so recovery can only match on it.
	positions map[uint64]*record
}

type record struct {
	pos  int64
	path string
}

// New returns a Store backed by the JSON document at path. It does not
// read the file; call Load for that.
func New(path string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		path:      path,
		log:       log,
		positions: make(map[uint64]*record),
	}
}

// Load reads the position snapshot from disk into memory. A missing file
// leaves the map empty; an unreadable or corrupt file is logged and
// likewise treated as an empty map. Neither is a fatal error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.log.Warnw("positionstore: could not read position file, starting empty", "path", s.path, "error", err)
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warnw("positionstore: position file is corrupt, starting empty", "path", s.path, "error", err)
		return nil
	}

	s.positions = make(map[uint64]*record, len(entries))
	for _, e := range entries {
		s.positions[e.Inode] = &record{pos: e.Pos, path: e.File}
	}
	return nil
}

// Get returns the last committed offset for id, and whether an entry exists.
func (s *Store) Get(id identity.ID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.positions[id.Inode]
	if !ok {
		return 0, false
	}
	return r.pos, true
}

// Set records the committed offset for id at path. It does not write to
// disk; call Write (or let the background writer / post-commit hook do it).
func (s *Store) Set(id identity.ID, pos int64, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.positions[id.Inode]
	if !ok {
		r = &record{}
		s.positions[id.Inode] = r
	}
	r.pos = pos
	r.path = path
}

// Forget drops id from the store, e.g. once the Registry has evicted the
// file past its idle timeout and no longer needs its offset tracked.
func (s *Store) Forget(id identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id.Inode)
}

// snapshot returns a deterministically sorted copy of the in-memory map.
func (s *Store) snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.positions))
	for inode, r := range s.positions {
		entries = append(entries, Entry{Inode: inode, Pos: r.pos, File: r.path})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Inode != entries[j].Inode {
			return entries[i].Inode < entries[j].Inode
		}
		return entries[i].File < entries[j].File
	})
	return entries
}

// Write rewrites the snapshot file atomically: write to a sibling temp
// file, flush, then rename. If the write fails, it is logged and the
// in-memory state remains authoritative; a later successful Write
// restores durability.
func (s *Store) Write() error {
	entries := s.snapshot()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("positionstore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".position-*.tmp")
	if err != nil {
		s.log.Warnw("positionstore: could not create temp file", "dir", dir, "error", err)
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.log.Warnw("positionstore: could not write temp file", "path", tmpPath, "error", err)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.log.Warnw("positionstore: could not flush temp file", "path", tmpPath, "error", err)
		return err
	}
	if err := tmp.Close(); err != nil {
		s.log.Warnw("positionstore: could not close temp file", "path", tmpPath, "error", err)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.log.Warnw("positionstore: could not rename into place", "path", s.path, "error", err)
		return err
	}
	return nil
}
