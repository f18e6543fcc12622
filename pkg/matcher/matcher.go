// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package matcher resolves each FileGroup's glob pattern to the set of
// currently matching regular files, caching directory listings keyed by
// the directory's own mtime so that repeated polling of an unchanged
// tree does not re-read it.
package matcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/DataDog/tail-file-source/pkg/config"
	"github.com/DataDog/tail-file-source/pkg/globutil"
)

// Match is one file resolved out of a FileGroup's pattern, tagged with the
// group it came from so the Registry can attach the right headers.
type Match struct {
	Path    string
	Group   string
	Headers map[string]string
}

type dirListing struct {
	modTime time.Time
	entries []os.DirEntry
}

// Matcher holds the directory-mtime cache shared across every group's
// glob resolution.
type Matcher struct {
	mu    sync.Mutex
	cache map[string]*dirListing
	log   *zap.SugaredLogger
}

// New returns an empty Matcher.
func New(log *zap.SugaredLogger) *Matcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Matcher{cache: make(map[string]*dirListing), log: log}
}

// Scan resolves every group's pattern and returns the union of matches,
// each tagged with its group's name and headers, in deterministic order:
// sorted by path within a group, groups visited in the order given.
func (m *Matcher) Scan(groups []config.FileGroup) ([]Match, error) {
	var out []Match
	for _, g := range groups {
		paths, err := m.Resolve(g.Pattern)
		if err != nil {
			return nil, fmt.Errorf("matcher: group %s: %w", g.Name, err)
		}
		for _, p := range paths {
			out = append(out, Match{Path: p, Group: g.Name, Headers: g.Headers})
		}
	}
	return out, nil
}

// Resolve returns every absolute path of a regular file matching
// pattern, sorted ascending for a deterministic result. Brace
// alternation ({alt1,alt2}) is expanded into its constituent concrete
// patterns before matching, since doublestar has no native concept of
// it (see pkg/globutil).
func (m *Matcher) Resolve(pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("pattern %q must be absolute", pattern)
	}
	slashPattern := filepath.ToSlash(pattern)

	seen := make(map[string]bool)
	var matches []string
	for _, expanded := range globutil.ExpandBraces(slashPattern) {
		if _, err := doublestar.Match(expanded, ""); err != nil {
			return nil, fmt.Errorf("malformed glob %q: %w", pattern, err)
		}
		root := fixedPrefix(expanded)
		var sub []string
		m.walk(root, expanded, &sub)
		for _, p := range sub {
			if !seen[p] {
				seen[p] = true
				matches = append(matches, p)
			}
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// fixedPrefix returns the longest directory prefix of pattern containing
// no wildcard metacharacter, the starting point for the directory walk.
func fixedPrefix(slashPattern string) string {
	segments := strings.Split(slashPattern, "/")
	var fixed []string
	for _, seg := range segments[:len(segments)-1] {
		if seg == "**" || strings.ContainsAny(seg, "*?[{") {
			break
		}
		fixed = append(fixed, seg)
	}
	if len(fixed) <= 1 {
		return "/"
	}
	return strings.Join(fixed, "/")
}

// walk descends dir, matching every regular file it finds against
// pattern. Unreadable directories are logged and skipped, not treated
// as a fatal error.
func (m *Matcher) walk(dir, pattern string, matches *[]string) {
	entries, err := m.listDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warnw("matcher: could not read directory, skipping", "dir", dir, "error", err)
		}
		return
	}

	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		slashFull := filepath.ToSlash(full)
		typ := e.Type()

		if typ&os.ModeSymlink != 0 {
			info, statErr := os.Stat(full)
			if statErr != nil {
				continue // broken symlink
			}
			if info.IsDir() {
				continue // never traverse a symlinked directory: avoids cycles
			}
			if info.Mode().IsRegular() {
				if ok, _ := doublestar.Match(pattern, slashFull); ok {
					*matches = append(*matches, full)
				}
			}
			continue
		}

		if typ.IsDir() {
			m.walk(full, pattern, matches)
			continue
		}

		if typ.IsRegular() {
			if ok, _ := doublestar.Match(pattern, slashFull); ok {
				*matches = append(*matches, full)
			}
		}
	}
}

// listDir returns dir's entries, reusing the cached listing when the
// directory's mtime has not advanced since the last scan. Every refresh
// still stats the directory, so a newly created file is always caught
// as soon as its parent's mtime changes; skipping that stat on a cache
// hit can silently miss new files.
func (m *Matcher) listDir(dir string) ([]os.DirEntry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime()

	m.mu.Lock()
	cached, ok := m.cache[dir]
	if ok && cached.modTime.Equal(mtime) {
		entries := cached.entries
		m.mu.Unlock()
		return entries, nil
	}
	m.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[dir] = &dirListing{modTime: mtime, entries: entries}
	m.mu.Unlock()
	return entries, nil
}
