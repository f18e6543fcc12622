// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package tailfile

import (
	"bytes"
	"time"

	"github.com/DataDog/tail-file-source/pkg/config"
)

// pendingEvent is a completed multiline aggregate handed back to the caller
// once the accumulator decides it is done.
type pendingEvent struct {
	body      []byte
	startedAt time.Time
}

// multilineAccumulator implements the previous/next aggregation modes.
// In both modes a matching line is appended to the pending event. With
// belongs-to-previous, a non-matching line closes the pending event and
// starts a new one; with belongs-to-next, a non-matching line is
// appended and then closes the event.
type multilineAccumulator struct {
	cfg       config.Multiline
	body      bytes.Buffer
	lines     int
	startedAt time.Time
	open      bool
}

func newMultilineAccumulator(cfg config.Multiline) *multilineAccumulator {
	return &multilineAccumulator{cfg: cfg}
}

// matches reports whether line belongs to the running event, applying
// the matched flag as an XOR over the raw pattern match.
func (a *multilineAccumulator) matches(line []byte) bool {
	return a.cfg.Pattern.Match(line) != a.cfg.Matched
}

func (a *multilineAccumulator) start(now time.Time) {
	a.open = true
	a.startedAt = now
	a.body.Reset()
	a.lines = 0
}

func (a *multilineAccumulator) append(line []byte, terminated bool) {
	if a.body.Len() > 0 {
		a.body.WriteByte('\n')
	}
	a.body.Write(line)
	if terminated {
		a.lines++
	}
}

func (a *multilineAccumulator) flush() *pendingEvent {
	if !a.open || a.body.Len() == 0 {
		a.open = false
		return nil
	}
	body := make([]byte, a.body.Len())
	copy(body, a.body.Bytes())
	ev := &pendingEvent{body: body, startedAt: a.startedAt}
	a.open = false
	a.body.Reset()
	a.lines = 0
	return ev
}

// Reset discards any pending aggregate without emitting it, used when the
// caller rewinds (rollback or truncation) and will re-read the same bytes.
func (a *multilineAccumulator) Reset() {
	a.open = false
	a.body.Reset()
	a.lines = 0
}

func (a *multilineAccumulator) forceFlushIfOverCap() *pendingEvent {
	if a.cfg.MaxBytes > 0 && a.body.Len() >= a.cfg.MaxBytes {
		return a.flush()
	}
	if a.cfg.MaxLines > 0 && a.lines >= a.cfg.MaxLines {
		return a.flush()
	}
	return nil
}

// CheckStale force-emits a pending event that has sat idle past the
// configured timeout. Call it at the start of every read cycle, since the
// timeout is measured wall-clock, not by bytes read.
func (a *multilineAccumulator) CheckStale(now time.Time) *pendingEvent {
	if !a.open || a.cfg.TimeoutSecs <= 0 {
		return nil
	}
	if now.Sub(a.startedAt) > a.cfg.Timeout() {
		return a.flush()
	}
	return nil
}

// Consume feeds one framed line into the accumulator and returns a
// completed event if the line closed one.
func (a *multilineAccumulator) Consume(line []byte, terminated bool, now time.Time) *pendingEvent {
	switch a.cfg.Belong {
	case config.BelongNext:
		if !a.open {
			a.start(now)
		}
		a.append(line, terminated)
		if a.matches(line) {
			return a.forceFlushIfOverCap()
		}
		return a.flush()
	default: // config.BelongPrevious
		if !a.open {
			a.start(now)
			a.append(line, terminated)
			return a.forceFlushIfOverCap()
		}
		if a.matches(line) {
			a.append(line, terminated)
			return a.forceFlushIfOverCap()
		}
		flushed := a.flush()
		a.start(now)
		a.append(line, terminated)
		return flushed
	}
}
