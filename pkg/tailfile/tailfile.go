// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package tailfile reads appended bytes off one tracked file and frames
// them into line or multiline Records, pulled on demand via
// ReadEvents(n, backoffWithoutNL, addByteOffset) rather than pushed
// through a channel, so a Registry can drive many files from its own
// poll loop without a goroutine per file.
package tailfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/DataDog/tail-file-source/pkg/config"
	"github.com/DataDog/tail-file-source/pkg/identity"
)

// Options configures a TailFile at construction; everything here is fixed
// for the file's lifetime and comes from its FileGroup/global config.
type Options struct {
	BufferSize       int
	FileHeader       bool
	FileHeaderKey    string
	GroupHeaders     map[string]string
	Multiline        config.Multiline
}

// TailFile tracks one open (or lazily reopenable) file: its committed
// offset, its tentative read cursor, and the line/multiline framer
// state carried between reads.
type TailFile struct {
	id      identity.ID
	path    string
	opts    Options
	multi   *multilineAccumulator

	file *os.File

	// pos is the last offset confirmed committed by the downstream
	// Channel; it is what gets persisted to the position store.
	pos int64

	// readOffset is how many bytes have been pulled off disk so far; it
	// leads pos and lineReadPos whenever carry holds unscanned bytes.
	readOffset int64

	// lineReadPos is the offset up to which complete lines have been
	// framed, whether or not their Record has been committed yet. It
	// satisfies pos <= lineReadPos <= readOffset at all times.
	lineReadPos int64

	carry []byte

	lastRead time.Time
}

// New opens path at pos and returns a TailFile ready to read from there.
// pos is a previously committed offset, 0 for a new file, or the file's
// size when a new file is to be read from its end.
func New(id identity.ID, path string, pos int64, opts Options) (*TailFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tailfile: open %s: %w", path, err)
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("tailfile: seek %s to %d: %w", path, pos, err)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = config.DefaultBufferSize
	}

	var multi *multilineAccumulator
	if opts.Multiline.Enabled {
		multi = newMultilineAccumulator(opts.Multiline)
	}

	return &TailFile{
		id:          id,
		path:        path,
		opts:        opts,
		multi:       multi,
		file:        f,
		pos:         pos,
		readOffset:  pos,
		lineReadPos: pos,
		lastRead:    time.Now(),
	}, nil
}

// Identity returns the FileIdentity this TailFile was opened against.
func (t *TailFile) Identity() identity.ID { return t.id }

// Path returns the current path used to open the file.
func (t *TailFile) Path() string { return t.path }

// SetPath updates the path used on Reopen, for a file the Matcher observed
// renamed in place without its FileIdentity changing.
func (t *TailFile) SetPath(path string) { t.path = path }

// Pos returns the last offset confirmed committed.
func (t *TailFile) Pos() int64 { return t.pos }

// LineReadPos returns the tentative read cursor: the offset up to which
// bytes have been framed into Records, whether or not committed yet.
func (t *TailFile) LineReadPos() int64 { return t.lineReadPos }

// LastRead returns when this file last produced a Record or was polled
// into producing one, for the Registry's idle-timeout and LRU eviction.
func (t *TailFile) LastRead() time.Time { return t.lastRead }

// IsOpen reports whether the underlying file handle is held open.
func (t *TailFile) IsOpen() bool { return t.file != nil }

// Close releases the file handle but retains all offsets, for the
// Registry's open-file-budget eviction.
func (t *TailFile) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Reopen re-acquires a file handle at the path last recorded for this
// FileIdentity and resumes disk reads from readOffset, picking up exactly
// where Close left off without losing or duplicating buffered bytes.
func (t *TailFile) Reopen() error {
	if t.file != nil {
		return nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("tailfile: reopen %s: %w", t.path, err)
	}
	if _, err := f.Seek(t.readOffset, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("tailfile: reopen seek %s to %d: %w", t.path, t.readOffset, err)
	}
	t.file = f
	return nil
}

// Commit records pos as confirmed durable. It never rewinds anything:
// reading continues forward from wherever lineReadPos already is.
func (t *TailFile) Commit(pos int64) {
	if pos > t.pos {
		t.pos = pos
	}
}

// Rollback rewinds the read cursor back to the last committed offset and
// discards buffered, not-yet-committed framing state, so the same bytes
// are re-read and re-framed on the next cycle. Used when a Channel
// transaction fails to commit.
func (t *TailFile) Rollback() error {
	return t.seekTo(t.pos)
}

// ResetToStart rewinds to offset 0 and clears pos, used when the
// Registry detects the file has been truncated out from under it.
func (t *TailFile) ResetToStart() error {
	if err := t.seekTo(0); err != nil {
		return err
	}
	t.pos = 0
	return nil
}

func (t *TailFile) seekTo(pos int64) error {
	if t.file == nil {
		t.readOffset = pos
		t.lineReadPos = pos
		t.carry = nil
		if t.multi != nil {
			t.multi.Reset()
		}
		return nil
	}
	if _, err := t.file.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("tailfile: seek %s to %d: %w", t.path, pos, err)
	}
	t.readOffset = pos
	t.lineReadPos = pos
	t.carry = nil
	if t.multi != nil {
		t.multi.Reset()
	}
	return nil
}

// ReadEvents pulls up to n Records off the file.
//
// backoffWithoutNL, when true, withholds a trailing unterminated line
// rather than emitting it as a partial record. addByteOffset, when
// true, adds a byteoffset header to every emitted non-multiline
// Record, set to the offset of its first byte.
func (t *TailFile) ReadEvents(n int, backoffWithoutNL, addByteOffset bool) ([]Record, error) {
	if t.file == nil {
		if err := t.Reopen(); err != nil {
			return nil, err
		}
	}

	var records []Record
	now := time.Now()
	if t.multi != nil {
		if ev := t.multi.CheckStale(now); ev != nil {
			records = append(records, t.multilineRecord(ev))
		}
	}

	for len(records) < n {
		line, terminated, start, ok, err := t.nextLine(backoffWithoutNL)
		if err != nil {
			return records, err
		}
		if !ok {
			break
		}
		t.lastRead = time.Now()

		if t.multi != nil {
			if ev := t.multi.Consume(line, terminated, t.lastRead); ev != nil {
				records = append(records, t.multilineRecord(ev))
			}
			continue
		}
		records = append(records, t.lineRecord(line, start, addByteOffset))
	}
	return records, nil
}

// nextLine returns the next framed line, refilling from disk as needed.
// ok is false when no more data is available right now: either the file
// is caught up to EOF with nothing pending, or a partial trailing line is
// being withheld per backoffWithoutNL.
func (t *TailFile) nextLine(backoffWithoutNL bool) (line []byte, terminated bool, start int64, ok bool, err error) {
	for {
		if idx := bytes.IndexByte(t.carry, '\n'); idx >= 0 {
			start = t.lineReadPos
			raw := t.carry[:idx]
			rest := make([]byte, len(t.carry)-idx-1)
			copy(rest, t.carry[idx+1:])
			t.carry = rest
			t.lineReadPos += int64(idx + 1)
			return stripCR(raw), true, start, true, nil
		}

		n, rerr := t.fill()
		if rerr != nil {
			return nil, false, 0, false, rerr
		}
		if n > 0 {
			continue // rescan carry now that it has grown
		}

		// EOF: nothing more to read from disk right now.
		if len(t.carry) == 0 {
			return nil, false, 0, false, nil
		}
		if backoffWithoutNL {
			return nil, false, 0, false, nil
		}
		start = t.lineReadPos
		raw := t.carry
		t.carry = nil
		t.lineReadPos += int64(len(raw))
		return stripCR(raw), false, start, true, nil
	}
}

func (t *TailFile) fill() (int, error) {
	buf := make([]byte, t.opts.BufferSize)
	n, err := t.file.Read(buf)
	if n > 0 {
		t.carry = append(t.carry, buf[:n]...)
		t.readOffset += int64(n)
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("tailfile: read %s: %w", t.path, err)
	}
	return n, nil
}

func stripCR(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

func (t *TailFile) baseHeaders() map[string]string {
	h := make(map[string]string, len(t.opts.GroupHeaders)+2)
	for k, v := range t.opts.GroupHeaders {
		h[k] = v
	}
	if t.opts.FileHeader {
		key := t.opts.FileHeaderKey
		if key == "" {
			key = config.DefaultFileHeaderKey
		}
		h[key] = t.path
	}
	return h
}

func (t *TailFile) lineRecord(line []byte, start int64, addByteOffset bool) Record {
	h := t.baseHeaders()
	if addByteOffset {
		h[config.ByteOffsetHeaderKey] = strconv.FormatInt(start, 10)
	}
	content := make([]byte, len(line))
	copy(content, line)
	return Record{Content: content, Headers: h}
}

func (t *TailFile) multilineRecord(ev *pendingEvent) Record {
	h := t.baseHeaders()
	h[config.MultilineHeaderKey] = "true"
	h[config.MultilineTimestampHeaderKey] = ev.startedAt.Format(time.RFC3339Nano)
	return Record{Content: ev.body, Headers: h}
}
