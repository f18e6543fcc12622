// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package source assembles the Matcher, Registry, Position Store, and a
// downstream Channel into the host-facing lifecycle:
// configure(context) -> start() -> process()* -> stop().
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DataDog/tail-file-source/pkg/channel"
	"github.com/DataDog/tail-file-source/pkg/config"
	"github.com/DataDog/tail-file-source/pkg/identity"
	"github.com/DataDog/tail-file-source/pkg/matcher"
	"github.com/DataDog/tail-file-source/pkg/positionstore"
	"github.com/DataDog/tail-file-source/pkg/registry"
	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

// Status is process()'s return value.
type Status int

const (
	// BACKOFF means process produced no records this cycle; the host
	// should retry after an exponential delay.
	BACKOFF Status = iota
	// READY means process produced and committed at least one record.
	READY
)

func (s Status) String() string {
	if s == READY {
		return "READY"
	}
	return "BACKOFF"
}

// Source is the assembled tailing engine. It holds no goroutines other
// than the optional background position writer; process() itself runs
// synchronously on the host's poller.
type Source struct {
	channel channel.Channel
	log     *zap.SugaredLogger

	opts      *config.Options
	positions *positionstore.Store
	matcher   *matcher.Matcher
	registry  *registry.Registry

	stopWriter chan struct{}
	wg         sync.WaitGroup
}

// New returns a Source that will deliver records to ch. Configure must
// be called before Start.
func New(ch channel.Channel, log *zap.SugaredLogger) *Source {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Source{channel: ch, log: log}
}

// Configure loads and validates configuration off v. A configuration
// error here must prevent Start.
func (s *Source) Configure(ctx context.Context, v *viper.Viper) error {
	opts, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("source: configure: %w", err)
	}
	s.opts = opts
	s.positions = positionstore.New(opts.PositionFile, s.log)
	s.matcher = matcher.New(s.log)
	s.registry = registry.New(s.positions, registry.Options{
		SkipToEnd:      opts.SkipToEnd,
		OpenFilesLimit: opts.OpenFilesLimit,
		IdleTimeout:    opts.IdleTimeout,
	}, s.log, s.newTailFile)
	return nil
}

func (s *Source) newTailFile(id identity.ID, path string, pos int64, group string, headers map[string]string) (*tailfile.TailFile, error) {
	return tailfile.New(id, path, pos, tailfile.Options{
		BufferSize:    s.opts.BufferSize,
		FileHeader:    s.opts.FileHeader,
		FileHeaderKey: s.opts.FileHeaderKey,
		GroupHeaders:  headers,
		Multiline:     s.opts.Multiline,
	})
}

// Start loads the position snapshot and, if configured, starts the
// background position writer.
func (s *Source) Start() error {
	if s.opts == nil {
		return fmt.Errorf("source: start called before configure")
	}
	if err := s.positions.Load(); err != nil {
		return fmt.Errorf("source: start: %w", err)
	}
	if s.opts.WritePosInterval > 0 {
		s.stopWriter = make(chan struct{})
		s.wg.Add(1)
		go s.runPositionWriter()
	}
	return nil
}

func (s *Source) runPositionWriter() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.WritePosInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.positions.Write(); err != nil {
				s.log.Warnw("source: background position write failed", "error", err)
			}
		case <-s.stopWriter:
			return
		}
	}
}

// Process runs one poll cycle: refresh the matched file set, reconcile
// the registry, drain up to batchSize records, and deliver them to the
// channel in a single transaction.
func (s *Source) Process() (Status, error) {
	matches, err := s.matcher.Scan(s.opts.FileGroups)
	if err != nil {
		return BACKOFF, fmt.Errorf("source: process: %w", err)
	}
	s.registry.Reconcile(matches)

	batch := s.registry.Drain(s.opts.BatchSize, s.opts.BackoffWithoutNL, s.opts.ByteOffsetHeader)
	defer func() {
		s.registry.CloseIdle(s.opts.IdleTimeout)
		s.registry.EnforceOpenFileBudget(s.opts.OpenFilesLimit)
	}()

	if len(batch.Records) == 0 {
		return BACKOFF, nil
	}

	tx, err := s.channel.GetTransaction()
	if err != nil {
		return BACKOFF, fmt.Errorf("source: process: get transaction: %w", err)
	}
	if err := s.deliver(tx, batch); err != nil {
		return BACKOFF, err
	}
	return READY, nil
}

// deliver runs the begin -> put* -> commit|rollback -> close protocol
// against tx, and promotes or rewinds offsets to match.
func (s *Source) deliver(tx channel.Transaction, batch *registry.Batch) error {
	defer tx.Close()

	if err := tx.Begin(); err != nil {
		return fmt.Errorf("source: transaction begin: %w", err)
	}
	for _, record := range batch.Records {
		if err := tx.Put(record); err != nil {
			s.rollback(tx, batch)
			return fmt.Errorf("source: transaction put: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.rollback(tx, batch)
		return fmt.Errorf("source: transaction commit: %w", err)
	}

	s.registry.Commit(batch)
	if err := s.positions.Write(); err != nil {
		s.log.Warnw("source: post-commit position write failed", "error", err)
	}
	return nil
}

func (s *Source) rollback(tx channel.Transaction, batch *registry.Batch) {
	if err := tx.Rollback(); err != nil {
		s.log.Warnw("source: transaction rollback failed", "error", err)
	}
	s.registry.Rollback(batch)
}

// Stop completes gracefully: stops the background writer, closes every
// tracked file handle, and writes a final position snapshot.
func (s *Source) Stop() error {
	if s.stopWriter != nil {
		close(s.stopWriter)
		s.wg.Wait()
	}
	s.registry.Close()
	return s.positions.Write()
}
