// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package channel defines the downstream transactional sink interface,
// Channel, and provides an in-memory reference implementation for
// tests and for a host that has no real sink wired up yet.
package channel

import (
	"fmt"
	"sync"

	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

// Transaction is a single all-or-nothing batch handoff to the
// downstream sink: begin, put every record, then commit or rollback.
// Callers always invoke these in the order begin -> put* ->
// (commit|rollback) -> close.
type Transaction interface {
	Begin() error
	Put(record tailfile.Record) error
	Commit() error
	Rollback() error
	Close() error
}

// Channel hands out a fresh Transaction for each process() cycle that
// has records to deliver.
type Channel interface {
	GetTransaction() (Transaction, error)
}

// MemoryChannel is an in-memory reference Channel. It accumulates
// committed batches in memory, which is exactly what a test double or
// an in-process downstream consumer needs.
type MemoryChannel struct {
	mu        sync.Mutex
	Committed [][]tailfile.Record
	FailNext  bool // forces the next transaction's Commit to fail, for rollback tests
}

// NewMemoryChannel returns an empty MemoryChannel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

// GetTransaction returns a fresh *memoryTransaction bound to this channel.
func (c *MemoryChannel) GetTransaction() (Transaction, error) {
	return &memoryTransaction{channel: c}, nil
}

type memoryTransaction struct {
	channel *MemoryChannel
	began   bool
	pending []tailfile.Record
}

func (t *memoryTransaction) Begin() error {
	if t.began {
		return fmt.Errorf("channel: transaction already begun")
	}
	t.began = true
	return nil
}

func (t *memoryTransaction) Put(record tailfile.Record) error {
	if !t.began {
		return fmt.Errorf("channel: put before begin")
	}
	t.pending = append(t.pending, record)
	return nil
}

func (t *memoryTransaction) Commit() error {
	if !t.began {
		return fmt.Errorf("channel: commit before begin")
	}
	t.channel.mu.Lock()
	defer t.channel.mu.Unlock()
	if t.channel.FailNext {
		t.channel.FailNext = false
		return fmt.Errorf("channel: forced commit failure")
	}
	batch := make([]tailfile.Record, len(t.pending))
	copy(batch, t.pending)
	t.channel.Committed = append(t.channel.Committed, batch)
	return nil
}

func (t *memoryTransaction) Rollback() error {
	t.pending = nil
	return nil
}

func (t *memoryTransaction) Close() error {
	t.began = false
	return nil
}
