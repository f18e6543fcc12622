// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

func TestCommitAppendsBatch(t *testing.T) {
	c := NewMemoryChannel()
	tx, err := c.GetTransaction()
	assert.Nil(t, err)
	assert.Nil(t, tx.Begin())
	assert.Nil(t, tx.Put(tailfile.Record{Content: []byte("a")}))
	assert.Nil(t, tx.Put(tailfile.Record{Content: []byte("b")}))
	assert.Nil(t, tx.Commit())
	assert.Nil(t, tx.Close())

	assert.Len(t, c.Committed, 1)
	assert.Len(t, c.Committed[0], 2)
}

func TestRollbackDiscardsPending(t *testing.T) {
	c := NewMemoryChannel()
	tx, _ := c.GetTransaction()
	assert.Nil(t, tx.Begin())
	assert.Nil(t, tx.Put(tailfile.Record{Content: []byte("a")}))
	assert.Nil(t, tx.Rollback())
	assert.Nil(t, tx.Close())
	assert.Empty(t, c.Committed)
}

func TestPutBeforeBeginErrors(t *testing.T) {
	c := NewMemoryChannel()
	tx, _ := c.GetTransaction()
	assert.NotNil(t, tx.Put(tailfile.Record{Content: []byte("a")}))
}

func TestForcedCommitFailureLeavesNothingCommitted(t *testing.T) {
	c := NewMemoryChannel()
	c.FailNext = true
	tx, _ := c.GetTransaction()
	assert.Nil(t, tx.Begin())
	assert.Nil(t, tx.Put(tailfile.Record{Content: []byte("a")}))
	assert.NotNil(t, tx.Commit())
	assert.Empty(t, c.Committed)
}
