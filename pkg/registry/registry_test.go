// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/DataDog/tail-file-source/pkg/identity"
	"github.com/DataDog/tail-file-source/pkg/matcher"
	"github.com/DataDog/tail-file-source/pkg/positionstore"
	"github.com/DataDog/tail-file-source/pkg/tailfile"
)

type RegistryTestSuite struct {
	suite.Suite
	dir       string
	positions *positionstore.Store
	reg       *Registry
}

func newTailFileFactory() func(identity.ID, string, int64, string, map[string]string) (*tailfile.TailFile, error) {
	return func(id identity.ID, path string, pos int64, group string, headers map[string]string) (*tailfile.TailFile, error) {
		return tailfile.New(id, path, pos, tailfile.Options{
			BufferSize:   4096,
			GroupHeaders: headers,
		})
	}
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.positions = positionstore.New(filepath.Join(suite.dir, "position.json"), nil)
	suite.reg = New(suite.positions, Options{OpenFilesLimit: 64, IdleTimeout: time.Minute}, nil, newTailFileFactory())
}

func (suite *RegistryTestSuite) write(name, content string) string {
	path := filepath.Join(suite.dir, name)
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))
	return path
}

func (suite *RegistryTestSuite) contentsOf(batch *Batch) []string {
	out := make([]string, len(batch.Records))
	for i, r := range batch.Records {
		out[i] = string(r.Content)
	}
	return out
}

func (suite *RegistryTestSuite) TestOpensNewFileAndDrains() {
	path := suite.write("a.log", "one\ntwo\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	suite.Equal(1, suite.reg.Len())

	batch := suite.reg.Drain(100, true, false)
	suite.Equal([]string{"one", "two"}, suite.contentsOf(batch))
}

func (suite *RegistryTestSuite) TestCommitPersistsPosition() {
	path := suite.write("a.log", "one\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	batch := suite.reg.Drain(100, true, false)
	suite.reg.Commit(batch)

	id, err := identity.OfPath(path)
	suite.Nil(err)
	pos, ok := suite.positions.Get(id)
	suite.True(ok)
	suite.Equal(int64(len("one\n")), pos)
}

func (suite *RegistryTestSuite) TestRollbackRereadsSameBytes() {
	path := suite.write("a.log", "one\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	batch := suite.reg.Drain(100, true, false)
	suite.reg.Rollback(batch)

	batch = suite.reg.Drain(100, true, false)
	suite.Equal([]string{"one"}, suite.contentsOf(batch))
}

func (suite *RegistryTestSuite) TestGroupHeadersAttachedPerGroup() {
	f1 := suite.write("file1.log", "a\nb\n")
	f2 := suite.write("file2.log", "c\nd\n")
	f3 := suite.write("file3.log", "e\nf\n")

	suite.reg.Reconcile([]matcher.Match{
		{Path: f1, Group: "f1", Headers: map[string]string{"headerKeyTest": "value1"}},
		{Path: f2, Group: "f2", Headers: map[string]string{"headerKeyTest": "value2", "headerKeyTest2": "value2-2"}},
		{Path: f3, Group: "f3"},
	})

	batch := suite.reg.Drain(100, true, false)
	byContent := make(map[string]map[string]string)
	for _, r := range batch.Records {
		byContent[string(r.Content)] = r.Headers
	}

	suite.Equal("value1", byContent["a"]["headerKeyTest"])
	suite.Equal("value2", byContent["c"]["headerKeyTest"])
	suite.Equal("value2-2", byContent["c"]["headerKeyTest2"])
	suite.Empty(byContent["e"])
}

// Files are drained in ascending mtime order, independent of name.
func (suite *RegistryTestSuite) TestConsumptionOrderByMtime() {
	f1 := suite.write("file1.log", "l1\n")
	time.Sleep(5 * time.Millisecond)
	f2 := suite.write("file2.log", "l2\n")
	time.Sleep(5 * time.Millisecond)
	f3 := suite.write("file3.log", "l3\n")
	time.Sleep(5 * time.Millisecond)
	f4 := suite.write("file4.log", "l4\n")

	now := time.Now().Add(10 * time.Minute)
	suite.Require().NoError(os.Chtimes(f3, now, now))

	suite.reg.Reconcile([]matcher.Match{
		{Path: f1, Group: "g"}, {Path: f2, Group: "g"}, {Path: f3, Group: "g"}, {Path: f4, Group: "g"},
	})

	batch := suite.reg.Drain(100, true, false)
	suite.Equal([]string{"l1", "l2", "l4", "l3"}, suite.contentsOf(batch))
}

func (suite *RegistryTestSuite) TestRotationPreservesOffsetAcrossIdentity() {
	path := suite.write("a.log", "before\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	batch := suite.reg.Drain(100, true, false)
	suite.reg.Commit(batch)

	suite.Require().NoError(os.Remove(path))
	suite.write("a.log", "after\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	suite.Equal(2, suite.reg.Len()) // old identity still idling, new identity opened

	batch = suite.reg.Drain(100, true, false)
	suite.Equal([]string{"after"}, suite.contentsOf(batch))
}

func (suite *RegistryTestSuite) TestTruncationResetsToStart() {
	path := suite.write("a.log", "0123456789\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	batch := suite.reg.Drain(100, true, false)
	suite.reg.Commit(batch)

	suite.Require().NoError(os.Truncate(path, 0))
	suite.Require().NoError(os.WriteFile(path, []byte("new\n"), 0644))
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})

	batch = suite.reg.Drain(100, true, false)
	suite.Equal([]string{"new"}, suite.contentsOf(batch))
}

func (suite *RegistryTestSuite) TestUnmatchedEntryRemovedAfterIdleTimeout() {
	suite.reg = New(suite.positions, Options{OpenFilesLimit: 64, IdleTimeout: 20 * time.Millisecond}, nil, newTailFileFactory())
	path := suite.write("a.log", "x\n")
	suite.reg.Reconcile([]matcher.Match{{Path: path, Group: "g"}})
	suite.Equal(1, suite.reg.Len())

	suite.reg.Reconcile(nil) // file no longer matched
	suite.Equal(1, suite.reg.Len())

	time.Sleep(30 * time.Millisecond)
	suite.reg.Reconcile(nil)
	suite.Equal(0, suite.reg.Len())
}

func (suite *RegistryTestSuite) TestEnforceOpenFileBudgetClosesLRU() {
	var paths []string
	for i := 0; i < 3; i++ {
		paths = append(paths, suite.write(string(rune('a'+i))+".log", "x\n"))
	}
	var matches []matcher.Match
	for _, p := range paths {
		matches = append(matches, matcher.Match{Path: p, Group: "g"})
	}
	suite.reg.Reconcile(matches)
	suite.reg.Drain(100, true, false)

	suite.reg.EnforceOpenFileBudget(1)

	openCount := 0
	for _, e := range suite.reg.entries {
		if e.tail.IsOpen() {
			openCount++
		}
	}
	suite.Equal(1, openCount)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
