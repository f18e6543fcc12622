// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package config

// Technical constants

const (
	// DefaultBufferSize is the per-read chunk size pulled off a tailed file.
	DefaultBufferSize = 8192
	// DefaultBatchSize bounds the number of records a single process() call emits.
	DefaultBatchSize = 100
	// DefaultOpenFilesLimit bounds simultaneously open TailFile handles.
	DefaultOpenFilesLimit = 64
	// DefaultIdleTimeoutSecs is how long an unmodified tracked file stays open.
	DefaultIdleTimeoutSecs = 5 * 60
	// DefaultWritePosIntervalSecs is the background position-writer's period.
	DefaultWritePosIntervalSecs = 10
	// DefaultFileHeaderKey is the header key used for the path header.
	DefaultFileHeaderKey = "file"
)

// Business constants

const (
	// DefaultMultilineMaxBytes force-flushes a pending multiline event.
	DefaultMultilineMaxBytes = 1 * 1000 * 1000
	// DefaultMultilineMaxLines force-flushes a pending multiline event.
	DefaultMultilineMaxLines = 500
	// DefaultMultilineTimeoutSecs force-flushes a stalled multiline event.
	DefaultMultilineTimeoutSecs = 5
)

// ByteOffsetHeaderKey is the header key holding a record's start offset.
const ByteOffsetHeaderKey = "byteoffset"

// MultilineHeaderKey marks a record as the product of multiline aggregation.
const MultilineHeaderKey = "multiline"

// MultilineTimestampHeaderKey records when multiline accumulation started.
const MultilineTimestampHeaderKey = "multiline_timestamp"
