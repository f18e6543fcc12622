// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package tailfile

// Record is one framed unit of file content: a single line, or (in
// multiline mode) the merged body of several lines.
type Record struct {
	Content []byte
	Headers map[string]string
}
