// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package config loads a flat key/value configuration into a validated
// in-memory Options value, reading it through viper and layering
// SetDefault calls on top before validating required keys.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/DataDog/tail-file-source/pkg/globutil"
)

// MultilineBelong selects whether a line matching the multiline pattern
// joins the event of the line before it (BelongPrevious) or of the line
// after it (BelongNext).
type MultilineBelong int

const (
	BelongPrevious MultilineBelong = iota
	BelongNext
)

// FileGroup pairs a glob pattern with the static headers applied to every
// record emitted by the files it matches.
type FileGroup struct {
	Name    string
	Pattern string
	Headers map[string]string
}

// Multiline holds the regex-driven aggregation parameters.
type Multiline struct {
	Enabled     bool
	Pattern     *regexp.Regexp
	Belong      MultilineBelong
	Matched     bool
	MaxBytes    int
	MaxLines    int
	TimeoutSecs int
}

// Timeout returns the stall timeout as a time.Duration.
func (m Multiline) Timeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// Options is the fully validated, in-memory configuration for a Source.
type Options struct {
	PositionFile     string
	FileGroups       []FileGroup
	FileHeader       bool
	FileHeaderKey    string
	ByteOffsetHeader bool
	BatchSize        int
	BackoffWithoutNL bool
	IdleTimeout      time.Duration
	WritePosInterval time.Duration
	SkipToEnd        bool
	Multiline        Multiline
	BufferSize       int
	OpenFilesLimit   int
}

// Load reads the flat configuration keys off v, applies defaults, and
// validates the result. A configuration error here must prevent start.
func Load(v *viper.Viper) (*Options, error) {
	setDefaults(v)

	positionFile := v.GetString("positionFile")
	if positionFile == "" {
		return nil, fmt.Errorf("config: positionFile is required")
	}

	names := strings.Fields(v.GetString("filegroups"))
	if len(names) == 0 {
		return nil, fmt.Errorf("config: filegroups is required and must name at least one group")
	}

	groups := make([]FileGroup, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("config: duplicate filegroup name %q", name)
		}
		seen[name] = true

		pattern := v.GetString("filegroups." + name)
		if pattern == "" {
			return nil, fmt.Errorf("config: filegroups.%s has no pattern", name)
		}
		for _, expanded := range globutil.ExpandBraces(pattern) {
			if _, err := doublestar.Match(expanded, ""); err != nil {
				return nil, fmt.Errorf("config: filegroups.%s: malformed glob %q: %w", name, pattern, err)
			}
		}

		groups = append(groups, FileGroup{
			Name:    name,
			Pattern: pattern,
			Headers: v.GetStringMapString("headers." + name),
		})
	}

	multiline, err := loadMultiline(v)
	if err != nil {
		return nil, err
	}

	return &Options{
		PositionFile:     positionFile,
		FileGroups:       groups,
		FileHeader:       v.GetBool("fileHeader"),
		FileHeaderKey:    v.GetString("fileHeaderKey"),
		ByteOffsetHeader: v.GetBool("byteOffsetHeader"),
		BatchSize:        v.GetInt("batchSize"),
		BackoffWithoutNL: v.GetBool("backoffWithoutNL"),
		IdleTimeout:      time.Duration(v.GetInt("idleTimeout")) * time.Second,
		WritePosInterval: time.Duration(v.GetInt("writePosInterval")) * time.Second,
		SkipToEnd:        v.GetBool("skipToEnd"),
		Multiline:        multiline,
		BufferSize:       v.GetInt("bufferSize"),
		OpenFilesLimit:   v.GetInt("openFilesLimit"),
	}, nil
}

func loadMultiline(v *viper.Viper) (Multiline, error) {
	patternStr := v.GetString("multilinePattern")
	m := Multiline{
		Enabled:     v.GetBool("multiline") && patternStr != "",
		Matched:     v.GetBool("multilinePatternMatched"),
		MaxBytes:    v.GetInt("multilineMaxBytes"),
		MaxLines:    v.GetInt("multilineMaxLines"),
		TimeoutSecs: v.GetInt("multilineEventTimeoutSecs"),
	}
	if !m.Enabled {
		return m, nil
	}

	re, err := regexp.Compile(patternStr)
	if err != nil {
		return Multiline{}, fmt.Errorf("config: multilinePattern %q: %w", patternStr, err)
	}
	m.Pattern = re

	switch strings.ToLower(v.GetString("multilinePatternBelong")) {
	case "", "previous":
		m.Belong = BelongPrevious
	case "next":
		m.Belong = BelongNext
	default:
		return Multiline{}, fmt.Errorf("config: multilinePatternBelong must be %q or %q", "previous", "next")
	}
	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fileHeaderKey", DefaultFileHeaderKey)
	v.SetDefault("batchSize", DefaultBatchSize)
	v.SetDefault("idleTimeout", DefaultIdleTimeoutSecs)
	v.SetDefault("writePosInterval", DefaultWritePosIntervalSecs)
	v.SetDefault("bufferSize", DefaultBufferSize)
	v.SetDefault("openFilesLimit", DefaultOpenFilesLimit)
	v.SetDefault("multilineMaxBytes", DefaultMultilineMaxBytes)
	v.SetDefault("multilineMaxLines", DefaultMultilineMaxLines)
	v.SetDefault("multilineEventTimeoutSecs", DefaultMultilineTimeoutSecs)
}

