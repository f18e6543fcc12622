// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

//go:build !windows

package identity

import (
	"fmt"
	"os"
	"syscall"
)

// fromInfo extracts the device/inode pair backing info.
func fromInfo(info os.FileInfo) (ID, error) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ID{}, fmt.Errorf("identity: no syscall.Stat_t for %s", info.Name())
	}
	return ID{Device: uint64(sys.Dev), Inode: uint64(sys.Ino)}, nil
}

// Of derives the identity of an already-open file.
func Of(f *os.File) (ID, error) {
	info, err := f.Stat()
	if err != nil {
		return ID{}, err
	}
	return fromInfo(info)
}

// OfPath derives the identity of the file at path without keeping it open.
func OfPath(path string) (ID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ID{}, err
	}
	return fromInfo(info)
}
