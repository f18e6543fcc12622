// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

//go:build windows

package identity

import (
	"os"

	"golang.org/x/sys/windows"
)

// composite builds the (volumeSerial, fileIndex) identity pair that
// stands in for an inode on Windows, where none exists.
func composite(info *windows.ByHandleFileInformation) ID {
	return ID{
		Device: uint64(info.VolumeSerialNumber),
		Inode:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}
}

// Of derives the identity of an already-open file via
// GetFileInformationByHandle.
func Of(f *os.File) (ID, error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &info); err != nil {
		return ID{}, err
	}
	return composite(&info), nil
}

// OfPath opens path read-only just long enough to resolve its identity.
func OfPath(path string) (ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return ID{}, err
	}
	defer f.Close()
	return Of(f)
}
