// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dieWithParent asks the kernel to SIGKILL this process when the
// parent exits, so a crashed analyzer does not leave workers behind.
func dieWithParent() error {
	parent := os.Getppid()
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		return fmt.Errorf("setting parent death signal: %w", err)
	}
	// The parent may have exited before prctl took effect.
	if os.Getppid() != parent {
		return errors.New("parent exited before the worker started")
	}
	return nil
}
