// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import "fmt"

type argumentError string

func (e argumentError) Error() string { return string(e) }

func errorf(format string, args ...any) error {
	return argumentError(fmt.Sprintf(format, args...))
}
