// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"

	"github.com/bureau-foundation/defang/lib/ipc"
)

// Args formats the worker command line: service type ordinal, channel
// name, channel uri.
func Args(serviceType ipc.ServiceType, identity ipc.Identity) []string {
	return []string{fmt.Sprintf("%d", int(serviceType)), identity.Name, identity.URI}
}

// ParseArgs parses the command line produced by Args. Anything other
// than exactly three well-formed arguments is an error.
func ParseArgs(args []string) (ipc.ServiceType, ipc.Identity, error) {
	if len(args) != 3 {
		return 0, ipc.Identity{}, fmt.Errorf("want 3 arguments (service-type name uri), got %d", len(args))
	}
	serviceType, err := ipc.ParseServiceType(args[0])
	if err != nil {
		return 0, ipc.Identity{}, err
	}
	identity := ipc.Identity{Name: args[1], URI: args[2]}
	if identity.Name == "" || identity.URI == "" {
		return 0, ipc.Identity{}, fmt.Errorf("channel name and uri must be non-empty")
	}
	for _, r := range identity.Name {
		if r == '/' || r == 0 {
			return 0, ipc.Identity{}, fmt.Errorf("channel name %q is not a file name", identity.Name)
		}
	}
	return serviceType, identity, nil
}
