//go:build tools
// +build tools

// Package groupchat pins the code generators used by `go generate` (mockgen for
// the mocks under mocks/) so they are tracked in go.mod.
package groupchat

import (
	_ "go.uber.org/mock/mockgen"
)
