//go:build !unix

package executor

import (
	"errors"
	"os/exec"
)

var errUnsupported = errors.New("executor: process groups unsupported on this platform")

func setupProcessGroup(*exec.Cmd) {}

// KillGroup is unsupported here; the runner falls back to killing the leader.
func KillGroup(int) error { return errUnsupported }

func GroupAlive(int) bool { return false }
