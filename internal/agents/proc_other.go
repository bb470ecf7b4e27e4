//go:build !unix

package agents

import "os/exec"

func isolateProcessGroup(cmd *exec.Cmd) {}
