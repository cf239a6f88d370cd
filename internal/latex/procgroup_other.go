//go:build !unix

package latex

import "os/exec"

func killProcessGroup(cmd *exec.Cmd) {}
