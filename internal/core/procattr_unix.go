//go:build !windows

package core

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup puts the child in its own process group.
func detachProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
