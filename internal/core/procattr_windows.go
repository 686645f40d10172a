//go:build windows

package core

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup starts the child in a new process group so console
// Ctrl+C events are not delivered to it.
func detachProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
