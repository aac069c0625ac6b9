//go:build !windows

package audit

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the bot in its own process group so a timeout can
// take down anything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the whole process group led by p.
func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	// group gone or not ours; fall back to the leader
	return p.Kill()
}
