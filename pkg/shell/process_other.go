//go:build !unix

package shell

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
