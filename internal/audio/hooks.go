package audio

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/rs/zerolog/log"
)

// CommandRunner executes a session hook and reports its output and exit code.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner runs hooks on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// Hooks are optional operator commands run when a call audio session starts
// or stops. The session mode is appended as the last argument of OnStart.
type Hooks struct {
	OnStart []string
	OnStop  []string
}

func (h Hooks) empty() bool {
	return len(h.OnStart) == 0 && len(h.OnStop) == 0
}

// ParseHook splits a configured command line on whitespace.
func ParseHook(line string) []string {
	return strings.Fields(line)
}

func runHook(r CommandRunner, argv []string, extra ...string) error {
	if len(argv) == 0 || r == nil {
		return nil
	}
	args := append(append([]string{}, argv[1:]...), extra...)
	_, stderr, code, err := r.Run(argv[0], args...)
	if err != nil {
		log.Warn().
			Str("cmd", argv[0]).
			Int32("exit", code).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Err(err).
			Msg("audio.hook failed")
		return err
	}
	log.Debug().Str("cmd", argv[0]).Msg("audio.hook ok")
	return nil
}

func (s *Sink) startHook(mode call.Mode) error {
	return runHook(s.runner, s.cfg.Hooks.OnStart, mode.String())
}

func (s *Sink) stopHook() error {
	return runHook(s.runner, s.cfg.Hooks.OnStop)
}
