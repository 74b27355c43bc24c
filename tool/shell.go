package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type RunShellCommandRequest struct {
	Command string `json:"command" jsonschema_description:"Command executed with bash -c"`
}

func registerShellTools(r *Registry) {
	Register(r, "run_shell_command",
		"Run a command in bash and return its exit code, stdout and stderr. For builds, tests, git. Not for reading or writing files.",
		ClassExec, runShellCommand)
}

func runShellCommand(ctx context.Context, in RunShellCommandRequest) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", in.Command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		} else {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Exit Code: %d\n", exitCode)
	if stdout.Len() > 0 {
		fmt.Fprintf(&b, "--- STDOUT ---\n%s\n", stdout.String())
	}
	if stderr.Len() > 0 {
		fmt.Fprintf(&b, "--- STDERR ---\n%s\n", stderr.String())
	}
	return strings.TrimSpace(b.String()), nil
}
