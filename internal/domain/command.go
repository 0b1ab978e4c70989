package domain

import (
	"fmt"
	"strings"
)

// Principal selects which remote identity runs a command.
type Principal string

const (
	PrincipalStandard   Principal = "standard"
	PrincipalPrivileged Principal = "privileged"
)

// RemoteTarget is a host plus the principal to log in as.
type RemoteTarget struct {
	Host      string
	Principal Principal
}

func Standard(host string) RemoteTarget {
	return RemoteTarget{Host: host, Principal: PrincipalStandard}
}

func Privileged(host string) RemoteTarget {
	return RemoteTarget{Host: host, Principal: PrincipalPrivileged}
}

// CommandResult is the outcome of one remote command. ExitCode -1 means the
// command never produced an exit status (timeout or connection failure).
type CommandResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Output is trimmed stdout, or trimmed stderr when stdout is empty.
func (r CommandResult) Output() string {
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(r.Stderr)
}

// Failure builds a result for a command that did not run to completion.
func Failure(format string, args ...interface{}) CommandResult {
	return CommandResult{Success: false, Stderr: fmt.Sprintf(format, args...), ExitCode: -1}
}

// ApprovalAction is one container update offered in a proposal.
type ApprovalAction struct {
	Target string `json:"target"`
	Host   string `json:"host"`
}
