package process

import (
	"crypto/sha256"
	"encoding/hex"
	"os/exec"
	"strings"
)

// idHashLen is the number of hex characters kept from the command hash.
const idHashLen = 10

// DeriveID produces a stable id from command text. Identical commands yield
// identical ids across reloads and daemon restarts.
func DeriveID(command string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(command)))
	return hex.EncodeToString(sum[:])[:idHashLen]
}

// BuildCommand constructs an *exec.Cmd for a command line. Commands that
// already invoke a shell explicitly, or that contain shell metacharacters, run
// under /bin/sh -c; everything else executes directly.
func BuildCommand(command string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if script, ok := stripExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// stripExplicitShell detects a leading "sh -c <ARG>" (or absolute-path variant)
// and returns the script argument, with one surrounding quote pair removed so
// redirections inside the script still parse.
func stripExplicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(cmdStr, p) {
			continue
		}
		script := cmdStr[len(p):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') || (script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
