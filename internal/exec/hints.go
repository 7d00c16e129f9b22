package exec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cybershell/backy/internal/config"
)

// commandNotFoundPatterns are regex patterns to detect "command not found" errors
// from various shells. These require exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// IsCommandNotFound checks if the error output indicates a missing command.
// Returns the command name (if extractable) and whether it's a command-not-found error.
func IsCommandNotFound(stderr string, exitCode int) (string, bool) {
	if exitCode != 127 {
		return "", false
	}
	for _, pattern := range commandNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return strings.TrimSuffix(matches[1], ":"), true
		}
	}
	return "", true
}

// missingCommandHint explains an exit 127, or returns "".
func missingCommandHint(cmd *config.Command, tail []string, code int) string {
	name, notFound := IsCommandNotFound(strings.Join(tail, "\n"), code)
	if !notFound {
		return ""
	}
	if name == "" {
		if fields := strings.Fields(cmd.Cmd); len(fields) > 0 && cmd.Type == config.TypeDefault {
			name = fields[0]
		} else {
			name = "a command"
		}
	}
	where := "locally"
	if cmd.IsRemote() {
		where = "on " + strings.TrimSpace(cmd.Host) + " (non-interactive SSH sessions often have a shorter PATH)"
	}
	return fmt.Sprintf("'%s' was not found in PATH %s", name, where)
}
