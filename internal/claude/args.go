package claude

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/claudian/claudian/internal/config"
	"github.com/google/shlex"
)

// Options configures one agent run.
type Options struct {
	// Prompt is the user's instruction.
	Prompt string
	// WorkDir is the project (vault) root the agent runs in.
	WorkDir string
	// CurrentFile is the active file, relative to WorkDir. Empty when none.
	CurrentFile string
	// Settings is the settings snapshot for this run.
	Settings config.Settings
}

// ErrEmptyPrompt is returned when Options carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// activeFilePrompt is appended to the system prompt when a file is open.
const activeFilePrompt = "The user is currently viewing the file %q (relative to the working directory). " +
	"When the request refers to \"this file\" or \"the current note\", it means that file."

// BuildArgs returns the Claude Code arguments for opts. The prompt comes
// directly after -p so that variadic flags, including user extra args, cannot
// consume it.
func BuildArgs(opts Options) ([]string, error) {
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	s := opts.Settings

	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if s.PartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if model := strings.TrimSpace(s.Model); model != "" && !strings.EqualFold(model, "default") {
		args = append(args, "--model", model)
	}
	if mode := strings.TrimSpace(s.PermissionMode); mode != "" {
		args = append(args, "--permission-mode", mode)
	}
	if s.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(s.MaxTurns))
	}
	if file := strings.TrimSpace(opts.CurrentFile); file != "" {
		args = append(args, "--append-system-prompt", fmt.Sprintf(activeFilePrompt, file))
	}
	if extra := strings.TrimSpace(s.ExtraArgs); extra != "" {
		parts, err := shlex.Split(extra)
		if err != nil {
			return nil, fmt.Errorf("invalid extra_args: %w", err)
		}
		args = append(args, parts...)
	}
	if tools := s.Permissions.AllowedTools(); len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	return args, nil
}
