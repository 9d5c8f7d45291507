package session

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/claudian/claudian/internal/claude"
)

const (
	// MaxResultDisplay is the number of characters of a tool result shown
	// before truncation.
	MaxResultDisplay = 500
	// TruncationMarker follows a truncated tool result.
	TruncationMarker = "\n… (truncated)"

	// fallbackLabelKeys is how many input keys label an unknown tool.
	fallbackLabelKeys = 2
)

// summaryRule names the input field that labels a tool card.
type summaryRule struct {
	Field   string
	Default string
}

var summaryRules = map[string]summaryRule{
	"Read":  {Field: "file_path"},
	"Edit":  {Field: "file_path"},
	"Write": {Field: "file_path"},
	"Glob":  {Field: "pattern"},
	"Grep":  {Field: "pattern"},
	"LS":    {Field: "path", Default: "."},
}

// SummarizedTools lists the tool names with a dedicated label rule.
func SummarizedTools() []string {
	names := make([]string, 0, len(summaryRules))
	for name := range summaryRules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ToolLabel summarizes a tool invocation for its card header. Tools without a
// rule are labeled by their first two input keys.
func ToolLabel(use claude.ToolUse) string {
	if rule, ok := summaryRules[use.Name]; ok {
		v, present := use.Input[rule.Field]
		if !present || v == nil {
			return rule.Default
		}
		return stringify(v)
	}
	return strings.Join(leadingKeys(use, fallbackLabelKeys), ", ")
}

// leadingKeys returns up to n input keys, in document order when known and
// sorted otherwise.
func leadingKeys(use claude.ToolUse, n int) []string {
	keys := use.InputKeys
	if len(keys) == 0 {
		keys = make([]string, 0, len(use.Input))
		for k := range use.Input {
			keys = append(keys, k)
		}
		slices.Sort(keys)
	}
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// ResultDisplay returns content unchanged when it has at most
// MaxResultDisplay characters, and otherwise its first MaxResultDisplay
// characters followed by TruncationMarker.
func ResultDisplay(content string) string {
	if utf8.RuneCountInString(content) <= MaxResultDisplay {
		return content
	}
	n := 0
	for i := range content {
		if n == MaxResultDisplay {
			return content[:i] + TruncationMarker
		}
		n++
	}
	return content
}

// DoneSummary formats the status line of a completed run.
func DoneSummary(turns int, costUSD float64) string {
	plural := "s"
	if turns == 1 {
		plural = ""
	}
	return fmt.Sprintf("Done (%d turn%s · $%.4f)", turns, plural, costUSD)
}

// StatusSummary is the status line for status. turns and costUSD are read
// only for StatusDone.
func StatusSummary(status Status, turns int, costUSD float64) string {
	switch status {
	case StatusRunning:
		return "Running..."
	case StatusDone:
		return DoneSummary(turns, costUSD)
	case StatusError:
		return "Error occurred. See output above."
	case StatusCancelled:
		return "Cancelled."
	default:
		return ""
	}
}

// InputJSON is the indented JSON of a tool input for expanded cards.
func InputJSON(use claude.ToolUse) string {
	data, err := json.MarshalIndent(use.Input, "", "  ")
	if err != nil {
		return fmt.Sprint(use.Input)
	}
	return string(data)
}
