package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ScriptTimeout bounds a rule script.
const ScriptTimeout = 5 * time.Second

// primaryFields names the input field each known tool is matched on.
var primaryFields = map[string]string{
	"Bash":         "command",
	"Read":         "file_path",
	"Write":        "file_path",
	"Edit":         "file_path",
	"MultiEdit":    "file_path",
	"NotebookEdit": "notebook_path",
	"Glob":         "pattern",
	"Grep":         "pattern",
	"WebFetch":     "url",
	"WebSearch":    "query",
	"Task":         "prompt",
}

// PrimaryField returns the value rules match against for a tool call, or ""
// when the tool is unknown or the input has no such string field.
func PrimaryField(tool string, input json.RawMessage) string {
	field, ok := primaryFields[tool]
	if !ok || len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	v, _ := fields[field].(string)
	return v
}

// Match reports whether value matches pattern. "" and ":*" match anything;
// a ":*" suffix is a prefix match; anything else must match exactly.
func Match(pattern, value string) bool {
	if pattern == "" || pattern == ":*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return strings.HasPrefix(value, prefix)
	}
	return pattern == value
}

// Rewrite anchors path-like patterns:
//
//	~/x  -> <home>/x
//	//x  -> /x        (absolute)
//	/x   -> <root>/x  (inside the project)
//
// Other patterns are returned unchanged.
func Rewrite(pattern, root string) string {
	switch {
	case pattern == "~" || strings.HasPrefix(pattern, "~/"):
		return expandHome(pattern)
	case strings.HasPrefix(pattern, "//"):
		return pattern[1:]
	case strings.HasPrefix(pattern, "/") && root != "":
		return strings.TrimSuffix(root, "/") + pattern
	}
	return pattern
}

// expandHome expands a leading "~" or "~/". "~user" is left alone.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// runScript asks a rule script for a decision. Unrecognized output is Pass.
func runScript(ctx context.Context, script, dir, tool string, input json.RawMessage) (Action, error) {
	ctx, cancel := context.WithTimeout(ctx, ScriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, expandHome(script), tool)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(input)
	out, err := cmd.Output()
	if err != nil {
		return Pass, err
	}
	switch Action(strings.ToLower(strings.TrimSpace(string(out)))) {
	case Allow:
		return Allow, nil
	case Deny:
		return Deny, nil
	}
	return Pass, nil
}
