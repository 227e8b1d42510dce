package persistent

import (
	"encoding/json"
	"fmt"
)

// streamMessage is one line of claude's stream-json output.
type streamMessage struct {
	Type      string          `json:"type"`              // "system", "assistant", "user", "result", "control_request"
	Subtype   string          `json:"subtype,omitempty"` // "init" for system messages
	SessionID string          `json:"session_id,omitempty"`
	Message   *nestedMessage  `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Usage     *usage          `json:"usage,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Request   *controlRequest `json:"request,omitempty"`
}

type nestedMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
	Usage   *usage         `json:"usage,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"` // "text", "tool_use", "tool_result"
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *usage) total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// controlRequest is claude asking its host for a decision.
type controlRequest struct {
	Subtype  string          `json:"subtype"` // "can_use_tool"
	ToolName string          `json:"tool_name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

func parseStreamMessage(line []byte) (*streamMessage, error) {
	if len(line) == 0 {
		return nil, nil
	}
	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("parse stream message: %w", err)
	}
	return &msg, nil
}

// text returns the text blocks of an assistant message.
func (m *streamMessage) text() []string {
	if m.Message == nil {
		return nil
	}
	var out []string
	for _, block := range m.Message.Content {
		if block.Type == "text" && block.Text != "" {
			out = append(out, block.Text)
		}
	}
	return out
}

// toolUses returns the tool_use blocks of an assistant message.
func (m *streamMessage) toolUses() []contentBlock {
	if m.Message == nil {
		return nil
	}
	var out []contentBlock
	for _, block := range m.Message.Content {
		if block.Type == "tool_use" {
			out = append(out, block)
		}
	}
	return out
}

// editActions maps file-editing tools to fs-edit actions.
var editActions = map[string]string{
	"Write":        "wrote",
	"Edit":         "updated",
	"MultiEdit":    "updated",
	"NotebookEdit": "updated",
}

// fileEdit reports the action and path of a file-editing tool use.
func fileEdit(block contentBlock) (action, path string, ok bool) {
	action, ok = editActions[block.Name]
	if !ok {
		return "", "", false
	}
	var input struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
	}
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return "", "", false
	}
	path = input.FilePath
	if path == "" {
		path = input.NotebookPath
	}
	if path == "" {
		return "", "", false
	}
	return action, path, true
}

// userInput is a prompt written to claude's stdin.
type userInput struct {
	Type            string    `json:"type"`
	Message         userInner `json:"message"`
	SessionID       string    `json:"session_id"`
	ParentToolUseID *string   `json:"parent_tool_use_id"`
}

type userInner struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func formatUserInput(content string) userInput {
	return userInput{
		Type:      "user",
		Message:   userInner{Role: "user", Content: content},
		SessionID: "default",
	}
}

// controlResponse answers a control_request.
type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string         `json:"subtype"`
	RequestID string         `json:"request_id"`
	Response  permissionVote `json:"response"`
}

type permissionVote struct {
	Behavior     string          `json:"behavior"` // "allow" or "deny"
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

func formatPermission(requestID string, input json.RawMessage, approved bool) controlResponse {
	vote := permissionVote{Behavior: "deny", Message: "denied by user"}
	if approved {
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		vote = permissionVote{Behavior: "allow", UpdatedInput: input}
	}
	return controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  vote,
		},
	}
}
