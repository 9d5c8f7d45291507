package claude

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message types written by `claude --output-format stream-json`.
const (
	MessageTypeSystem      = "system"
	MessageTypeAssistant   = "assistant"
	MessageTypeUser        = "user"
	MessageTypeResult      = "result"
	MessageTypeStreamEvent = "stream_event"
)

const (
	subtypeInit = "init"

	blockTypeText       = "text"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"

	streamEventBlockDelta = "content_block_delta"
	deltaTypeText         = "text_delta"
)

// streamMessage is one stdout line. Only the fields the decoder reads are
// declared.
type streamMessage struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	Message *apiMessage     `json:"message,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`

	IsError      bool     `json:"is_error,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`
	Result       string   `json:"result,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

type apiMessage struct {
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Decoder turns stream-json lines into events.
//
// With partial messages enabled, narration arrives as stream_event text deltas
// and the complete text blocks repeated in assistant messages are skipped.
type Decoder struct {
	partial bool
}

// NewDecoder returns a Decoder. partial must match whether the process was
// started with --include-partial-messages.
func NewDecoder(partial bool) *Decoder {
	return &Decoder{partial: partial}
}

// Decode parses one line. Blank lines and message types without a projection
// yield no events. A line that is not valid JSON returns an error.
func (d *Decoder) Decode(line []byte) ([]Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("malformed stream message: %w", err)
	}

	switch msg.Type {
	case MessageTypeSystem:
		if msg.Subtype != subtypeInit {
			return nil, nil
		}
		return []Event{EvSystemInit{SessionID: msg.SessionID, Tools: msg.Tools, Model: msg.Model}}, nil
	case MessageTypeAssistant:
		return d.decodeAssistant(msg)
	case MessageTypeUser:
		return decodeUser(msg)
	case MessageTypeStreamEvent:
		return d.decodeStreamEvent(msg)
	case MessageTypeResult:
		return []Event{decodeResult(msg)}, nil
	default:
		return nil, nil
	}
}

func (d *Decoder) decodeAssistant(msg streamMessage) ([]Event, error) {
	blocks, err := contentBlocks(msg.Message)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, block := range blocks {
		switch block.Type {
		case blockTypeText:
			if d.partial || block.Text == "" {
				continue
			}
			events = append(events, EvTextDelta{Text: block.Text})
		case blockTypeToolUse:
			use, err := toolUse(block)
			if err != nil {
				return nil, err
			}
			events = append(events, EvToolUse{ToolUse: use})
		}
	}
	return events, nil
}

func decodeUser(msg streamMessage) ([]Event, error) {
	blocks, err := contentBlocks(msg.Message)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, block := range blocks {
		if block.Type != blockTypeToolResult {
			continue
		}
		content, err := toolResultText(block.Content)
		if err != nil {
			return nil, err
		}
		events = append(events, EvToolResult{ToolResult: ToolResult{
			ToolUseID: block.ToolUseID,
			Content:   content,
			IsError:   block.IsError,
		}})
	}
	return events, nil
}

func (d *Decoder) decodeStreamEvent(msg streamMessage) ([]Event, error) {
	if !d.partial || len(msg.Event) == 0 {
		return nil, nil
	}
	var ev streamEvent
	if err := json.Unmarshal(msg.Event, &ev); err != nil {
		return nil, fmt.Errorf("malformed stream event: %w", err)
	}
	if ev.Type != streamEventBlockDelta || ev.Delta.Type != deltaTypeText || ev.Delta.Text == "" {
		return nil, nil
	}
	return []Event{EvTextDelta{Text: ev.Delta.Text}}, nil
}

func decodeResult(msg streamMessage) Event {
	if msg.IsError || strings.HasPrefix(msg.Subtype, "error") {
		text := strings.TrimSpace(msg.Result)
		if text == "" {
			text = strings.Join(msg.Errors, "; ")
		}
		if text == "" {
			text = fmt.Sprintf("agent run failed (%s)", msg.Subtype)
		}
		return EvError{Kind: FailureAgent, Message: text}
	}
	return EvCompleted{
		Turns:      msg.NumTurns,
		CostUSD:    msg.TotalCostUSD,
		DurationMs: msg.DurationMs,
		Result:     msg.Result,
	}
}

// contentBlocks decodes message.content. Plain-string content (echoed user
// prompts) carries no blocks.
func contentBlocks(msg *apiMessage) ([]contentBlock, error) {
	if msg == nil {
		return nil, nil
	}
	raw := bytes.TrimSpace(msg.Content)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("malformed message content: %w", err)
	}
	return blocks, nil
}

func toolUse(block contentBlock) (ToolUse, error) {
	use := ToolUse{ID: block.ID, Name: block.Name, Input: map[string]any{}}
	raw := bytes.TrimSpace(block.Input)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return use, nil
	}
	if raw[0] != '{' {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return ToolUse{}, fmt.Errorf("malformed tool input for %s: %w", block.ID, err)
		}
		use.Input["input"] = v
		use.InputKeys = []string{"input"}
		return use, nil
	}
	if err := json.Unmarshal(raw, &use.Input); err != nil {
		return ToolUse{}, fmt.Errorf("malformed tool input for %s: %w", block.ID, err)
	}
	keys, err := objectKeys(raw)
	if err != nil {
		return ToolUse{}, fmt.Errorf("malformed tool input for %s: %w", block.ID, err)
	}
	use.InputKeys = keys
	return use, nil
}

// objectKeys returns the top-level keys of a JSON object in document order,
// dropping repeats.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("not an object")
	}
	var keys []string
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("object key is not a string")
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// toolResultText flattens tool_result content, which is either a string or a
// list of typed parts of which only text parts are kept.
func toolResultText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("malformed tool result: %w", err)
		}
		return s, nil
	}
	var parts []contentBlock
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("malformed tool result: %w", err)
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == blockTypeText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}
