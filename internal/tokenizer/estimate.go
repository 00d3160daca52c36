package tokenizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

const (
	tokensPerMessage = 3
	tokensPerName    = 1
	replyPriming     = 3
	imageOverhead    = 85
)

// Usage is an estimated token split.
type Usage struct {
	Input  int
	Output int
}

// Estimator counts Chat Completions payloads.
type Estimator struct {
	cache *Cache
}

func NewEstimator(cache *Cache) *Estimator {
	if cache == nil {
		cache = NewCache(nil)
	}
	return &Estimator{cache: cache}
}

// Estimate counts non-assistant messages plus tools as input and assistant
// messages as output, using the model's tokenizer.
func (e *Estimator) Estimate(req *openai.ChatRequest, model models.Model) (Usage, error) {
	encoding := model.Capabilities.Tokenizer
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := e.cache.Get(encoding)
	if err != nil {
		return Usage{}, fmt.Errorf("load encoder: %w", err)
	}

	constants := ConstantsFor(model.ID)

	var input, output []openai.ChatMessage
	for _, msg := range req.Messages {
		if msg.Role == openai.RoleAssistant {
			output = append(output, msg)
		} else {
			input = append(input, msg)
		}
	}

	usage := Usage{
		Input:  messagesTokens(input, enc, constants),
		Output: messagesTokens(output, enc, constants),
	}
	if len(req.Tools) > 0 {
		usage.Input += ToolsTokens(req.Tools, enc, constants)
	}
	return usage, nil
}

func messagesTokens(msgs []openai.ChatMessage, enc Encoder, c ModelConstants) int {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, msg := range msgs {
		total += MessageTokens(msg, enc, c)
	}
	return total + replyPriming
}

// MessageTokens is the cost of a single message. The reasoning ciphertext
// is never counted.
func MessageTokens(msg openai.ChatMessage, enc Encoder, c ModelConstants) int {
	tokens := tokensPerMessage
	tokens += enc.Count(msg.Role)

	if msg.Content != nil {
		if msg.Content.IsParts {
			tokens += contentPartsTokens(msg.Content.Parts, enc)
		} else {
			tokens += enc.Count(msg.Content.Text)
		}
	}
	if msg.Name != "" {
		tokens += enc.Count(msg.Name) + tokensPerName
	}
	if msg.ToolCallID != "" {
		tokens += enc.Count(msg.ToolCallID)
	}
	if msg.ReasoningText != nil {
		tokens += enc.Count(*msg.ReasoningText)
	}
	if msg.ToolCalls != nil {
		tokens += toolCallsTokens(msg.ToolCalls, enc, c)
	}
	return tokens
}

func toolCallsTokens(calls []openai.ToolCall, enc Encoder, c ModelConstants) int {
	tokens := 0
	for _, call := range calls {
		tokens += c.FuncInit
		tokens += enc.Count(call.ID)
		tokens += enc.Count(call.Function.Name)
		tokens += enc.Count(call.Function.Arguments)
	}
	return tokens + c.FuncEnd
}

func contentPartsTokens(parts []openai.ContentPart, enc Encoder) int {
	tokens := 0
	for _, part := range parts {
		switch {
		case part.Type == openai.PartImageURL && part.ImageURL != nil:
			tokens += enc.Count(part.ImageURL.URL) + imageOverhead
		case part.Text != "":
			tokens += enc.Count(part.Text)
		}
	}
	return tokens
}

// ToolsTokens is the cost of the tool definitions. GPT-family models walk
// the parameter schema; all others pay for the serialized tool.
func ToolsTokens(tools []openai.ChatTool, enc Encoder, c ModelConstants) int {
	tokens := 0
	if !c.IsGPT {
		for _, tool := range tools {
			tokens += enc.Count(stringify(tool))
		}
		return tokens
	}
	for _, tool := range tools {
		tokens += toolTokens(tool, enc, c)
	}
	return tokens + c.FuncEnd
}

func toolTokens(tool openai.ChatTool, enc Encoder, c ModelConstants) int {
	tokens := c.FuncInit
	desc := strings.TrimSuffix(tool.Function.Description, ".")
	tokens += enc.Count(tool.Function.Name + ":" + desc)
	return tokens + parametersTokens(tool.Function.Parameters, enc, c)
}

func parametersTokens(raw json.RawMessage, enc Encoder, c ModelConstants) int {
	params, ok := decodeObject(raw)
	if !ok {
		return 0
	}
	tokens := 0
	for key, value := range params {
		switch key {
		case "$schema", "additionalProperties":
			continue
		case "properties":
			tokens += propertiesTokens(value, enc, c)
		default:
			tokens += enc.Count(key + ":" + textOrJSON(value))
		}
	}
	return tokens
}

func propertiesTokens(raw json.RawMessage, enc Encoder, c ModelConstants) int {
	props, ok := decodeObject(raw)
	if !ok || len(props) == 0 {
		return 0
	}
	tokens := c.PropInit
	for name, prop := range props {
		tokens += propertyTokens(name, prop, enc, c)
	}
	return tokens
}

func propertyTokens(name string, raw json.RawMessage, enc Encoder, c ModelConstants) int {
	tokens := c.PropKey
	prop, ok := decodeObject(raw)
	if !ok {
		return tokens
	}

	if enumRaw, ok := prop["enum"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(enumRaw, &items); err == nil {
			tokens += c.EnumInit
			for _, item := range items {
				tokens += c.EnumItem + enc.Count(jsString(item))
			}
		}
	}

	propType := "string"
	if t, ok := prop["type"]; ok && !isFalsy(t) {
		propType = jsString(t)
	}
	var desc string
	if d, ok := prop["description"]; ok && !isFalsy(d) {
		desc = jsString(d)
	}
	desc = strings.TrimSuffix(desc, ".")
	tokens += enc.Count(name + ":" + propType + ":" + desc)

	if items, ok := prop["items"]; ok && propType == "array" && !isFalsy(items) {
		tokens += parametersTokens(items, enc, c)
	}

	for key, value := range prop {
		switch key {
		case "type", "description", "enum", "items":
			continue
		}
		tokens += enc.Count(key + ":" + textOrJSON(value))
	}
	return tokens
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// textOrJSON returns a string value as-is and any other value as compact JSON.
func textOrJSON(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// jsString renders a JSON value the way a JavaScript String() call would.
func jsString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	case '{':
		return "[object Object]"
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return ""
		}
		parts := make([]string, len(items))
		for i, item := range items {
			if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
				continue
			}
			parts[i] = jsString(item)
		}
		return strings.Join(parts, ",")
	case 't', 'f', 'n':
		return string(raw)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return string(raw)
	}
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isFalsy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}

func stringify(v any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
