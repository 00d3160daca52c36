package translate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

var chatStopReasons = map[string]string{
	openai.FinishStop:          anthropic.StopEndTurn,
	openai.FinishLength:        anthropic.StopMaxTokens,
	openai.FinishToolCalls:     anthropic.StopToolUse,
	openai.FinishContentFilter: anthropic.StopEndTurn,
}

// ConvertStopReason maps a Chat finish reason to an Anthropic stop reason.
// Unknown and absent reasons map to nil.
func ConvertStopReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	if mapped, ok := chatStopReasons[*reason]; ok {
		return &mapped
	}
	return nil
}

// NormalizeModelName collapses dated Claude 4 ids onto the ids the upstream
// serves.
func NormalizeModelName(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-sonnet-4-"):
		return "claude-sonnet-4"
	case strings.HasPrefix(model, "claude-opus-4-"):
		return "claude-opus-4"
	}
	return model
}

// ToChat converts an Anthropic Messages request into a Chat Completions
// request.
func (t *Translator) ToChat(req *anthropic.MessagesRequest) *openai.ChatRequest {
	modelID := NormalizeModelName(req.Model)
	model, found := t.lookup(modelID)

	var budget *int
	if found {
		budget = thinkingBudget(req.Thinking, model)
	}
	interleaved := t.isClaude(modelID) && budget != nil && *budget > 0

	out := &openai.ChatRequest{
		Model:          modelID,
		Messages:       t.chatMessages(req, modelID, interleaved),
		Stop:           req.StopSequences,
		Stream:         req.Stream,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		Tools:          chatTools(req.Tools),
		ToolChoice:     chatToolChoice(req.ToolChoice),
		ThinkingBudget: budget,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = anthropic.Int(req.MaxTokens)
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}
	return out
}

// thinkingBudget clamps the requested budget into the model's range. It is
// nil when the model has no thinking budget or none was requested.
func thinkingBudget(thinking *anthropic.ThinkingConfig, model models.Model) *int {
	if thinking == nil || thinking.BudgetTokens == nil {
		return nil
	}
	supports := model.Capabilities.Supports

	maxBudget := 0
	if supports.MaxThinkingBudget != nil {
		maxBudget = *supports.MaxThinkingBudget
	}
	maxBudget = min(maxBudget, model.Capabilities.Limits.MaxOutputTokens-1)
	if maxBudget <= 0 {
		return nil
	}

	minBudget := DefaultMinThinkingBudget
	if supports.MinThinkingBudget != nil {
		minBudget = *supports.MinThinkingBudget
	}
	budget := max(min(*thinking.BudgetTokens, maxBudget), minBudget)
	return &budget
}

func (t *Translator) chatMessages(req *anthropic.MessagesRequest, modelID string, interleaved bool) []openai.ChatMessage {
	var out []openai.ChatMessage
	if sys := systemMessage(req.System, interleaved); sys != nil {
		out = append(out, *sys)
	}

	start := len(out)
	for _, msg := range req.Messages {
		if msg.Role == anthropic.RoleUser {
			out = append(out, userMessages(msg)...)
		} else {
			out = append(out, t.assistantMessage(msg, modelID))
		}
	}

	if interleaved {
		for i := start; i < len(out); i++ {
			if out[i].Role == openai.RoleUser {
				prependReminder(&out[i])
				break
			}
		}
	}
	return out
}

func systemMessage(system *anthropic.Content, interleaved bool) *openai.ChatMessage {
	if system == nil {
		return nil
	}
	suffix := ""
	if interleaved {
		suffix = interleavedThinkingProtocol
	}

	if system.IsText {
		if system.Text == "" {
			return nil
		}
		return &openai.ChatMessage{Role: openai.RoleSystem, Content: openai.TextContent(system.Text + suffix)}
	}
	if len(system.Blocks) == 0 {
		return nil
	}
	texts := make([]string, len(system.Blocks))
	for i, block := range system.Blocks {
		texts[i] = block.Text
		if i == 0 {
			texts[i] += suffix
		}
	}
	return &openai.ChatMessage{Role: openai.RoleSystem, Content: openai.TextContent(strings.Join(texts, "\n\n"))}
}

func prependReminder(msg *openai.ChatMessage) {
	switch {
	case msg.Content == nil:
	case msg.Content.IsParts:
		parts := append([]openai.ContentPart{{Type: openai.PartText, Text: interleavedThinkingReminder}}, msg.Content.Parts...)
		msg.Content = openai.PartsContent(parts)
	default:
		msg.Content = openai.TextContent(interleavedThinkingReminder + "\n\n" + msg.Content.Text)
	}
}

// userMessages flattens a user turn. Tool results become tool messages and
// come first; the remaining blocks form one user message.
func userMessages(msg anthropic.Message) []openai.ChatMessage {
	if msg.Content.IsText {
		return []openai.ChatMessage{{Role: openai.RoleUser, Content: chatContent(msg.Content)}}
	}

	var out []openai.ChatMessage
	var rest []anthropic.ContentBlock
	for _, block := range msg.Content.Blocks {
		if block.Type != anthropic.BlockToolResult {
			rest = append(rest, block)
			continue
		}
		var content *openai.ChatContent
		if block.Content != nil {
			content = chatContent(*block.Content)
		}
		out = append(out, openai.ChatMessage{
			Role:       openai.RoleTool,
			ToolCallID: block.ToolUseID,
			Content:    content,
		})
	}
	if len(rest) > 0 {
		out = append(out, openai.ChatMessage{Role: openai.RoleUser, Content: chatContent(anthropic.BlocksContent(rest...))})
	}
	return out
}

func (t *Translator) assistantMessage(msg anthropic.Message, modelID string) openai.ChatMessage {
	out := openai.ChatMessage{Role: openai.RoleAssistant, Content: chatContent(msg.Content)}
	if msg.Content.IsText {
		return out
	}

	var thinking []anthropic.ContentBlock
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockThinking:
			if t.isClaude(modelID) && !claudeCompatibleThinking(block) {
				continue
			}
			thinking = append(thinking, block)
		case anthropic.BlockToolUse:
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: compactJSON(block.Input),
				},
			})
		}
	}

	var texts []string
	for _, block := range thinking {
		if block.Thinking != "" && block.Thinking != ThinkingPlaceholder {
			texts = append(texts, block.Thinking)
		}
	}
	if len(texts) > 0 {
		out.ReasoningText = anthropic.String(strings.Join(texts, "\n\n"))
	}
	for _, block := range thinking {
		if block.Signature != "" {
			out.ReasoningOpaque = anthropic.String(block.Signature)
			break
		}
	}
	return out
}

// claudeCompatibleThinking keeps only real, signed thinking. Signatures
// containing "@" were minted by the Responses path and are meaningless to
// Claude models.
func claudeCompatibleThinking(block anthropic.ContentBlock) bool {
	return block.Thinking != "" &&
		block.Thinking != ThinkingPlaceholder &&
		block.Signature != "" &&
		!strings.Contains(block.Signature, "@")
}

// chatContent maps Anthropic content to Chat content: strings pass
// through, text-only blocks join with blank lines and anything with an
// image becomes a parts list.
func chatContent(c anthropic.Content) *openai.ChatContent {
	if c.IsText {
		return openai.TextContent(c.Text)
	}

	hasImage := false
	for _, block := range c.Blocks {
		if block.Type == anthropic.BlockImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		var texts []string
		for _, block := range c.Blocks {
			if block.Type == anthropic.BlockText {
				texts = append(texts, block.Text)
			}
		}
		return openai.TextContent(strings.Join(texts, "\n\n"))
	}

	parts := make([]openai.ContentPart, 0, len(c.Blocks))
	for _, block := range c.Blocks {
		switch block.Type {
		case anthropic.BlockText:
			parts = append(parts, openai.ContentPart{Type: openai.PartText, Text: block.Text})
		case anthropic.BlockImage:
			if block.Source == nil {
				continue
			}
			parts = append(parts, openai.ContentPart{
				Type:     openai.PartImageURL,
				ImageURL: &openai.ImageURL{URL: dataURL(block.Source)},
			})
		}
	}
	return openai.PartsContent(parts)
}

func dataURL(src *anthropic.ImageSource) string {
	if src.Type == anthropic.ImageSourceURL {
		return src.URL
	}
	return "data:" + src.MediaType + ";base64," + src.Data
}

func chatTools(tools []anthropic.Tool) []openai.ChatTool {
	if tools == nil {
		return nil
	}
	out := make([]openai.ChatTool, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatTool{
			Type: "function",
			Function: openai.FunctionSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return out
}

func chatToolChoice(choice *anthropic.ToolChoice) json.RawMessage {
	if choice == nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		if choice.Name == "" {
			return nil
		}
		data, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		})
		return data
	}
	return nil
}

// FromChat converts a Chat Completions response into an Anthropic
// response, merging the content of every choice.
func (t *Translator) FromChat(resp *openai.ChatResponse) *anthropic.Response {
	blocks := []anthropic.ContentBlock{}
	var stopReason *string
	if len(resp.Choices) > 0 {
		stopReason = resp.Choices[0].FinishReason
	}

	for _, choice := range resp.Choices {
		msg := choice.Message
		blocks = append(blocks, thinkingBlocks(msg.ReasoningText, msg.ReasoningOpaque)...)
		blocks = append(blocks, textBlocks(msg.Content)...)
		for _, call := range msg.ToolCalls {
			blocks = append(blocks, anthropic.ToolUseBlock(call.ID, call.Function.Name, t.parseArguments(call.Function.Arguments)))
		}

		isToolCalls := choice.FinishReason != nil && *choice.FinishReason == openai.FinishToolCalls
		isStop := stopReason != nil && *stopReason == openai.FinishStop
		if isToolCalls || isStop {
			stopReason = choice.FinishReason
		}
	}

	return &anthropic.Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       anthropic.RoleAssistant,
		Model:      resp.Model,
		Content:    blocks,
		StopReason: ConvertStopReason(stopReason),
		Usage:      chatUsage(resp.Usage),
	}
}

func chatUsage(u *openai.ChatUsage) anthropic.Usage {
	if u == nil {
		return anthropic.Usage{}
	}
	usage := anthropic.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if cached, ok := u.CachedTokens(); ok {
		usage.InputTokens -= cached
		usage.CacheReadInputTokens = anthropic.Int(cached)
	}
	return usage
}

func thinkingBlocks(text, opaque *string) []anthropic.ContentBlock {
	signature := ""
	if opaque != nil {
		signature = *opaque
	}
	switch {
	case text != nil && *text != "":
		return []anthropic.ContentBlock{anthropic.ThinkingBlock(*text, signature)}
	case signature != "":
		return []anthropic.ContentBlock{anthropic.ThinkingBlock(ThinkingPlaceholder, signature)}
	}
	return nil
}

func textBlocks(content *openai.ChatContent) []anthropic.ContentBlock {
	if content == nil {
		return nil
	}
	if !content.IsParts {
		if content.Text == "" {
			return nil
		}
		return []anthropic.ContentBlock{anthropic.TextBlock(content.Text)}
	}
	var out []anthropic.ContentBlock
	for _, part := range content.Parts {
		if part.Type == openai.PartText {
			out = append(out, anthropic.TextBlock(part.Text))
		}
	}
	return out
}

// parseArguments turns a tool-call argument string into a tool_use input
// object. Empty arguments become {}, arrays are wrapped under "arguments"
// and anything unparsable is kept verbatim under "raw_arguments".
func (t *Translator) parseArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch v.(type) {
		case map[string]any:
			return json.RawMessage(compactJSON(json.RawMessage(trimmed)))
		case []any:
			data, _ := json.Marshal(map[string]json.RawMessage{"arguments": json.RawMessage(compactJSON(json.RawMessage(trimmed)))})
			return data
		}
	} else {
		t.opts.Logger.Warn("Failed to parse function call arguments", "error", err, "raw_arguments", raw)
	}

	data, _ := json.Marshal(map[string]string{"raw_arguments": raw})
	return data
}

func compactJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
