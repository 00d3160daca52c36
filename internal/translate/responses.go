package translate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

var (
	safetyIdentifierPattern = regexp.MustCompile(`user_([^_]+)_account`)
	promptCacheKeyPattern   = regexp.MustCompile(`_session_(.+)$`)
)

// ToResponses converts an Anthropic Messages request into a Responses
// request.
func (t *Translator) ToResponses(req *anthropic.MessagesRequest) *openai.ResponsesRequest {
	var input []openai.InputItem
	for _, msg := range req.Messages {
		if msg.Role == anthropic.RoleUser {
			input = append(input, userItems(msg)...)
		} else {
			input = append(input, assistantItems(msg)...)
		}
	}
	if input == nil {
		input = []openai.InputItem{}
	}

	temperature := 1.0
	out := &openai.ResponsesRequest{
		Model:             req.Model,
		Input:             input,
		Instructions:      t.instructions(req.System, req.Model),
		Temperature:       &temperature,
		TopP:              req.TopP,
		MaxOutputTokens:   max(req.MaxTokens, t.opts.MinOutputTokens),
		Tools:             responsesTools(req.Tools),
		ToolChoice:        responsesToolChoice(req.ToolChoice),
		Stream:            req.Stream,
		Store:             false,
		ParallelToolCalls: true,
		Reasoning: &openai.Reasoning{
			Effort:  t.ReasoningEffort(req.Model),
			Summary: "detailed",
		},
		Include: []string{"reasoning.encrypted_content"},
	}

	if req.Metadata != nil {
		out.Metadata = map[string]string{"user_id": req.Metadata.UserID}
		out.SafetyIdentifier, out.PromptCacheKey = ParseUserID(req.Metadata.UserID)
	}
	return out
}

// ParseUserID extracts the safety identifier and prompt cache key that
// agent clients embed in metadata.user_id.
func ParseUserID(userID string) (safetyIdentifier, promptCacheKey *string) {
	if userID == "" {
		return nil, nil
	}
	if m := safetyIdentifierPattern.FindStringSubmatch(userID); m != nil {
		safetyIdentifier = &m[1]
	}
	if m := promptCacheKeyPattern.FindStringSubmatch(userID); m != nil {
		promptCacheKey = &m[1]
	}
	return safetyIdentifier, promptCacheKey
}

func (t *Translator) instructions(system *anthropic.Content, model string) *string {
	if system == nil {
		return nil
	}
	extra := t.ExtraPrompt(model)
	if system.IsText {
		if system.Text == "" {
			return nil
		}
		return anthropic.String(system.Text + extra)
	}

	texts := make([]string, len(system.Blocks))
	for i, block := range system.Blocks {
		texts[i] = block.Text
		if i == 0 {
			texts[i] += extra
		}
	}
	text := strings.Join(texts, " ")
	if text == "" {
		return nil
	}
	return &text
}

// itemBuilder accumulates message content and flushes it as one message
// item whenever a standalone item has to be emitted in between.
type itemBuilder struct {
	role    string
	items   []openai.InputItem
	pending []openai.InputPart
}

func (b *itemBuilder) add(part openai.InputPart) {
	b.pending = append(b.pending, part)
}

func (b *itemBuilder) flush() {
	if len(b.pending) == 0 {
		return
	}
	b.items = append(b.items, openai.InputItem{
		Type:    openai.ItemMessage,
		Role:    b.role,
		Content: openai.InputParts(b.pending),
	})
	b.pending = nil
}

func (b *itemBuilder) emit(item openai.InputItem) {
	b.flush()
	b.items = append(b.items, item)
}

func (b *itemBuilder) done() []openai.InputItem {
	b.flush()
	return b.items
}

func userItems(msg anthropic.Message) []openai.InputItem {
	if msg.Content.IsText {
		return []openai.InputItem{textMessage(openai.RoleUser, msg.Content.Text)}
	}

	b := &itemBuilder{role: openai.RoleUser}
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockToolResult:
			status := openai.StatusCompleted
			if block.IsError {
				status = openai.StatusIncomplete
			}
			b.emit(openai.InputItem{
				Type:   openai.ItemFunctionCallOutput,
				CallID: block.ToolUseID,
				Output: toolResultOutput(block.Content),
				Status: status,
			})
		case anthropic.BlockText:
			b.add(openai.InputPart{Type: openai.PartInputText, Text: block.Text})
		case anthropic.BlockImage:
			if block.Source != nil {
				b.add(imagePart(block.Source))
			}
		}
	}
	return b.done()
}

func assistantItems(msg anthropic.Message) []openai.InputItem {
	if msg.Content.IsText {
		return []openai.InputItem{textMessage(openai.RoleAssistant, msg.Content.Text)}
	}

	b := &itemBuilder{role: openai.RoleAssistant}
	for _, block := range msg.Content.Blocks {
		switch {
		case block.Type == anthropic.BlockToolUse:
			b.emit(openai.InputItem{
				Type:      openai.ItemFunctionCall,
				CallID:    block.ID,
				Name:      block.Name,
				Arguments: compactJSON(block.Input),
				Status:    openai.StatusCompleted,
			})
		case block.Type == anthropic.BlockThinking && strings.Contains(block.Signature, "@"):
			b.emit(reasoningItem(block))
		case block.Type == anthropic.BlockText:
			b.add(openai.InputPart{Type: openai.PartOutputText, Text: block.Text})
		}
	}
	return b.done()
}

func textMessage(role, text string) openai.InputItem {
	return openai.InputItem{Type: openai.ItemMessage, Role: role, Content: openai.InputText(text)}
}

func imagePart(src *anthropic.ImageSource) openai.InputPart {
	return openai.InputPart{Type: openai.PartInputImage, ImageURL: dataURL(src), Detail: "auto"}
}

// reasoningItem splits a "ciphertext@id" signature back into the reasoning
// item it was minted from.
func reasoningItem(block anthropic.ContentBlock) openai.InputItem {
	parts := strings.Split(block.Signature, "@")
	item := openai.InputItem{
		Type:             openai.ItemReasoning,
		ID:               parts[1],
		EncryptedContent: parts[0],
		Summary:          []openai.SummaryPart{},
	}
	if block.Thinking != "" && block.Thinking != ThinkingPlaceholder {
		item.Summary = []openai.SummaryPart{{Type: openai.PartSummaryText, Text: block.Thinking}}
	}
	return item
}

func toolResultOutput(content *anthropic.Content) *openai.InputContent {
	if content == nil {
		return openai.InputText("")
	}
	if content.IsText {
		return openai.InputText(content.Text)
	}
	parts := []openai.InputPart{}
	for _, block := range content.Blocks {
		switch block.Type {
		case anthropic.BlockText:
			parts = append(parts, openai.InputPart{Type: openai.PartInputText, Text: block.Text})
		case anthropic.BlockImage:
			if block.Source != nil {
				parts = append(parts, imagePart(block.Source))
			}
		}
	}
	return openai.InputParts(parts)
}

func responsesTools(tools []anthropic.Tool) []openai.ResponsesTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ResponsesTool, len(tools))
	for i, tool := range tools {
		out[i] = openai.ResponsesTool{
			Type:        "function",
			Name:        tool.Name,
			Parameters:  tool.InputSchema,
			Strict:      false,
			Description: tool.Description,
		}
	}
	return out
}

func responsesToolChoice(choice *anthropic.ToolChoice) json.RawMessage {
	auto := json.RawMessage(`"auto"`)
	if choice == nil {
		return auto
	}
	switch choice.Type {
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		if choice.Name == "" {
			return auto
		}
		data, _ := json.Marshal(map[string]string{"type": "function", "name": choice.Name})
		return data
	}
	return auto
}

// FromResponses converts a complete Responses result into an Anthropic
// response.
func (t *Translator) FromResponses(res *openai.ResponsesResult) *anthropic.Response {
	blocks := t.outputBlocks(res.Output)
	if len(blocks) == 0 {
		blocks = []anthropic.ContentBlock{}
		if res.OutputText != "" {
			blocks = append(blocks, anthropic.TextBlock(res.OutputText))
		}
	}

	return &anthropic.Response{
		ID:         res.ID,
		Type:       "message",
		Role:       anthropic.RoleAssistant,
		Model:      res.Model,
		Content:    blocks,
		StopReason: ResponsesStopReason(res),
		Usage:      responsesUsage(res.Usage),
	}
}

func (t *Translator) outputBlocks(output []openai.OutputItem) []anthropic.ContentBlock {
	var blocks []anthropic.ContentBlock
	for _, item := range output {
		switch item.Type {
		case openai.ItemReasoning:
			if text := ReasoningText(item); text != "" {
				blocks = append(blocks, anthropic.ThinkingBlock(text, ReasoningSignature(item)))
			}
		case openai.ItemFunctionCall:
			if item.Name == "" || item.CallID == "" {
				continue
			}
			blocks = append(blocks, anthropic.ToolUseBlock(item.CallID, item.Name, t.parseArguments(item.Arguments)))
		default:
			if text := combinedText(item.Content); text != "" {
				blocks = append(blocks, anthropic.TextBlock(text))
			}
		}
	}
	return blocks
}

// ReasoningText joins a reasoning item's summary. An item without summary
// parts yields the placeholder.
func ReasoningText(item openai.OutputItem) string {
	if len(item.Summary) == 0 {
		return ThinkingPlaceholder
	}
	var sb strings.Builder
	for _, part := range item.Summary {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

// ReasoningSignature packs the encrypted content and item id into one
// thinking signature.
func ReasoningSignature(item openai.OutputItem) string {
	return item.EncryptedContent + "@" + item.ID
}

func combinedText(content []openai.OutputContent) string {
	var sb strings.Builder
	for _, c := range content {
		switch {
		case c.Type == openai.PartOutputText:
			sb.WriteString(c.Text)
		case c.Type == openai.PartRefusal:
			sb.WriteString(c.Refusal)
		case c.Text != "":
			sb.WriteString(c.Text)
		default:
			sb.WriteString(c.Reasoning)
		}
	}
	return sb.String()
}

// ResponsesStopReason derives the Anthropic stop reason from a result's
// status.
func ResponsesStopReason(res *openai.ResponsesResult) *string {
	switch res.Status {
	case openai.StatusCompleted:
		for _, item := range res.Output {
			if item.Type == openai.ItemFunctionCall {
				return anthropic.String(anthropic.StopToolUse)
			}
		}
		return anthropic.String(anthropic.StopEndTurn)
	case openai.StatusIncomplete:
		if res.IncompleteDetails == nil {
			return nil
		}
		switch res.IncompleteDetails.Reason {
		case "max_output_tokens":
			return anthropic.String(anthropic.StopMaxTokens)
		case "content_filter":
			return anthropic.String(anthropic.StopEndTurn)
		}
	}
	return nil
}

func responsesUsage(u *openai.ResponsesUsage) anthropic.Usage {
	if u == nil {
		return anthropic.Usage{}
	}
	usage := anthropic.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if cached, ok := u.CachedTokens(); ok {
		usage.InputTokens -= cached
		usage.CacheReadInputTokens = anthropic.Int(cached)
	}
	return usage
}
