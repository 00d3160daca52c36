// Package translate converts between the Anthropic Messages protocol and
// the OpenAI Chat Completions and Responses protocols, for whole payloads
// and for streams.
package translate

import (
	"log/slog"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/models"
)

// ThinkingPlaceholder stands in for reasoning whose text is unavailable.
// Some clients drop thinking blocks with empty text.
const ThinkingPlaceholder = "Thinking..."

const (
	DefaultClaudePrefix       = "claude"
	DefaultWhitespaceRunLimit = 20
	DefaultMinOutputTokens    = 12800
	DefaultMinThinkingBudget  = 1024
	DefaultReasoningEffort    = "high"
	XHighReasoningEffort      = "xhigh"

	interleavedThinkingReminder = "<system-reminder>you MUST follow interleaved_thinking_protocol</system-reminder>"
	interleavedThinkingProtocol = `
<interleaved_thinking_protocol>
ABSOLUTE REQUIREMENT - NON-NEGOTIABLE:
The current thinking_mode is interleaved, Whenever you have the result of a function call, think carefully , MUST output a thinking block
RULES:
Tool result → thinking block (ALWAYS, no exceptions)
This is NOT optional - it is a hard requirement
The thinking block must contain substantive reasoning (minimum 3-5 sentences)
Think about: what the results mean, what to do next, how to answer the user
NEVER skip this step, even if the result seems simple or obvious
</interleaved_thinking_protocol>`
)

// DefaultXHighEffortPrefixes are model prefixes that get the xhigh effort.
var DefaultXHighEffortPrefixes = []string{"gpt-5.1", "gpt-5.2"}

// ModelLookup resolves model capabilities by id.
type ModelLookup interface {
	Get(id string) (models.Model, bool)
}

// Options tunes the translators. Zero values fall back to the defaults.
type Options struct {
	Models              ModelLookup
	ClaudePrefix        string
	ExtraPrompts        map[string]string
	ReasoningEfforts    map[string]string
	XHighEffortPrefixes []string
	MinOutputTokens     int
	WhitespaceRunLimit  int
	Logger              *slog.Logger
}

// Translator holds the configuration shared by the non-stream
// translators and hands out stream states.
type Translator struct {
	opts Options
}

func New(opts Options) *Translator {
	if opts.ClaudePrefix == "" {
		opts.ClaudePrefix = DefaultClaudePrefix
	}
	if opts.XHighEffortPrefixes == nil {
		opts.XHighEffortPrefixes = DefaultXHighEffortPrefixes
	}
	if opts.MinOutputTokens <= 0 {
		opts.MinOutputTokens = DefaultMinOutputTokens
	}
	if opts.WhitespaceRunLimit <= 0 {
		opts.WhitespaceRunLimit = DefaultWhitespaceRunLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Translator{opts: opts}
}

func (t *Translator) isClaude(model string) bool {
	return strings.HasPrefix(model, t.opts.ClaudePrefix)
}

func (t *Translator) lookup(id string) (models.Model, bool) {
	if t.opts.Models == nil {
		return models.Model{}, false
	}
	return t.opts.Models.Get(id)
}

// ExtraPrompt returns the instructions suffix configured for a model.
func (t *Translator) ExtraPrompt(model string) string {
	return t.opts.ExtraPrompts[model]
}

// ReasoningEffort returns the configured effort for a model, falling back
// to xhigh for the newest model families and high otherwise.
func (t *Translator) ReasoningEffort(model string) string {
	if effort, ok := t.opts.ReasoningEfforts[model]; ok && effort != "" {
		return effort
	}
	for _, prefix := range t.opts.XHighEffortPrefixes {
		if strings.HasPrefix(model, prefix) {
			return XHighReasoningEffort
		}
	}
	return DefaultReasoningEffort
}

// NewResponsesStream returns a fresh per-request Responses stream state.
func (t *Translator) NewResponsesStream() *ResponsesStreamState {
	return NewResponsesStreamState(t.opts.WhitespaceRunLimit)
}
