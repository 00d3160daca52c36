// Package models keeps the upstream model catalogue and decides which wire
// protocol a request for a given model is forwarded in.
package models

import (
	"slices"
	"sync"
)

// Upstream endpoints a model may advertise support for
const (
	EndpointMessages  = "/v1/messages"
	EndpointResponses = "/responses"
	EndpointChat      = "/chat/completions"
)

// Route is the upstream protocol chosen for a model.
type Route int

const (
	RouteChat Route = iota
	RouteResponses
	RouteMessages
)

func (r Route) String() string {
	switch r {
	case RouteMessages:
		return "messages"
	case RouteResponses:
		return "responses"
	default:
		return "chat"
	}
}

// Model describes an upstream model as reported by the /models endpoint.
type Model struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name,omitempty"`
	Object             string       `json:"object,omitempty"`
	Vendor             string       `json:"vendor,omitempty"`
	Version            string       `json:"version,omitempty"`
	Preview            bool         `json:"preview,omitempty"`
	ModelPickerEnabled bool         `json:"model_picker_enabled,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	SupportedEndpoints []string     `json:"supported_endpoints,omitempty"`
}

type Capabilities struct {
	Family    string   `json:"family,omitempty"`
	Object    string   `json:"object,omitempty"`
	Type      string   `json:"type,omitempty"`
	Tokenizer string   `json:"tokenizer,omitempty"`
	Limits    Limits   `json:"limits"`
	Supports  Supports `json:"supports"`
}

type Limits struct {
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty"`
	MaxOutputTokens        int `json:"max_output_tokens,omitempty"`
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty"`
	MaxInputs              int `json:"max_inputs,omitempty"`
}

type Supports struct {
	ToolCalls         bool `json:"tool_calls,omitempty"`
	ParallelToolCalls bool `json:"parallel_tool_calls,omitempty"`
	Streaming         bool `json:"streaming,omitempty"`
	Vision            bool `json:"vision,omitempty"`
	MaxThinkingBudget *int `json:"max_thinking_budget,omitempty"`
	MinThinkingBudget *int `json:"min_thinking_budget,omitempty"`
}

// List is the body of GET /models.
type List struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Supports reports whether the model advertises the given endpoint.
func (m Model) Supports(endpoint string) bool {
	return slices.Contains(m.SupportedEndpoints, endpoint)
}

// Route picks the native Messages endpoint when available, then Responses,
// then Chat Completions.
func (m Model) Route() Route {
	switch {
	case m.Supports(EndpointMessages):
		return RouteMessages
	case m.Supports(EndpointResponses):
		return RouteResponses
	default:
		return RouteChat
	}
}

// Registry is a concurrency-safe model catalogue.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]Model),
	}
}

// Register adds or replaces a model
func (r *Registry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = m
}

// Replace swaps the whole catalogue, keeping the given order.
func (r *Registry) Replace(list []Model) {
	models := make(map[string]Model, len(list))
	order := make([]string, 0, len(list))
	for _, m := range list {
		if _, exists := models[m.ID]; !exists {
			order = append(order, m.ID)
		}
		models[m.ID] = m
	}

	r.mu.Lock()
	r.models, r.order = models, order
	r.mu.Unlock()
}

// Get retrieves a model by id
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.models[id]
	return m, exists
}

// Route returns the upstream protocol for id. Unknown models go to Chat.
func (r *Registry) Route(id string) Route {
	m, ok := r.Get(id)
	if !ok {
		return RouteChat
	}
	return m.Route()
}

// List returns all models in registration order
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
