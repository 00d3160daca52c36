package upstream

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL       = "https://api.githubcopilot.com"
	DefaultVSCodeVersion = "1.104.1"

	copilotChatVersion = "0.26.7"
	githubAPIVersion   = "2025-04-01"
	userAgent          = "GitHubCopilotChat/" + copilotChatVersion

	InitiatorUser  = "user"
	InitiatorAgent = "agent"
)

// BaseURLFor returns the Copilot API base for an account type. Individual
// accounts use the shared host, business and enterprise get their own.
func BaseURLFor(accountType string) string {
	if accountType == "" || accountType == "individual" {
		return DefaultBaseURL
	}
	return "https://api." + accountType + ".githubcopilot.com"
}

// GitHubHeaders are sent to api.github.com when exchanging the GitHub
// token for a Copilot token.
func GitHubHeaders(vscodeVersion string) http.Header {
	h := editorHeaders(vscodeVersion)
	h.Set("X-GitHub-Api-Version", githubAPIVersion)
	h.Set("X-Vscode-User-Agent-Library-Version", "electron-fetch")
	return h
}

func editorHeaders(vscodeVersion string) http.Header {
	if vscodeVersion == "" {
		vscodeVersion = DefaultVSCodeVersion
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("Editor-Version", "vscode/"+vscodeVersion)
	h.Set("Editor-Plugin-Version", "copilot-chat/"+copilotChatVersion)
	h.Set("User-Agent", userAgent)
	return h
}

// copilotHeaders builds the headers for one Copilot API call.
func copilotHeaders(token, vscodeVersion string, opts RequestOptions) http.Header {
	h := editorHeaders(vscodeVersion)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Copilot-Integration-Id", "vscode-chat")
	h.Set("Openai-Intent", "conversation-panel")
	h.Set("X-Github-Api-Version", githubAPIVersion)
	h.Set("X-Request-Id", uuid.NewString())
	h.Set("X-Vscode-User-Agent-Library-Version", "electron-fetch")

	if opts.Vision {
		h.Set("Copilot-Vision-Request", "true")
	}
	if opts.Initiator != "" {
		h.Set("X-Initiator", opts.Initiator)
	}
	if opts.AnthropicBeta != "" {
		h.Set("Anthropic-Beta", opts.AnthropicBeta)
	}
	if opts.Stream {
		h.Set("Accept", "text/event-stream")
	}
	return h
}
