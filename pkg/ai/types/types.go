package types

import "strings"

type ApiType string

const (
	ApiTypeOllama   ApiType = "ollama"
	ApiTypeOpenAI   ApiType = "openai"
	ApiTypeDeepSeek ApiType = "deepseek"
	ApiTypeGemini   ApiType = "gemini"
	ApiTypeClaude   ApiType = "claude"
)

// ProviderKind distinguishes a locally hosted runtime from remote HTTP APIs.
type ProviderKind string

const (
	ProviderKindLocalRuntime ProviderKind = "local-runtime"
	ProviderKindRemoteAPI    ProviderKind = "remote-api"
)

func (a ApiType) ProviderKind() ProviderKind {
	if a == ApiTypeOllama {
		return ProviderKindLocalRuntime
	}
	return ProviderKindRemoteAPI
}

// ParseApiType normalizes an api type name. "anthropic" is accepted as an alias for claude.
func ParseApiType(s string) (ApiType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ApiTypeOllama, true
	case "openai":
		return ApiTypeOpenAI, true
	case "deepseek":
		return ApiTypeDeepSeek, true
	case "gemini", "google":
		return ApiTypeGemini, true
	case "claude", "anthropic":
		return ApiTypeClaude, true
	}
	return "", false
}

func AllApiTypes() []ApiType {
	return []ApiType{ApiTypeOllama, ApiTypeOpenAI, ApiTypeDeepSeek, ApiTypeGemini, ApiTypeClaude}
}
