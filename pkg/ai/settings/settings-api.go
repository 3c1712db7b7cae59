package settings

import (
	"os"

	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/huandu/go-clone"
)

// APISettings holds the credentials and endpoints of every provider, keyed
// as "<api-type>-api-key" and "<api-type>-base-url".
type APISettings struct {
	APIKeys  map[string]string `yaml:"api_keys,omitempty"`
	BaseUrls map[string]string `yaml:"base_urls,omitempty"`
}

func APIKeySlug(apiType types.ApiType) string {
	return string(apiType) + "-api-key"
}

func BaseURLSlug(apiType types.ApiType) string {
	return string(apiType) + "-base-url"
}

var defaultBaseUrls = map[types.ApiType]string{
	types.ApiTypeOllama:   "http://localhost:11434",
	types.ApiTypeOpenAI:   "https://api.openai.com/v1",
	types.ApiTypeDeepSeek: "https://api.deepseek.com/v1",
	types.ApiTypeGemini:   "https://generativelanguage.googleapis.com/",
	types.ApiTypeClaude:   "https://api.anthropic.com/",
}

// apiKeyEnvVars are the environment variables consulted when no key is configured.
var apiKeyEnvVars = map[types.ApiType]string{
	types.ApiTypeOpenAI:   "OPENAI_API_KEY",
	types.ApiTypeDeepSeek: "DEEPSEEK_API_KEY",
	types.ApiTypeGemini:   "GEMINI_API_KEY",
	types.ApiTypeClaude:   "ANTHROPIC_API_KEY",
}

func NewAPISettings() *APISettings {
	ret := &APISettings{
		APIKeys:  map[string]string{},
		BaseUrls: map[string]string{},
	}
	for apiType, url := range defaultBaseUrls {
		ret.BaseUrls[BaseURLSlug(apiType)] = url
	}
	return ret
}

func (a *APISettings) Clone() *APISettings {
	return clone.Clone(a).(*APISettings)
}

func (a *APISettings) APIKey(apiType types.ApiType) (string, bool) {
	k, ok := a.APIKeys[APIKeySlug(apiType)]
	return k, ok && k != ""
}

func (a *APISettings) BaseURL(apiType types.ApiType) string {
	if u, ok := a.BaseUrls[BaseURLSlug(apiType)]; ok && u != "" {
		return u
	}
	return defaultBaseUrls[apiType]
}

func (a *APISettings) SetAPIKey(apiType types.ApiType, key string) {
	if a.APIKeys == nil {
		a.APIKeys = map[string]string{}
	}
	a.APIKeys[APIKeySlug(apiType)] = key
}

func (a *APISettings) SetBaseURL(apiType types.ApiType, url string) {
	if a.BaseUrls == nil {
		a.BaseUrls = map[string]string{}
	}
	a.BaseUrls[BaseURLSlug(apiType)] = url
}

// LoadFromEnv fills in missing keys from the provider environment variables
// and the ollama host from OLLAMA_HOST.
func (a *APISettings) LoadFromEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for apiType, env := range apiKeyEnvVars {
		if _, ok := a.APIKey(apiType); ok {
			continue
		}
		if v, ok := lookup(env); ok && v != "" {
			a.SetAPIKey(apiType, v)
		}
	}
	if v, ok := lookup("OLLAMA_HOST"); ok && v != "" {
		if _, set := a.BaseUrls[BaseURLSlug(types.ApiTypeOllama)]; !set || a.BaseUrls[BaseURLSlug(types.ApiTypeOllama)] == defaultBaseUrls[types.ApiTypeOllama] {
			a.SetBaseURL(types.ApiTypeOllama, v)
		}
	}
}
