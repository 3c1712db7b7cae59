package settings

import (
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/pkg/errors"
)

var ErrUnknownModel = errors.New("unknown model")

// ModelEntry maps a user facing model name to a provider and the model
// identifier that provider expects.
type ModelEntry struct {
	Name    string        `yaml:"name"`
	ApiType types.ApiType `yaml:"api_type"`
	// Engine is the provider side model id. Defaults to Name.
	Engine string `yaml:"engine,omitempty"`
}

func (m ModelEntry) GetEngine() string {
	if m.Engine != "" {
		return m.Engine
	}
	return m.Name
}

type Catalog []ModelEntry

func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "llama3.1:8b", ApiType: types.ApiTypeOllama},
		{Name: "deepseek-r1:8b", ApiType: types.ApiTypeOllama},
		{Name: "gemma3:12b", ApiType: types.ApiTypeOllama},
		{Name: "deepseek", ApiType: types.ApiTypeDeepSeek, Engine: "deepseek-chat"},
		{Name: "gemini", ApiType: types.ApiTypeGemini, Engine: "gemini-pro"},
		{Name: "openai", ApiType: types.ApiTypeOpenAI, Engine: "gpt-3.5-turbo"},
		{Name: "claude", ApiType: types.ApiTypeClaude, Engine: "claude-3-5-haiku-latest"},
	}
}

func (c Catalog) Lookup(name string) (ModelEntry, error) {
	for _, e := range c {
		if e.Name == name {
			return e, nil
		}
	}
	return ModelEntry{}, errors.Wrapf(ErrUnknownModel, "%q", name)
}

func (c Catalog) Names() []string {
	ret := make([]string, 0, len(c))
	for _, e := range c {
		ret = append(ret, e.Name)
	}
	return ret
}

func (c Catalog) Validate() error {
	seen := map[string]bool{}
	for i, e := range c {
		if e.Name == "" {
			return errors.Errorf("model entry %d has no name", i)
		}
		if seen[e.Name] {
			return errors.Errorf("duplicate model entry %q", e.Name)
		}
		seen[e.Name] = true
		if _, ok := types.ParseApiType(string(e.ApiType)); !ok {
			return errors.Errorf("model %q has unknown api type %q", e.Name, e.ApiType)
		}
	}
	return nil
}
