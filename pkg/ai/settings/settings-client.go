package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type ClientSettings struct {
	// Timeout bounds the wait for response headers. Streaming bodies are not
	// cut off by it.
	Timeout        *time.Duration `yaml:"timeout,omitempty"`
	TimeoutSeconds *int           `yaml:"timeout_second,omitempty"`
	UserAgent      *string        `yaml:"user_agent,omitempty"`
}

// UnmarshalYAML reads timeout as an integer number of seconds.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	aux := &struct {
		Timeout        *int    `yaml:"timeout,omitempty"`
		TimeoutSeconds *int    `yaml:"timeout_second,omitempty"`
		UserAgent      *string `yaml:"user_agent,omitempty"`
	}{}
	if err := value.Decode(aux); err != nil {
		return err
	}
	seconds := aux.Timeout
	if seconds == nil {
		seconds = aux.TimeoutSeconds
	}
	if seconds != nil {
		t := time.Duration(*seconds) * time.Second
		cs.Timeout = &t
		cs.TimeoutSeconds = seconds
	}
	if aux.UserAgent != nil {
		cs.UserAgent = aux.UserAgent
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := 120 * time.Second
	return &ClientSettings{
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// HTTPClient builds the client handed to the provider SDKs.
func (cs *ClientSettings) HTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cs != nil && cs.Timeout != nil {
		transport.ResponseHeaderTimeout = *cs.Timeout
	}
	var rt http.RoundTripper = transport
	if cs != nil && cs.UserAgent != nil && *cs.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: *cs.UserAgent}
	}
	return &http.Client{Transport: rt}
}
