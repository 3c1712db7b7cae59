package security

import (
	"testing"

	"github.com/pkg/errors"
)

func TestValidateBaseURLAcceptsHTTPS(t *testing.T) {
	for _, u := range []string{
		"https://api.openai.com/v1",
		"https://api.anthropic.com/",
		"https://10.0.0.8:8443/v1",
	} {
		if err := ValidateBaseURL(u); err != nil {
			t.Fatalf("expected %s to be accepted: %v", u, err)
		}
	}
}

func TestValidateBaseURLAllowsPlainHTTPOnlyLocally(t *testing.T) {
	for _, u := range []string{
		"http://localhost:1234/v1",
		"http://127.0.0.1:8080",
		"http://192.168.1.20:8000/v1",
		"http://[::1]:9000",
		"http://llm.local/v1",
	} {
		if err := ValidateBaseURL(u); err != nil {
			t.Fatalf("expected %s to be accepted: %v", u, err)
		}
	}

	err := ValidateBaseURL("http://api.deepseek.com/v1")
	if !errors.Is(err, ErrUnsafeBaseURL) {
		t.Fatalf("expected plain http to a public host to be rejected, got %v", err)
	}
}

func TestValidateBaseURLRejectsMalformed(t *testing.T) {
	for _, u := range []string{
		"ftp://api.openai.com",
		"https://",
		"api.openai.com/v1",
		"https://0.0.0.0/v1",
		"://nope",
	} {
		if err := ValidateBaseURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}
