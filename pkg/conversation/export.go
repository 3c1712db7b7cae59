package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "txt"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

const exportTimeFormat = time.RFC3339

// ParseFormat accepts the format names and the usual file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "json":
		return FormatJSON, nil
	case "txt", "text", "plain":
		return FormatText, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
}

// Render serializes a conversation. Rendering is deterministic, exporting
// the same conversation twice yields identical output.
func Render(c *Conversation, format Format) (string, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatYAML:
		b, err := yaml.Marshal(c)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatText:
		return renderText(c), nil
	case FormatMarkdown:
		return renderMarkdown(c), nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", format)
}

func renderText(c *Conversation) string {
	lines := []string{
		fmt.Sprintf("Title: %s", c.Title),
		fmt.Sprintf("Created: %s", c.CreatedAt.Format(exportTimeFormat)),
		fmt.Sprintf("Updated: %s", c.UpdatedAt.Format(exportTimeFormat)),
	}
	if c.SystemPrompt != nil && *c.SystemPrompt != "" {
		lines = append(lines, fmt.Sprintf("System prompt: %s", *c.SystemPrompt))
	}
	lines = append(lines, strings.Repeat("=", 50))

	for _, m := range c.Messages {
		lines = append(lines,
			fmt.Sprintf("[%s] %s:", m.Timestamp.Format(exportTimeFormat), m.Role.Label()),
			m.Content,
			strings.Repeat("-", 30),
		)
	}
	return strings.Join(lines, "\n")
}

func renderMarkdown(c *Conversation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", c.Title)
	fmt.Fprintf(&sb, "- Created: %s\n", c.CreatedAt.Format(exportTimeFormat))
	fmt.Fprintf(&sb, "- Updated: %s\n", c.UpdatedAt.Format(exportTimeFormat))
	if c.ActiveModel != "" {
		fmt.Fprintf(&sb, "- Model: %s\n", c.ActiveModel)
	}
	if c.SystemPrompt != nil && *c.SystemPrompt != "" {
		fmt.Fprintf(&sb, "\n> %s\n", strings.ReplaceAll(*c.SystemPrompt, "\n", "\n> "))
	}
	for _, m := range c.Messages {
		fmt.Fprintf(&sb, "\n## %s (%s)\n\n%s\n", m.Role.Label(), m.Timestamp.Format(exportTimeFormat), m.Content)
	}
	return sb.String()
}
