// Package richtext decodes thread and comment bodies. Bodies arrive either as
// Quill delta JSON or as plain markdown text; both reduce to plaintext for
// search indexing and to HTML for notification previews.
package richtext

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// delta is the Quill document shape: a flat list of insert operations.
type delta struct {
	Ops []op `json:"ops"`
}

type op struct {
	Insert     any            `json:"insert"`
	Attributes map[string]any `json:"attributes"`
}

// IsDelta reports whether the body parses as a Quill delta.
func IsDelta(body string) bool {
	_, ok := parseDelta(body)
	return ok
}

func parseDelta(body string) (delta, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return delta{}, false
	}
	var d delta
	if err := json.Unmarshal([]byte(trimmed), &d); err != nil {
		return delta{}, false
	}
	if d.Ops == nil {
		return delta{}, false
	}
	return d, true
}

// ToPlaintext reduces a body to plain text. Quill deltas have their insert
// runs concatenated; anything else is treated as already plain.
func ToPlaintext(body string) string {
	d, ok := parseDelta(body)
	if !ok {
		return strings.TrimSpace(body)
	}

	var sb strings.Builder
	for _, o := range d.Ops {
		switch v := o.Insert.(type) {
		case string:
			sb.WriteString(v)
		case map[string]any:
			// Embeds (mentions, images) contribute their text form if any.
			if mention, ok := v["mention"].(map[string]any); ok {
				if value, ok := mention["value"].(string); ok {
					sb.WriteString("@" + value)
				}
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// Preview returns the first n runes of the plaintext form, for webhook and
// email snippets.
func Preview(body string, n int) string {
	text := ToPlaintext(body)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// ToHTML renders a body to HTML. Deltas render run by run with their
// formatting attributes; plain text becomes escaped paragraphs.
func ToHTML(body string) string {
	d, ok := parseDelta(body)
	if !ok {
		return plainToHTML(body)
	}

	var sb strings.Builder
	var line strings.Builder
	flush := func() {
		sb.WriteString("<p>" + line.String() + "</p>\n")
		line.Reset()
	}

	for _, o := range d.Ops {
		text, ok := o.Insert.(string)
		if !ok {
			continue
		}
		for {
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				line.WriteString(renderRun(text, o.Attributes))
				break
			}
			line.WriteString(renderRun(text[:idx], o.Attributes))
			flush()
			text = text[idx+1:]
		}
	}
	if line.Len() > 0 {
		flush()
	}
	return sb.String()
}

func plainToHTML(body string) string {
	var sb strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>")
		sb.WriteString("<p>" + escaped + "</p>\n")
	}
	return sb.String()
}

// renderRun renders one text run with its formatting attributes, innermost
// first.
func renderRun(text string, attrs map[string]any) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	if attrs == nil {
		return out
	}

	if v, ok := attrs["code"].(bool); ok && v {
		out = fmt.Sprintf("<code>%s</code>", out)
	}
	if v, ok := attrs["bold"].(bool); ok && v {
		out = fmt.Sprintf("<strong>%s</strong>", out)
	}
	if v, ok := attrs["italic"].(bool); ok && v {
		out = fmt.Sprintf("<em>%s</em>", out)
	}
	if v, ok := attrs["strike"].(bool); ok && v {
		out = fmt.Sprintf("<s>%s</s>", out)
	}
	if v, ok := attrs["underline"].(bool); ok && v {
		out = fmt.Sprintf("<u>%s</u>", out)
	}
	if href, ok := attrs["link"].(string); ok && href != "" {
		out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
	}
	return out
}
