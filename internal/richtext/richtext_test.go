package richtext

import (
	"strings"
	"testing"
)

func TestToPlaintextDelta(t *testing.T) {
	body := `{"ops":[{"insert":"Hello "},{"insert":"world","attributes":{"bold":true}},{"insert":"\n"}]}`
	if got := ToPlaintext(body); got != "Hello world" {
		t.Errorf("ToPlaintext = %q, want %q", got, "Hello world")
	}
}

func TestToPlaintextMention(t *testing.T) {
	body := `{"ops":[{"insert":"ping "},{"insert":{"mention":{"value":"alice"}}},{"insert":"\n"}]}`
	if got := ToPlaintext(body); got != "ping @alice" {
		t.Errorf("ToPlaintext = %q, want %q", got, "ping @alice")
	}
}

func TestToPlaintextMarkdownPassthrough(t *testing.T) {
	if got := ToPlaintext("  just some markdown **text**  "); got != "just some markdown **text**" {
		t.Errorf("ToPlaintext = %q", got)
	}
}

func TestIsDelta(t *testing.T) {
	if !IsDelta(`{"ops":[{"insert":"x"}]}`) {
		t.Error("valid delta not recognized")
	}
	if IsDelta("plain text") {
		t.Error("plain text recognized as delta")
	}
	if IsDelta(`{"not":"a delta"}`) {
		t.Error("object without ops recognized as delta")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 100); got != "short" {
		t.Errorf("Preview = %q", got)
	}
	got := Preview(strings.Repeat("a", 50), 10)
	if len([]rune(got)) != 11 || !strings.HasSuffix(got, "…") {
		t.Errorf("Preview = %q, want 10 runes plus ellipsis", got)
	}
}

func TestToHTMLDelta(t *testing.T) {
	body := `{"ops":[{"insert":"Hello "},{"insert":"world","attributes":{"bold":true}},{"insert":"\n"},{"insert":"next line\n"}]}`
	got := ToHTML(body)
	if !strings.Contains(got, "<p>Hello <strong>world</strong></p>") {
		t.Errorf("ToHTML missing first paragraph: %q", got)
	}
	if !strings.Contains(got, "<p>next line</p>") {
		t.Errorf("ToHTML missing second paragraph: %q", got)
	}
}

func TestToHTMLLink(t *testing.T) {
	body := `{"ops":[{"insert":"docs","attributes":{"link":"https://example.com"}},{"insert":"\n"}]}`
	got := ToHTML(body)
	if !strings.Contains(got, `<a href="https://example.com">docs</a>`) {
		t.Errorf("ToHTML = %q", got)
	}
}

func TestToHTMLEscapesPlainText(t *testing.T) {
	got := ToHTML("a <script> tag\n\nsecond para")
	if strings.Contains(got, "<script>") {
		t.Error("unescaped markup in output")
	}
	if !strings.Contains(got, "<p>second para</p>") {
		t.Errorf("paragraphs not split: %q", got)
	}
}
