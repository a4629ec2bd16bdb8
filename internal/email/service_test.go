package email

import (
	"html/template"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderThreadActivityTemplate(t *testing.T) {
	data := ThreadActivityData{
		AppName: "Commonwealth",
		Title:   "Big Thread!",
		Preview: template.HTML("<p>hello <strong>world</strong></p>"),
		URL:     "https://commonwealth.im/ethereum/discussion/4",
	}

	html, err := renderTemplate(threadActivityEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Commonwealth") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Big Thread!") {
		t.Error("template should contain thread title")
	}
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Error("template should embed the HTML preview unescaped")
	}
	if !strings.Contains(html, "https://commonwealth.im/ethereum/discussion/4") {
		t.Error("template should contain thread URL")
	}
}

func TestRenderDigestTemplate(t *testing.T) {
	data := DigestData{
		AppName:       "Commonwealth",
		CommunityName: "ethereum",
		Items: []DigestItem{
			{Title: "First thread", Author: "0x123", URL: "https://commonwealth.im/ethereum/discussion/1"},
			{Title: "Second thread", Author: "0x456", URL: "https://commonwealth.im/ethereum/discussion/2"},
		},
	}

	html, err := renderTemplate(digestEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "ethereum") {
		t.Error("template should contain community name")
	}
	if !strings.Contains(html, "First thread") || !strings.Contains(html, "Second thread") {
		t.Error("template should list every digest item")
	}
	if !strings.Contains(html, "0x123") {
		t.Error("template should credit thread authors")
	}
}
