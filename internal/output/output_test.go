package output

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

func (s sample) String() string {
	return s.Name + " " + s.Version
}

func TestWriterFormats(t *testing.T) {
	v := sample{Name: "Kuaishou", Version: "1.2.0"}

	tests := []struct {
		format Format
		want   string
	}{
		{FormatText, "Kuaishou 1.2.0\n"},
		{FormatJSON, "{\n  \"name\": \"Kuaishou\",\n  \"version\": \"1.2.0\"\n}\n"},
		{FormatYAML, "name: Kuaishou\nversion: 1.2.0\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewWriter(&buf, tt.format).Write(v); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Write() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriterTextWithoutStringer(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, FormatText).Write(struct{ A int }{A: 1}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "A:1") {
		t.Errorf("Write() = %q", buf.String())
	}
}

func TestPrintfSuppressedWhenStructured(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, FormatJSON).Printf("hello %s\n", "world")
	if buf.Len() != 0 {
		t.Errorf("Printf wrote %q in json mode", buf.String())
	}

	NewWriter(&buf, FormatText).Printf("hello %s\n", "world")
	if buf.String() != "hello world\n" {
		t.Errorf("Printf wrote %q in text mode", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
