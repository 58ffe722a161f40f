package ui

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{5 << 30, "5.0 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %q; want %q", tt.n, got, tt.expected)
		}
	}
}

func TestProgressReader(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "trace.json", 10, true)

	data, err := io.ReadAll(p.Reader(strings.NewReader("0123456789")))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0123456789" {
		t.Errorf("reader altered content: %q", data)
	}
	p.Done("downloaded trace.json")

	out := buf.String()
	if !strings.Contains(out, "trace.json 10 B / 10 B (100%)") {
		t.Errorf("expected completed progress line, got %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K✓ downloaded trace.json (10 B)\n") {
		t.Errorf("expected line to be cleared before the final state, got %q", out)
	}
}

func TestProgressUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "upload", 0, true)

	if _, err := io.Copy(io.Discard, p.Reader(strings.NewReader("abc"))); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\rupload 3 B") {
		t.Errorf("expected plain byte count, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "%") {
		t.Errorf("unexpected percentage without total: %q", buf.String())
	}
}

func TestProgressDoneWithoutReads(t *testing.T) {
	var buf bytes.Buffer
	NewProgress(&buf, "empty", 0, true).Done("nothing to do")

	if buf.String() != "✓ nothing to do (0 B)\n" {
		t.Errorf("Done() = %q", buf.String())
	}
}
