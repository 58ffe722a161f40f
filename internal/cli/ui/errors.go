package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a formatted diagnostic
//
//	✗ UNKNOWN TYPE: Datset
//	   No entity type is registered under that name.
//
//	   Did you mean: Dataset?
//
//	   → See all types: entitymanagement types
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Detail      string
	Suggestions []string
	Hints       []string
	NoColor     bool
}

func (m Message) palette() (header, body *color.Color, symbol string) {
	switch m.Level {
	case LevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "!"
	case LevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "i"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "✗"
	}
	if m.NoColor {
		header.DisableColor()
		body.DisableColor()
	}
	return header, body, symbol
}

// String renders the message
func (m Message) String() string {
	var b strings.Builder
	header, body, symbol := m.palette()

	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	if m.Detail != "" {
		body.Fprintf(&b, "   %s\n", m.Detail)
	}

	if len(m.Suggestions) > 0 {
		yellow := color.New(color.FgYellow)
		if m.NoColor {
			yellow.DisableColor()
		}
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.Hints) > 0 {
		cyan := color.New(color.FgCyan)
		if m.NoColor {
			cyan.DisableColor()
		}
		b.WriteString("\n")
		for _, h := range m.Hints {
			cyan.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// Write prints the message to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.String())
}

// Success renders a success line
func Success(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess prints a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, Success(message, noColor))
}

// UnknownType reports a type name that is not registered
func UnknownType(name string, known []string, noColor bool) Message {
	return Message{
		Context:     "unknown type",
		Problem:     name,
		Detail:      "No entity type is registered under that name.",
		Suggestions: FindSimilar(name, known, nil),
		Hints:       []string{"See all types: entitymanagement types"},
		NoColor:     noColor,
	}
}

// ForError maps a lifecycle error onto a diagnostic with hints
func ForError(err error, noColor bool) Message {
	m := Message{Problem: err.Error(), NoColor: noColor}
	switch {
	case errors.Is(err, crud.ErrNotFound):
		m.Context = "not found"
		m.Hints = []string{"Check the identifier, or search with: entitymanagement find <type> key=value"}
	case errors.Is(err, crud.ErrRevisionConflict):
		m.Context = "revision conflict"
		m.Detail = "The resource changed since it was read."
		m.Hints = []string{"Fetch the latest revision: entitymanagement get <id>"}
	case errors.Is(err, crud.ErrTooManyResults):
		m.Context = "ambiguous"
		m.Hints = []string{"Narrow the filter, or list matches: entitymanagement find <type> key=value"}
	case errors.Is(err, crud.ErrDigestMismatch):
		m.Context = "corrupt download"
		m.Detail = "The downloaded content was removed."
	case schema.IsValidationFailed(err):
		m.Context = "invalid entity"
	case errors.Is(err, schema.ErrUnknownType):
		m.Context = "unknown type"
		m.Hints = []string{"See all types: entitymanagement types"}
	}
	return m
}

// ConfigError reports a configuration problem
func ConfigError(message string, noColor bool) Message {
	return Message{
		Context: "configuration",
		Problem: message,
		Hints: []string{
			"Set base_url in entitymanagement.yml",
			"Or export NEXUS_BASE_URL and NEXUS_TOKEN",
		},
		NoColor: noColor,
	}
}
