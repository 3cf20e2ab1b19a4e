/*
Package tmpl provides placeholder substitution for message subjects and bodies.

Placeholders are written as $name or ${name}, where name starts with a letter
or underscore followed by letters, digits or underscores. $$ produces a
literal dollar sign.
*/
package tmpl

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

var placeholderRe = regexp.MustCompile(`\$(?:(\$)|([_A-Za-z][_A-Za-z0-9]*)|\{([_A-Za-z][_A-Za-z0-9]*)\}|())`)

// Fields supplies values for placeholders
type Fields interface {
	Get(key string) (string, bool)
}

// Map adapts a plain map to Fields
type Map map[string]string

// Get implements Fields
func (m Map) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// MissingFieldError reports a placeholder without a matching field
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

// InvalidPlaceholderError reports a $ that does not start a placeholder
type InvalidPlaceholderError struct {
	Line   int
	Column int
}

func (e *InvalidPlaceholderError) Error() string {
	return fmt.Sprintf("invalid placeholder in template: line %d, col %d", e.Line, e.Column)
}

// Template is a parsed substitution template
type Template struct {
	source string
}

// New creates a template from its source text
func New(source string) *Template {
	return &Template{source: source}
}

// Source returns the template text
func (t *Template) Source() string {
	return t.source
}

// Execute substitutes every placeholder and fails on the first missing
// field or invalid placeholder.
func (t *Template) Execute(fields Fields) (string, error) {
	var firstErr error
	out := t.expand(func(m match) string {
		if firstErr != nil {
			return m.text
		}
		switch {
		case m.escaped:
			return "$"
		case m.invalid:
			line, col := position(t.source, m.start)
			firstErr = &InvalidPlaceholderError{Line: line, Column: col}
			return m.text
		}
		v, ok := fields.Get(m.name)
		if !ok {
			firstErr = &MissingFieldError{Field: m.name}
			return m.text
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// SafeExecute substitutes what it can and leaves unresolvable or invalid
// placeholders verbatim.
func (t *Template) SafeExecute(fields Fields) string {
	return t.expand(func(m match) string {
		if m.escaped {
			return "$"
		}
		if m.invalid {
			return m.text
		}
		if v, ok := fields.Get(m.name); ok {
			return v
		}
		return m.text
	})
}

type match struct {
	text    string
	name    string
	start   int
	escaped bool
	invalid bool
}

func (t *Template) expand(replace func(match) string) string {
	locs := placeholderRe.FindAllStringSubmatchIndex(t.source, -1)
	if len(locs) == 0 {
		return t.source
	}

	var b strings.Builder
	b.Grow(len(t.source))
	last := 0
	for _, loc := range locs {
		b.WriteString(t.source[last:loc[0]])
		m := match{text: t.source[loc[0]:loc[1]], start: loc[0]}
		switch {
		case loc[2] >= 0:
			m.escaped = true
		case loc[4] >= 0:
			m.name = t.source[loc[4]:loc[5]]
		case loc[6] >= 0:
			m.name = t.source[loc[6]:loc[7]]
		default:
			m.invalid = true
		}
		b.WriteString(replace(m))
		last = loc[1]
	}
	b.WriteString(t.source[last:])
	return b.String()
}

func position(s string, offset int) (line, col int) {
	lines := strings.Split(s[:offset], "\n")
	return len(lines), len(lines[len(lines)-1]) + 1
}

// Resolve returns the template stored in the file named by pathOrText, or pathOrText
// itself when no such file exists.
func Resolve(pathOrText string) (*Template, error) {
	info, err := os.Stat(pathOrText)
	if err != nil || info.IsDir() {
		return New(pathOrText), nil
	}
	data, err := os.ReadFile(pathOrText)
	if err != nil {
		return nil, fmt.Errorf("failed to load template file: %w", err)
	}
	return New(string(data)), nil
}

// Renderer executes templates against recipient fields, falling back to
// tolerant substitution when a field is missing.
type Renderer struct {
	logger *log.Logger
	out    func(format string, args ...any)
}

// NewRenderer creates a renderer that reports missing fields to logger and
// to the console printer out. Either may be nil.
func NewRenderer(logger *log.Logger, out func(format string, args ...any)) *Renderer {
	return &Renderer{logger: logger, out: out}
}

// Render substitutes fields into t. A missing field is logged and left
// verbatim; an invalid placeholder is returned as an error.
func (r *Renderer) Render(t *Template, fields Fields) (string, error) {
	s, err := t.Execute(fields)
	if err == nil {
		return s, nil
	}

	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		return "", err
	}

	if r.logger != nil {
		r.logger.Warn("Missing field in data", "field", missing.Field)
	}
	if r.out != nil {
		r.out("Warning: Missing field in recipient data: %s\n", missing.Field)
	}
	return t.SafeExecute(fields), nil
}
