// Package render substitutes named placeholders in template subjects and
// bodies. The placeholder syntax is a pair of delimiters; email templates
// use {{name}} and SMS templates use {name}.
package render

import (
	"strings"

	"github.com/nimasrn/school-notify/internal/model"
)

type Delimiters struct {
	Open  string
	Close string
}

var (
	Email = Delimiters{Open: "{{", Close: "}}"}
	SMS   = Delimiters{Open: "{", Close: "}"}
)

type Renderer struct {
	delims Delimiters
}

func New(d Delimiters) *Renderer {
	return &Renderer{delims: d}
}

func ForChannel(ch model.Channel) *Renderer {
	if ch == model.ChannelEmail {
		return New(Email)
	}
	return New(SMS)
}

// Placeholders returns the distinct placeholder names found across texts in
// order of first appearance. Unclosed or malformed tokens are skipped.
func (r *Renderer) Placeholders(texts ...string) []string {
	names := make([]string, 0)
	seen := make(map[string]struct{})
	for _, text := range texts {
		r.scan(text, func(name string, _, _ int) {
			if _, ok := seen[name]; ok {
				return
			}
			seen[name] = struct{}{}
			names = append(names, name)
		})
	}
	return names
}

// Render replaces every occurrence of each known placeholder with its value
// in a single pass, so substituted values are never expanded again.
// Placeholders without a value stay in the output verbatim and are returned
// as missing.
func (r *Renderer) Render(text string, vars map[string]string) (string, []string) {
	var (
		b       strings.Builder
		last    int
		missing []string
		seen    = make(map[string]struct{})
	)
	r.scan(text, func(name string, start, end int) {
		value, ok := vars[name]
		if !ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
			return
		}
		b.WriteString(text[last:start])
		b.WriteString(value)
		last = end
	})
	if last == 0 {
		return text, missing
	}
	b.WriteString(text[last:])
	return b.String(), missing
}

// scan calls fn for every well-formed token with its byte range in text.
func (r *Renderer) scan(text string, fn func(name string, start, end int)) {
	open, closing := r.delims.Open, r.delims.Close
	i := 0
	for i < len(text) {
		rel := strings.Index(text[i:], open)
		if rel < 0 {
			return
		}
		start := i + rel
		nameStart := start + len(open)
		nameEnd := nameStart
		for nameEnd < len(text) && isNameByte(text[nameEnd], nameEnd == nameStart) {
			nameEnd++
		}
		if nameEnd > nameStart && strings.HasPrefix(text[nameEnd:], closing) {
			end := nameEnd + len(closing)
			fn(text[nameStart:nameEnd], start, end)
			i = end
			continue
		}
		// Not a token; retry one byte later so "{{{x}}" still finds "{{x}}"
		// with double braces and "{x}" with single ones.
		i = start + 1
	}
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '.', c == '-':
		return !first
	}
	return false
}
