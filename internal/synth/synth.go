// Package synth produces the text a secondary-language analyzer sees for a
// host document: secondary ranges pass through, primary ranges are blanked.
package synth

import (
	"strings"
	"unicode/utf8"

	"embedlsp/internal/ranges"
	"embedlsp/internal/textutil"
)

// Mode selects how primary ranges are replaced.
type Mode int

const (
	// ModeBlank replaces every non-newline character with spaces.
	ModeBlank Mode = iota
	// ModePreserveDelimiters keeps a leading '<' and trailing '>' so the
	// replaced span still reads as a balanced tag.
	ModePreserveDelimiters
)

func (m Mode) String() string {
	switch m {
	case ModePreserveDelimiters:
		return "delimiters"
	default:
		return "blank"
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "blank":
		return ModeBlank, true
	case "delimiters":
		return ModePreserveDelimiters, true
	}
	return ModeBlank, false
}

type Options struct {
	PrimaryLanguageID string
	Mode              Mode
}

// Synthesize walks parts in order and builds the virtual document text.
// The result has the same UTF-16 length and the same line breaks as text, so
// every position computed against text addresses the same column in the output.
func Synthesize(parts []ranges.LanguageRange, text string, opts Options) string {
	var b strings.Builder
	b.Grow(len(text))

	cursor := 0
	for _, r := range parts {
		start := textutil.Offset(text, r.Range.Start)
		end := textutil.Offset(text, r.Range.End)
		if start < cursor {
			start = cursor
		}
		if end <= start {
			continue
		}
		// Text not covered by any range passes through.
		b.WriteString(text[cursor:start])

		span := text[start:end]
		if r.LanguageID == opts.PrimaryLanguageID {
			writeBlank(&b, span, opts.Mode)
		} else {
			b.WriteString(span)
		}
		cursor = end
	}
	b.WriteString(text[cursor:])
	return b.String()
}

func writeBlank(b *strings.Builder, span string, mode Mode) {
	body := span
	var open, close bool
	if mode == ModePreserveDelimiters && len(span) >= 2 {
		open = span[0] == '<'
		close = span[len(span)-1] == '>'
		if open && close {
			body = span[1 : len(span)-1]
		} else {
			open, close = false, false
		}
	}

	if open {
		b.WriteByte('<')
	}
	for _, r := range body {
		switch r {
		case '\n', '\r':
			b.WriteRune(r)
		case utf8.RuneError:
			b.WriteByte(' ')
		default:
			if r >= 0x10000 {
				// Astral runes occupy two UTF-16 code units.
				b.WriteString("  ")
			} else {
				b.WriteByte(' ')
			}
		}
	}
	if close {
		b.WriteByte('>')
	}
}
