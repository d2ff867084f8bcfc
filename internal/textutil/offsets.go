// Package textutil converts between LSP positions and byte offsets.
//
// LSP characters count UTF-16 code units while Go strings are UTF-8, so every
// conversion walks the line rune by rune. Lines end at "\n"; a "\r" directly
// before it is treated as part of the line terminator.
package textutil

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Offset returns the byte offset of pos in text.
// A character past the end of its line clamps to the line end and a line past
// the last line clamps to the end of the text.
func Offset(text string, pos protocol.Position) int {
	offset := 0
	for line := protocol.UInteger(0); line < pos.Line; line++ {
		next := strings.IndexByte(text[offset:], '\n')
		if next == -1 {
			return len(text)
		}
		offset += next + 1
	}

	rest := text[offset:]
	var units protocol.UInteger
	for i, r := range rest {
		if r == '\n' || (r == '\r' && strings.HasPrefix(rest[i:], "\r\n")) {
			return offset + i
		}
		// Never stop inside a surrogate pair.
		w := utf16Len(r)
		if units+w > pos.Character {
			return offset + i
		}
		units += w
	}
	return len(text)
}

// PositionAt returns the LSP position of a byte offset in text.
func PositionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}

	var pos protocol.Position
	for _, r := range text[:offset] {
		if r == '\n' {
			pos.Line++
			pos.Character = 0
			continue
		}
		pos.Character += utf16Len(r)
	}
	return pos
}

// End returns the position just past the last character of text.
func End(text string) protocol.Position {
	return PositionAt(text, len(text))
}

// Slice returns the part of text covered by rng.
func Slice(text string, rng protocol.Range) string {
	start, end := Offset(text, rng.Start), Offset(text, rng.End)
	if end < start {
		return ""
	}
	return text[start:end]
}

// Length returns the length of text in UTF-16 code units.
func Length(text string) int {
	n := 0
	for _, r := range text {
		n += int(utf16Len(r))
	}
	return n
}

// Compare orders two positions: -1 if a is before b, 1 if after, 0 if equal.
func Compare(a, b protocol.Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	}
	return 0
}

func utf16Len(r rune) protocol.UInteger {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
