package synth_test

import (
	"math/rand"
	"strings"
	"testing"
	"testing/quick"

	"embedlsp/internal/ranges"
	"embedlsp/internal/synth"
	"embedlsp/internal/textutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func span(text string, from, to int, lang string) ranges.LanguageRange {
	return ranges.LanguageRange{
		Range:      protocol.Range{Start: textutil.PositionAt(text, from), End: textutil.PositionAt(text, to)},
		LanguageID: lang,
	}
}

func TestSynthesizeBlanksPrimary(t *testing.T) {
	// [php 0-10, html 10-20, php 20-30]
	text := "<?php $a;?><div>hi</d<?= $b ?>"
	require.Len(t, text, 30)
	parts := []ranges.LanguageRange{
		span(text, 0, 10, "php"),
		span(text, 10, 20, "html"),
		span(text, 20, 30, "php"),
	}

	got := synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php"})
	assert.Equal(t, strings.Repeat(" ", 10)+text[10:20]+strings.Repeat(" ", 10), got)
}

func TestSynthesizePreserveDelimiters(t *testing.T) {
	text := "<p><?php echo 1; ?></p>"
	parts := []ranges.LanguageRange{
		span(text, 0, 3, "html"),
		span(text, 3, 19, "php"),
		span(text, 19, len(text), "html"),
	}

	got := synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php", Mode: synth.ModePreserveDelimiters})
	assert.Equal(t, "<p><"+strings.Repeat(" ", 14)+"></p>", got)

	// Without a tag shape the range is blanked completely.
	text = "<b>x $y</b>"
	parts = []ranges.LanguageRange{
		span(text, 0, 5, "html"),
		span(text, 5, 7, "php"),
		span(text, 7, len(text), "html"),
	}
	got = synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php", Mode: synth.ModePreserveDelimiters})
	assert.Equal(t, "<b>x   </b>", got)
}

func TestSynthesizeKeepsLineBreaks(t *testing.T) {
	text := "<?php\r\n$a = 'ü';\n?>\n<a>"
	parts := []ranges.LanguageRange{
		span(text, 0, strings.Index(text, "\n<a>"), "php"),
		span(text, strings.Index(text, "\n<a>"), len(text), "html"),
	}

	got := synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php"})
	assert.Equal(t, "     \r\n         \n  \n<a>", got)
}

func TestSynthesizeUncoveredTextPassesThrough(t *testing.T) {
	text := "<?php ?>tail"
	parts := []ranges.LanguageRange{span(text, 0, 8, "php")}
	assert.Equal(t, "        tail", synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php"}))
	assert.Equal(t, text, synth.Synthesize(nil, text, synth.Options{PrimaryLanguageID: "php"}))
}

func TestSynthesizeRoundTrip(t *testing.T) {
	alphabet := []string{"a", "<", ">", "?", " ", "\n", "\r\n", "é", "😀", "$"}

	property := func(seed int64, delimiters bool) bool {
		r := rand.New(rand.NewSource(seed))
		var b strings.Builder
		for i := 0; i < 1+r.Intn(60); i++ {
			b.WriteString(alphabet[r.Intn(len(alphabet))])
		}
		text := b.String()

		var parts []ranges.LanguageRange
		prev, lang := 0, "php"
		for i := range text {
			if i > prev && text[i-1] != '\r' && r.Intn(3) == 0 {
				parts = append(parts, span(text, prev, i, lang))
				prev = i
				if lang == "php" {
					lang = "html"
				} else {
					lang = "php"
				}
			}
		}
		parts = append(parts, span(text, prev, len(text), lang))

		mode := synth.ModeBlank
		if delimiters {
			mode = synth.ModePreserveDelimiters
		}
		out := synth.Synthesize(parts, text, synth.Options{PrimaryLanguageID: "php", Mode: mode})

		if textutil.Length(out) != textutil.Length(text) {
			return false
		}
		if textutil.End(out) != textutil.End(text) {
			return false
		}
		return newlineColumns(out) == newlineColumns(text)
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 300}))
}

// newlineColumns renders the position of every '\n' in text.
func newlineColumns(text string) string {
	var b strings.Builder
	for i, r := range text {
		if r == '\n' {
			p := textutil.PositionAt(text, i)
			b.WriteString(strings.Repeat("x", int(p.Character)))
			b.WriteByte('|')
		}
	}
	return b.String()
}

func TestParseMode(t *testing.T) {
	m, ok := synth.ParseMode("delimiters")
	assert.True(t, ok)
	assert.Equal(t, synth.ModePreserveDelimiters, m)
	_, ok = synth.ParseMode("fancy")
	assert.False(t, ok)
}
