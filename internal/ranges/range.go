// Package ranges holds the partition of a host document into contiguous
// language-tagged ranges and answers classification queries against it.
//
// Ranges are half-open: a range covers positions p with start <= p < end.
package ranges

import (
	"errors"
	"fmt"

	"embedlsp/internal/textutil"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ErrInvalidPartition is returned by Validate.
var ErrInvalidPartition = errors.New("ranges: invalid partition")

// LanguageRange is a span of a host document tagged with its language.
type LanguageRange struct {
	Range      protocol.Range `json:"range"`
	LanguageID string         `json:"languageId,omitempty"`
}

// Partition is the complete ordered set of ranges of one document at one version.
type Partition struct {
	Version int32
	Ranges  []LanguageRange
}

// Validate checks that ranges are ordered, non-empty, non-overlapping and
// contiguous, and that together they cover text from its first to its last
// character.
func Validate(ranges []LanguageRange, text string) error {
	if len(ranges) == 0 {
		if text == "" {
			return nil
		}
		return fmt.Errorf("%w: no ranges for %d bytes of text", ErrInvalidPartition, len(text))
	}

	var zero protocol.Position
	if ranges[0].Range.Start != zero {
		return fmt.Errorf("%w: first range starts at %v", ErrInvalidPartition, ranges[0].Range.Start)
	}
	for i, r := range ranges {
		if textutil.Compare(r.Range.Start, r.Range.End) >= 0 {
			return fmt.Errorf("%w: range %d is empty or inverted", ErrInvalidPartition, i)
		}
		if i > 0 && ranges[i-1].Range.End != r.Range.Start {
			return fmt.Errorf(
				"%w: range %d starts at %v but range %d ends at %v",
				ErrInvalidPartition, i, r.Range.Start, i-1, ranges[i-1].Range.End,
			)
		}
	}
	if end, last := textutil.End(text), ranges[len(ranges)-1].Range.End; end != last {
		return fmt.Errorf("%w: last range ends at %v, text ends at %v", ErrInvalidPartition, last, end)
	}
	return nil
}

// Contains reports whether pos lies in the half-open range rng.
func Contains(rng protocol.Range, pos protocol.Position) bool {
	return textutil.Compare(rng.Start, pos) <= 0 && textutil.Compare(pos, rng.End) < 0
}

// Locate returns the index of the range containing pos.
// A position at or past the end of the final range belongs to the final range,
// so a cursor at the very end of a document still classifies.
func Locate(ranges []LanguageRange, pos protocol.Position) (int, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	// Ranges are ordered, so a binary search over the end positions finds
	// the first range ending after pos.
	lo, hi := 0, len(ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		if textutil.Compare(ranges[mid].Range.End, pos) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(ranges) {
		return len(ranges) - 1, true
	}
	if textutil.Compare(pos, ranges[lo].Range.Start) < 0 {
		return 0, false
	}
	return lo, true
}

// IsPrimaryPosition reports whether pos lies inside a range tagged primaryID.
// Without ranges the answer is true, so nothing is forwarded when the
// partition is unknown.
func IsPrimaryPosition(ranges []LanguageRange, pos protocol.Position, primaryID string) bool {
	i, ok := Locate(ranges, pos)
	if !ok {
		return true
	}
	return ranges[i].LanguageID == primaryID
}

// IsPrimaryOnly reports whether every range touched by rng is tagged primaryID.
// The scan runs from start to end and stops at the first other language.
// An empty rng is classified like a position.
func IsPrimaryOnly(ranges []LanguageRange, rng protocol.Range, primaryID string) bool {
	if textutil.Compare(rng.Start, rng.End) >= 0 {
		return IsPrimaryPosition(ranges, rng.Start, primaryID)
	}
	first, ok := Locate(ranges, rng.Start)
	if !ok {
		return true
	}
	for _, r := range ranges[first:] {
		if textutil.Compare(r.Range.Start, rng.End) >= 0 {
			break
		}
		if r.LanguageID != primaryID {
			return false
		}
	}
	return true
}

// HasLanguage reports whether any range is tagged languageID.
func HasLanguage(ranges []LanguageRange, languageID string) bool {
	for _, r := range ranges {
		if r.LanguageID == languageID {
			return true
		}
	}
	return false
}

// Normalize fills empty language ids with defaultID and merges adjacent
// ranges of the same language. The input slice is not modified.
func Normalize(ranges []LanguageRange, defaultID string) []LanguageRange {
	out := make([]LanguageRange, 0, len(ranges))
	for _, r := range ranges {
		if r.LanguageID == "" {
			r.LanguageID = defaultID
		}
		if n := len(out); n > 0 && out[n-1].LanguageID == r.LanguageID && out[n-1].Range.End == r.Range.Start {
			out[n-1].Range.End = r.Range.End
			continue
		}
		out = append(out, r)
	}
	return out
}
