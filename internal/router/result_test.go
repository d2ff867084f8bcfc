package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultIsEmpty(t *testing.T) {
	tests := []struct {
		name   string
		decode func(json.RawMessage) (Result, error)
		raw    string
		empty  bool
	}{
		{"completion null", decodeCompletion, `null`, true},
		{"completion empty array", decodeCompletion, `[]`, true},
		{"completion empty list", decodeCompletion, `{"isIncomplete":false,"items":[]}`, true},
		{"completion incomplete list", decodeCompletion, `{"isIncomplete":true,"items":[]}`, true},
		{"completion items", decodeCompletion, `[{"label":"echo"}]`, false},
		{"signature null", decodeSignatureHelp, `null`, true},
		{"signature none", decodeSignatureHelp, `{"signatures":[]}`, true},
		{"signature one", decodeSignatureHelp, `{"signatures":[{"label":"f()"}]}`, false},
		{"locations null", decodeLocations, `null`, true},
		{"locations empty", decodeLocations, `[]`, true},
		{"location single", decodeLocations, `{"uri":"file:///a","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}`, false},
		{"highlights empty", decodeHighlights, `[]`, true},
		{"hover null", decodeHover, `null`, true},
		{"hover empty string", decodeHover, `{"contents":""}`, true},
		{"hover empty markup", decodeHover, `{"contents":{"kind":"markdown","value":""}}`, true},
		{"hover empty marked strings", decodeHover, `{"contents":["",{"language":"php","value":""}]}`, true},
		{"hover marked string", decodeHover, `{"contents":[{"language":"php","value":"int"}]}`, false},
		{"hover text", decodeHover, `{"contents":"text"}`, false},
		{"symbols null", decodeSymbols, `null`, true},
		{"symbols nested", decodeSymbols, `[{"name":"f","kind":12,"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"selectionRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.decode(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.empty, res.IsEmpty())
		})
	}
}

func TestSingleLocationKeepsShape(t *testing.T) {
	res, err := decodeLocations(json.RawMessage(`{"uri":"embedded-content://html/x.html","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":3}}}`))
	require.NoError(t, err)
	res.rewrite("embedded-content://html/x.html", "file:///x")

	out, err := json.Marshal(res.value())
	require.NoError(t, err)
	assert.JSONEq(t, `{"uri":"file:///x","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":3}}}`, string(out))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeHighlights(json.RawMessage(`{"not":"an array"}`))
	assert.Error(t, err)
	_, err = decodeCompletion(json.RawMessage(`"text"`))
	assert.Error(t, err)
}
