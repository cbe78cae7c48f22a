package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  Document
		want bool
	}{
		{"ok", Document{ExternalID: "US1", Abstract: "long enough abstract"}, true},
		{"missing id", Document{ExternalID: "  ", Abstract: "long enough abstract"}, false},
		{"short abstract", Document{ExternalID: "US1", Abstract: "   short   "}, false},
		{"exactly ten", Document{ExternalID: "US1", Abstract: "0123456789"}, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.doc.Valid(), tt.name)
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StatusPending, StatusScored))
	assert.True(t, CanTransition(StatusPending, StatusSkipped))
	assert.True(t, CanTransition(StatusPending, StatusError))
	assert.False(t, CanTransition(StatusPending, StatusPending))

	for _, from := range []Status{StatusScored, StatusSkipped, StatusError} {
		assert.True(t, from.Terminal())
		for _, to := range []Status{StatusPending, StatusScored, StatusSkipped, StatusError} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRelevanceOrdering(t *testing.T) {
	t.Parallel()

	assert.Greater(t, RelevanceHigh.Rank(), RelevanceMedium.Rank())
	assert.Greater(t, RelevanceMedium.Rank(), RelevanceLow.Rank())
	assert.True(t, RelevanceMedium.AtLeast(RelevanceMedium))
	assert.False(t, RelevanceLow.AtLeast(RelevanceMedium))

	r, err := ParseRelevance(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RelevanceHigh, r)

	_, err = ParseRelevance("critical")
	assert.Error(t, err)
}

func TestParseTagsFailsClosed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Detection", "Power"}, ParseTags(`["Detection", " Power "]`))
	assert.Empty(t, ParseTags(`__import__('os').system('rm -rf /')`))
	assert.Empty(t, ParseTags(`["a", 1]`))
	assert.Empty(t, ParseTags(`{"a": "b"}`))
	assert.Empty(t, ParseTags(""))
	assert.Equal(t, "[]", EncodeTags(nil))
	assert.Equal(t, []string{"Mobility"}, ParseTags(EncodeTags([]string{"Mobility"})))
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SourceGrant, ParseSource("grant"))
	assert.Equal(t, SourcePregrant, ParseSource("IPAB"))
	assert.Equal(t, SourceCSV, ParseSource("csv"))
	assert.Equal(t, SourceUnknown, ParseSource("USPTO CSV"))
}
