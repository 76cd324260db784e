package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholargate/internal/upstream"
)

func TestBodyFieldsFor_Normal(t *testing.T) {
	fields := bodyFieldsFor("", true)
	assert.Equal(t, upstream.DetailedFields, fields)
}

func TestBodyFieldsFor_NonNormalAddsAtomicTokens(t *testing.T) {
	fields := bodyFieldsFor("title,embedding.specter_v2,citations", false)

	assert.Contains(t, fields, "embedding.specter_v2")
	for _, f := range upstream.DetailedFields {
		assert.Contains(t, fields, f)
	}
	// citations/references are relation selectors, not body fields
	assert.NotContains(t, fields, "citations")
}

func TestBodyFieldsFor_NonNormalDedupesAlreadyPresentFields(t *testing.T) {
	first := upstream.DetailedFields[0]
	fields := bodyFieldsFor(first, false)

	count := 0
	for _, f := range fields {
		if f == first {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSliceInlineRelation(t *testing.T) {
	raw := json.RawMessage(`{"citations":[{"paperId":"a"},{"paperId":"b"},{"paperId":"c"}]}`)

	out, ok := sliceInlineRelation(raw, "citations", 1, 1)
	require.True(t, ok)

	var view relationView
	require.NoError(t, json.Unmarshal(out, &view))
	require.NotNil(t, view.Total)
	assert.Equal(t, 3, *view.Total)
	assert.Equal(t, 1, view.Offset)
	assert.Len(t, view.Data, 1)
}

func TestSliceInlineRelation_OffsetPastEnd(t *testing.T) {
	raw := json.RawMessage(`{"citations":[{"paperId":"a"}]}`)

	out, ok := sliceInlineRelation(raw, "citations", 5, 10)
	require.True(t, ok)

	var view relationView
	require.NoError(t, json.Unmarshal(out, &view))
	assert.Empty(t, view.Data)
}

func TestSliceInlineRelation_FieldAbsent(t *testing.T) {
	raw := json.RawMessage(`{"title":"foo"}`)

	_, ok := sliceInlineRelation(raw, "citations", 0, 10)
	assert.False(t, ok)
}

func TestSliceInlineRelation_MalformedJSON(t *testing.T) {
	_, ok := sliceInlineRelation(json.RawMessage(`{not json`), "citations", 0, 10)
	assert.False(t, ok)
}

func TestCacheKeyHelpers(t *testing.T) {
	assert.Equal(t, "paper:abc:full", fullCacheKey("abc"))
	assert.Equal(t, "task:xyz:status", taskStatusKey("xyz"))
	assert.Equal(t, "paper:abc:citations:0:10", relationCacheKey("abc", "citations", 0, 10))
	assert.Equal(t, "search:deadbeef", searchCacheKey("deadbeef"))

	k1 := selectorCacheKey("abc", "title,abstract")
	k2 := selectorCacheKey("abc", "title,abstract")
	k3 := selectorCacheKey("abc", "title")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "paper:abc:sel:")
}

func TestNonEmptyPtr(t *testing.T) {
	assert.Nil(t, nonEmptyPtr(""))
	require.NotNil(t, nonEmptyPtr("x"))
	assert.Equal(t, "x", *nonEmptyPtr("x"))
}

func TestNonZeroPtr(t *testing.T) {
	assert.Nil(t, nonZeroPtr(0))
	require.NotNil(t, nonZeroPtr(5))
	assert.Equal(t, 5, *nonZeroPtr(5))
}

func TestDerefStr(t *testing.T) {
	assert.Equal(t, "", derefStr(nil))
	s := "v"
	assert.Equal(t, "v", derefStr(&s))
}

func TestDerefInt(t *testing.T) {
	assert.Equal(t, 0, derefInt(nil))
	i := 7
	assert.Equal(t, 7, derefInt(&i))
}

func TestParsePublicationDate(t *testing.T) {
	assert.Nil(t, parsePublicationDate(""))
	assert.Nil(t, parsePublicationDate("not-a-date"))

	got := parsePublicationDate("2023-05-17")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, 5, 17, 0, 0, 0, 0, time.UTC), *got)
}

func TestFormatPublicationDate(t *testing.T) {
	assert.Equal(t, "", formatPublicationDate(nil))

	d := time.Date(2023, 5, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2023-05-17", formatPublicationDate(&d))
}
