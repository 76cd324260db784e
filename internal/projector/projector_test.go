package projector_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholargate/internal/projector"
)

func sampleDoc() []byte {
	return []byte(`{
		"paperId": "abc123",
		"title": "Attention Is All You Need",
		"abstract": "we propose a new architecture",
		"year": 2017,
		"authors": [{"authorId": "1", "name": "A"}, {"authorId": "2", "name": "B"}],
		"embedding": {"specter_v2": [0.1, 0.2]}
	}`)
}

func TestParseSelector(t *testing.T) {
	p := projector.New(nil)

	t.Run("splits comma and dot", func(t *testing.T) {
		tree := p.ParseSelector("title,authors.name")
		require.Contains(t, tree, "title")
		require.Contains(t, tree, "authors")
		assert.Empty(t, tree["title"])
		assert.Contains(t, tree["authors"], "name")
	})

	t.Run("keeps atomic dotted field whole", func(t *testing.T) {
		tree := p.ParseSelector("embedding.specter_v2")
		require.Contains(t, tree, "embedding.specter_v2")
		assert.NotContains(t, tree, "embedding")
	})

	t.Run("empty selector yields empty tree", func(t *testing.T) {
		assert.Empty(t, p.ParseSelector(""))
	})
}

func TestIsNormal(t *testing.T) {
	p := projector.New(nil)

	assert.True(t, p.IsNormal(""))
	assert.True(t, p.IsNormal("title,year,authors"))
	assert.False(t, p.IsNormal("embedding.specter_v2"))
	assert.False(t, p.IsNormal("title,bogusField"))
}

func TestRemoveRelationsFields(t *testing.T) {
	p := projector.New(nil)

	assert.Equal(t, "title,year", p.RemoveRelationsFields("title,citations,year,references.title"))
	assert.Equal(t, "", p.RemoveRelationsFields("citations,references"))
}

func TestProject(t *testing.T) {
	p := projector.New(nil)
	doc := sampleDoc()

	t.Run("empty selector returns full document", func(t *testing.T) {
		out, err := p.Project(doc, "")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Contains(t, decoded, "abstract")
		assert.Contains(t, decoded, "embedding")
	})

	t.Run("projects only requested top-level and nested fields", func(t *testing.T) {
		out, err := p.Project(doc, "title,authors.name")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &decoded))

		assert.Equal(t, "Attention Is All You Need", decoded["title"])
		assert.NotContains(t, decoded, "abstract")

		authors, ok := decoded["authors"].([]interface{})
		require.True(t, ok)
		require.Len(t, authors, 2)
		first, ok := authors[0].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, first, "name")
		assert.NotContains(t, first, "authorId")
	})

	t.Run("paperId is always included", func(t *testing.T) {
		out, err := p.Project(doc, "title")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Equal(t, "abc123", decoded["paperId"])
	})

	t.Run("unknown requested path is silently dropped", func(t *testing.T) {
		out, err := p.Project(doc, "title,doesNotExist")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.NotContains(t, decoded, "doesNotExist")
	})

	t.Run("requested but absent citations comes back as empty list", func(t *testing.T) {
		out, err := p.Project(doc, "title,citations")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &decoded))
		citations, ok := decoded["citations"].([]interface{})
		require.True(t, ok)
		assert.Empty(t, citations)
	})

	t.Run("projecting twice yields the same result", func(t *testing.T) {
		first, err := p.Project(doc, "title,year")
		require.NoError(t, err)
		second, err := p.Project(doc, "title,year")
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second))
	})
}
