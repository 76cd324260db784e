package identifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholargate/internal/identifier"
)

func TestParse_Prefixed(t *testing.T) {
	cases := []struct {
		raw      string
		wantType identifier.Type
		wantVal  string
	}{
		{"DOI:10.1038/nphys1170", identifier.DOI, "10.1038/nphys1170"},
		{"doi:10.1038/NPHYS1170", identifier.DOI, "10.1038/nphys1170"},
		{"ArXiv:1706.03762", identifier.ArXiv, "1706.03762"},
		{"ArXiv:1706.03762v5", identifier.ArXiv, "1706.03762"},
		{"CorpusId:007", identifier.CorpusID, "7"},
		{"PMCID:PMC12345", identifier.PMCID, "PMC12345"},
	}
	for _, c := range cases {
		t.Run(c.raw, func(t *testing.T) {
			got, err := identifier.Parse(c.raw)
			require.NoError(t, err)
			assert.Equal(t, c.wantType, got.Type)
			assert.Equal(t, c.wantVal, got.Value)
		})
	}
}

func TestParse_Sniffed(t *testing.T) {
	t.Run("bare DOI", func(t *testing.T) {
		got, err := identifier.Parse("10.1145/3292500.3330744")
		require.NoError(t, err)
		assert.Equal(t, identifier.DOI, got.Type)
	})

	t.Run("bare arxiv id", func(t *testing.T) {
		got, err := identifier.Parse("1706.03762")
		require.NoError(t, err)
		assert.Equal(t, identifier.ArXiv, got.Type)
	})

	t.Run("url", func(t *testing.T) {
		got, err := identifier.Parse("https://arxiv.org/abs/1706.03762")
		require.NoError(t, err)
		assert.Equal(t, identifier.URL, got.Type)
	})

	t.Run("40-hex paper id", func(t *testing.T) {
		got, err := identifier.Parse("204e3073870fae3d05bcbc2f6a8e263d9b72e776")
		require.NoError(t, err)
		assert.Equal(t, identifier.PaperID, got.Type)
	})

	t.Run("all digits falls back to corpus id", func(t *testing.T) {
		got, err := identifier.Parse("215416146")
		require.NoError(t, err)
		assert.Equal(t, identifier.CorpusID, got.Type)
	})

	t.Run("free text falls back to title norm", func(t *testing.T) {
		got, err := identifier.Parse("Attention Is All You Need")
		require.NoError(t, err)
		assert.Equal(t, identifier.TitleNorm, got.Type)
	})
}

func TestParse_Empty(t *testing.T) {
	_, err := identifier.Parse("   ")
	assert.Error(t, err)
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []struct {
		typ identifier.Type
		val string
	}{
		{identifier.DOI, "10.1038/nphys1170"},
		{identifier.ArXiv, "1706.03762"},
		{identifier.CorpusID, "215416146"},
		{identifier.URL, "https://example.com/paper?utm_source=x&id=1"},
		{identifier.TitleNorm, "Attention Is All You Need!"},
	}

	for _, in := range inputs {
		once, err := identifier.Normalize(in.typ, in.val)
		require.NoError(t, err)
		twice, err := identifier.Normalize(in.typ, once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize must be idempotent for %s", in.typ)
	}
}

func TestNormalizeTitle_PunctuationAndCaseInsensitive(t *testing.T) {
	a := identifier.NormalizeTitle("The Café, Revisited!")
	b := identifier.NormalizeTitle("the cafe   revisited")
	assert.Equal(t, b, a)
}

func TestNormalizeURL_StripsTrackingParamsAndTrailingSlash(t *testing.T) {
	v, err := identifier.Normalize(identifier.URL, "HTTPS://Example.COM/paper/?utm_source=newsletter&id=42")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/paper?id=42", v)
}
