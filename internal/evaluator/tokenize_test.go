package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeLowercasesAndSplitsOnPunctuation(t *testing.T) {
	toks := tokenize("Hello, World! 你好 world")
	_, hasHello := toks["hello"]
	_, hasWorld := toks["world"]
	_, hasCJK := toks["你好"]
	assert.True(t, hasHello)
	assert.True(t, hasWorld)
	assert.True(t, hasCJK)
	assert.Len(t, toks, 3)
}

func TestJaccardSimilarityEdgeCases(t *testing.T) {
	empty := map[string]struct{}{}
	nonEmpty := tokenize("a b c")

	assert.Equal(t, 1.0, jaccardSimilarity(empty, empty))
	assert.Equal(t, 0.0, jaccardSimilarity(empty, nonEmpty))
	assert.Equal(t, 0.0, jaccardSimilarity(nonEmpty, empty))
}

func TestJaccardSimilarityPartialOverlap(t *testing.T) {
	a := tokenize("the quick brown fox")
	b := tokenize("the quick red fox")
	// intersection {the,quick,fox}=3, union {the,quick,brown,red,fox}=5
	assert.InDelta(t, 0.6, jaccardSimilarity(a, b), 1e-9)
}

func TestLooksLikeMarkdown(t *testing.T) {
	assert.True(t, looksLikeMarkdown("```go\nfmt.Println()\n```"))
	assert.True(t, looksLikeMarkdown("# Heading\nsome text"))
	assert.True(t, looksLikeMarkdown("- item one\n- item two"))
	assert.True(t, looksLikeMarkdown("check out [this link](http://example.com)"))
	assert.False(t, looksLikeMarkdown("just a plain sentence with no markup at all"))
}
