package fr

import (
	"fmt"
	"io/fs"
	"math/rand/v2"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	return words
}

func TestGenerateSession_Shape(t *testing.T) {
	spec := RepeatSpec{Repeats: []int{1, 2}, Counts: []int{4, 2}}
	plan := ListPlan{Practice: 1, PreNoStim: 2, EncodingOnly: 1, RetrievalOnly: 1, EncodingAndRetrieval: 1, NoStim: 2}

	s, err := GenerateSession(rand.New(rand.NewPCG(7, 7)), testPool(100), spec, plan)
	require.NoError(t, err)
	require.Len(t, s, plan.Total())

	seen := map[string]int{}
	stims := map[[2]bool]int{}
	for i, l := range s {
		assert.Len(t, l.Encoding, spec.TotalWords(), "list %d", i)
		counts := map[string]int{}
		for _, w := range l.Encoding {
			counts[w]++
		}
		assert.Len(t, counts, spec.UniqueWords(), "list %d", i)
		for w := range counts {
			seen[w]++
		}
		stims[[2]bool{l.EncodingStim, l.RecallStim}]++
	}
	for w, n := range seen {
		assert.Equal(t, 1, n, "word %s reused across lists", w)
	}

	for i := 0; i < plan.Practice+plan.PreNoStim; i++ {
		assert.False(t, s[i].EncodingStim || s[i].RecallStim, "leading list %d must be unstimulated", i)
	}
	assert.Equal(t, 1, stims[[2]bool{true, false}])
	assert.Equal(t, 1, stims[[2]bool{false, true}])
	assert.Equal(t, 1, stims[[2]bool{true, true}])
	assert.Equal(t, 5, stims[[2]bool{false, false}])
}

func TestGenerateSession_Deterministic(t *testing.T) {
	spec := RepeatSpec{Repeats: []int{1}, Counts: []int{5}}
	plan := ListPlan{Practice: 1, NoStim: 3}

	a, err := GenerateSession(rand.New(rand.NewPCG(1, 2)), testPool(40), spec, plan)
	require.NoError(t, err)
	b, err := GenerateSession(rand.New(rand.NewPCG(1, 2)), testPool(40), spec, plan)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateSession_Errors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	_, err := GenerateSession(rng, testPool(5), RepeatSpec{Repeats: []int{1}, Counts: []int{3}}, ListPlan{NoStim: 2})
	assert.ErrorIs(t, err, ErrWordPoolExhausted)

	_, err = GenerateSession(rng, testPool(5), RepeatSpec{Repeats: []int{1, 2}, Counts: []int{3}}, ListPlan{NoStim: 1})
	assert.ErrorIs(t, err, ErrRepeatSpec)

	_, err = GenerateSession(rng, testPool(5), RepeatSpec{Repeats: []int{0}, Counts: []int{3}}, ListPlan{NoStim: 1})
	assert.ErrorIs(t, err, ErrRepeatSpec)
}

func TestSaveAndLoadSession(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := "/data/LTP001/session_0"

	_, err := LoadSession(fsys, dir)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	s := Session{
		{Encoding: []string{"cat", "dog", "cat"}, EncodingStim: true},
		{Encoding: []string{"sun", "sea"}, RecallStim: true},
	}
	require.NoError(t, SaveSession(fsys, dir, s))

	got, err := LoadSession(fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	lst, err := afero.ReadFile(fsys, dir+"/0.lst")
	require.NoError(t, err)
	assert.Equal(t, "cat\ndog", string(lst))

	require.NoError(t, afero.WriteFile(fsys, dir+"/"+SessionWordsFile, []byte("{"), 0o644))
	_, err = LoadSession(fsys, dir)
	assert.Error(t, err)
}

func TestWordPoolFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/pool.csv", []byte("word\napple\n\n boat \ncloud\n"), 0o644))

	words, err := ReadWordPool(fsys, "/pool.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "boat", "cloud"}, words)

	require.NoError(t, fsys.MkdirAll("/s", 0o755))
	require.NoError(t, writeWordPool(fsys, "/s", words))
	require.NoError(t, writeWordPool(fsys, "/s", []string{"ignored"}))
	data, err := afero.ReadFile(fsys, "/s/"+WordPoolFile)
	require.NoError(t, err)
	assert.Equal(t, "word\napple\nboat\ncloud\n", string(data))

	_, err = ReadWordPool(fsys, "/missing.csv")
	assert.Error(t, err)
}
