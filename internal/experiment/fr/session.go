package fr

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	SessionWordsFile = "session_words.json"
	WordPoolFile     = "wordpool.txt"
)

var (
	ErrWordPoolExhausted = errors.New("word pool exhausted")
	ErrRepeatSpec        = errors.New("wordRepeats and wordCounts are not aligned")
)

// List is one study list and its stimulation plan.
type List struct {
	Encoding     []string `json:"encoding"`
	EncodingStim bool     `json:"encoding_stim"`
	RecallStim   bool     `json:"recall_stim"`
}

// Session is the ordered lists of one session.
type Session []List

// RepeatSpec says how many distinct words appear how many times in a list.
// Counts[i] words are each shown Repeats[i] times.
type RepeatSpec struct {
	Repeats []int
	Counts  []int
}

func (r RepeatSpec) validate() error {
	if len(r.Repeats) != len(r.Counts) || len(r.Repeats) == 0 {
		return ErrRepeatSpec
	}
	for i := range r.Repeats {
		if r.Repeats[i] <= 0 || r.Counts[i] < 0 {
			return fmt.Errorf("%w: repeat %d count %d", ErrRepeatSpec, r.Repeats[i], r.Counts[i])
		}
	}
	return nil
}

// UniqueWords is the number of distinct words per list.
func (r RepeatSpec) UniqueWords() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// TotalWords is the number of presentations per list.
func (r RepeatSpec) TotalWords() int {
	n := 0
	for i, c := range r.Counts {
		n += c * r.Repeats[i]
	}
	return n
}

// ListPlan is how many lists of each stimulation kind a session has.
type ListPlan struct {
	Practice             int
	PreNoStim            int
	EncodingOnly         int
	RetrievalOnly        int
	EncodingAndRetrieval int
	NoStim               int
}

// Total is the number of lists the plan produces.
func (p ListPlan) Total() int {
	return p.Practice + p.PreNoStim + p.EncodingOnly + p.RetrievalOnly + p.EncodingAndRetrieval + p.NoStim
}

// wordSource hands out words without replacement.
type wordSource struct {
	words []string
}

func (s *wordSource) take(rng *rand.Rand, n int) ([]string, error) {
	if n > len(s.words) {
		return nil, fmt.Errorf("%w: need %d words, %d left", ErrWordPoolExhausted, n, len(s.words))
	}
	out := make([]string, 0, n)
	for range n {
		i := rng.IntN(len(s.words))
		out = append(out, s.words[i])
		s.words[i] = s.words[len(s.words)-1]
		s.words = s.words[:len(s.words)-1]
	}
	return out, nil
}

func makeList(rng *rand.Rand, src *wordSource, spec RepeatSpec, encStim, recStim bool) (List, error) {
	unique, err := src.take(rng, spec.UniqueWords())
	if err != nil {
		return List{}, err
	}
	words := make([]string, 0, spec.TotalWords())
	next := 0
	for i, c := range spec.Counts {
		for _, w := range unique[next : next+c] {
			for range spec.Repeats[i] {
				words = append(words, w)
			}
		}
		next += c
	}
	rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	return List{Encoding: words, EncodingStim: encStim, RecallStim: recStim}, nil
}

// GenerateSession draws every list of the session from pool using rng. The
// practice and pre-stimulation lists come first in order; the remaining lists
// are shuffled.
func GenerateSession(rng *rand.Rand, pool []string, spec RepeatSpec, plan ListPlan) (Session, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	src := &wordSource{words: slices.Clone(pool)}

	build := func(n int, enc, rec bool) ([]List, error) {
		lists := make([]List, 0, n)
		for range n {
			l, err := makeList(rng, src, spec, enc, rec)
			if err != nil {
				return nil, err
			}
			lists = append(lists, l)
		}
		return lists, nil
	}

	var session Session
	for _, g := range []struct {
		n        int
		enc, rec bool
	}{
		{plan.Practice, false, false},
		{plan.PreNoStim, false, false},
	} {
		lists, err := build(g.n, g.enc, g.rec)
		if err != nil {
			return nil, err
		}
		session = append(session, lists...)
	}

	var randomized []List
	for _, g := range []struct {
		n        int
		enc, rec bool
	}{
		{plan.EncodingOnly, true, false},
		{plan.RetrievalOnly, false, true},
		{plan.EncodingAndRetrieval, true, true},
		{plan.NoStim, false, false},
	} {
		lists, err := build(g.n, g.enc, g.rec)
		if err != nil {
			return nil, err
		}
		randomized = append(randomized, lists...)
	}
	rng.Shuffle(len(randomized), func(i, j int) { randomized[i], randomized[j] = randomized[j], randomized[i] })

	return append(session, randomized...), nil
}

// ReadWordPool reads a one-column word list with a header line.
func ReadWordPool(fsys afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read word pool: %w", err)
	}
	var words []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		if w := strings.TrimSpace(sc.Text()); w != "" {
			words = append(words, w)
		}
	}
	return words, sc.Err()
}

// writeWordPool copies pool into the session directory unless a copy exists.
func writeWordPool(fsys afero.Fs, dir string, pool []string) error {
	path := filepath.Join(dir, WordPoolFile)
	ok, err := afero.Exists(fsys, path)
	if err != nil || ok {
		return err
	}
	body := "word\n" + strings.Join(pool, "\n") + "\n"
	return afero.WriteFile(fsys, path, []byte(body), 0o644)
}

// SaveSession writes the session as JSON plus one <n>.lst file per list with
// its distinct words, for annotation tools.
func SaveSession(fsys afero.Fs, dir string, s Session) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, l := range s {
		var unique []string
		for _, w := range l.Encoding {
			if !slices.Contains(unique, w) {
				unique = append(unique, w)
			}
		}
		lst := filepath.Join(dir, strconv.Itoa(i)+".lst")
		if err := afero.WriteFile(fsys, lst, []byte(strings.Join(unique, "\n")), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", lst, err)
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, SessionWordsFile)
	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session words: %w", err)
	}
	return fsys.Rename(tmp, path)
}

// LoadSession reads the session saved by SaveSession. It returns
// fs.ErrNotExist when no session was saved.
func LoadSession(fsys afero.Fs, dir string) (Session, error) {
	data, err := afero.ReadFile(fsys, filepath.Join(dir, SessionWordsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session words: %w", err)
	}
	return s, nil
}
