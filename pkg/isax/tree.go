// Package isax implements the iSAX similarity index: an n-ary tree whose
// nodes are labeled by iSAX words at doubling cardinality, with bounded
// leaf payloads kept in a side table keyed by word.
package isax

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Tunable parameters with their stock values.
const (
	DefaultChunks      = 4  // w: chunks per word
	DefaultCardinality = 4  // a: base cardinality
	DefaultThreshold   = 5  // TH: series per leaf before a split
	DefaultMaxLevel    = 10 // depth at which leaves stop splitting
)

// entry is one stored (series, pk) pair.
type entry struct {
	ts types.TimeSeries
	pk string
}

// node lives in the tree's arena; children are ids, not pointers, and
// leaf payloads live out-of-band in the payload table.
type node struct {
	word     string
	level    int
	children map[string]int // child word -> arena id
}

// Tree is the iSAX index. It is rebuilt from the primary index and TS
// heap at database open and maintained incrementally afterwards.
type Tree struct {
	w        int
	a        int
	th       int
	maxLevel int

	arena   []node
	payload map[string][]entry // word -> stored series
}

// New returns an empty tree with the stock parameters.
func New() *Tree {
	return &Tree{
		w:        DefaultChunks,
		a:        DefaultCardinality,
		th:       DefaultThreshold,
		maxLevel: DefaultMaxLevel,
		arena:    []node{{word: "root", level: 0, children: make(map[string]int)}},
		payload:  make(map[string][]entry),
	}
}

// cardinalityAt is the word cardinality of nodes at the given level (the
// root's children are level 1): a * 2^(level-1).
func (t *Tree) cardinalityAt(level int) int {
	return t.a * (1 << (level - 1))
}

func (t *Tree) newNode(word string, level int) int {
	id := len(t.arena)
	t.arena = append(t.arena, node{
		word:     word,
		level:    level,
		children: make(map[string]int),
	})
	return id
}

func (t *Tree) hasSeries(word string, ts types.TimeSeries) bool {
	for _, e := range t.payload[word] {
		if e.ts.Equal(ts) {
			return true
		}
	}
	return false
}

func (t *Tree) store(word string, ts types.TimeSeries, pk string) {
	t.payload[word] = append(t.payload[word], entry{ts: ts.Clone(), pk: pk})
}

func (t *Tree) unstore(word string, ts types.TimeSeries) {
	kept := t.payload[word][:0]
	for _, e := range t.payload[word] {
		if !e.ts.Equal(ts) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(t.payload, word)
	} else {
		t.payload[word] = kept
	}
}

// Insert adds (ts, pk) to the tree. Bit-identical duplicate series are
// ignored regardless of pk.
func (t *Tree) Insert(ts types.TimeSeries, pk string) {
	t.insertAt(0, 1, ts, pk)
}

func (t *Tree) insertAt(nodeID, level int, ts types.TimeSeries, pk string) {
	word := Word(ts.Values, t.w, t.cardinalityAt(level))

	if t.hasSeries(word, ts) {
		return // exact duplicate
	}

	childID, ok := t.arena[nodeID].children[word]
	if !ok {
		// fresh leaf under this node
		id := t.newNode(word, level)
		t.arena[nodeID].children[word] = id
		t.store(word, ts, pk)
		return
	}

	child := &t.arena[childID]
	if len(child.children) > 0 {
		// internal node: descend
		t.insertAt(childID, level+1, ts, pk)
		return
	}

	stored := t.payload[word]
	switch {
	case len(stored) < t.th:
		t.store(word, ts, pk)
	case level == t.maxLevel:
		// depth capped: the leaf grows past the threshold
		t.store(word, ts, pk)
	default:
		// split: push every stored series one level down, then the
		// newcomer
		moved := make([]entry, len(stored))
		copy(moved, stored)
		for _, e := range moved {
			t.insertAt(childID, level+1, e.ts, e.pk)
			t.unstore(Word(e.ts.Values, t.w, t.cardinalityAt(level)), e.ts)
		}
		t.insertAt(childID, level+1, ts, pk)
	}
}

// Delete removes the series from the tree, matching bit-identically.
func (t *Tree) Delete(ts types.TimeSeries) {
	t.deleteAt(0, 1, ts)
}

func (t *Tree) deleteAt(nodeID, level int, ts types.TimeSeries) {
	word := Word(ts.Values, t.w, t.cardinalityAt(level))

	if t.hasSeries(word, ts) {
		t.unstore(word, ts)
		return
	}

	childID, ok := t.arena[nodeID].children[word]
	if !ok {
		return // never stored
	}
	if len(t.arena[childID].children) > 0 {
		t.deleteAt(childID, level+1, ts)
	}
}

// Nearest performs the approximate nearest-neighbor search: descend to
// the leaf holding the query's word; if that leaf is empty, widen to the
// siblings under the same parent. Ties among candidates break by
// Euclidean distance. Returns the pk and distance, or ok=false when the
// tree offers no suggestion.
func (t *Tree) Nearest(ts types.TimeSeries) (string, float64, bool) {
	return t.nearestAt(0, 1, ts)
}

func (t *Tree) nearestAt(nodeID, level int, ts types.TimeSeries) (string, float64, bool) {
	word := Word(ts.Values, t.w, t.cardinalityAt(level))

	if stored := t.payload[word]; len(stored) > 0 {
		return closest(ts, stored)
	}

	childID, ok := t.arena[nodeID].children[word]
	if !ok {
		return "", 0, false
	}

	child := &t.arena[childID]
	if len(child.children) > 0 {
		return t.nearestAt(childID, level+1, ts)
	}

	// empty leaf: consider every sibling's payload
	var candidates []entry
	for siblingWord := range t.arena[nodeID].children {
		candidates = append(candidates, t.payload[siblingWord]...)
	}
	if len(candidates) == 0 {
		return "", 0, false
	}
	return closest(ts, candidates)
}

func closest(ts types.TimeSeries, candidates []entry) (string, float64, bool) {
	best := ""
	bestDist := math.Inf(1)
	for _, e := range candidates {
		d := euclidean(ts.Values, e.ts.Values)
		if d < bestDist {
			bestDist = d
			best = e.pk
		}
	}
	return best, bestDist, true
}

// Render returns the preorder textual rendering of the tree: one line
// per node, "---" indentation per level, "word: count" labels.
func (t *Tree) Render() string {
	var sb strings.Builder
	t.render(&sb, 0)
	return sb.String()
}

func (t *Tree) render(sb *strings.Builder, nodeID int) {
	n := &t.arena[nodeID]
	if nodeID == 0 {
		sb.WriteString(n.word)
		sb.WriteByte('\n')
	} else {
		fmt.Fprintf(sb, "%s>%s: %d\n", strings.Repeat("---", n.level), n.word, len(t.payload[n.word]))
	}

	words := make([]string, 0, len(n.children))
	for word := range n.children {
		words = append(words, word)
	}
	sort.Strings(words)
	for _, word := range words {
		t.render(sb, n.children[word])
	}
}
