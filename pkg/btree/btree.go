package btree

import (
	"github.com/bobboyms/tsdb/pkg/types"
)

// DefaultDegree is the minimum degree used by the secondary indexes.
const DefaultDegree = 16

// BPlusTree maps Comparable keys to posting sets of primary keys.
// Leaves are chained for in-order traversal, which backs range
// predicates and indexed sorts.
//
// The tree is single-writer: the database facade serializes every index
// mutation, so nodes carry no latches.
type BPlusTree struct {
	T    int
	Root *Node
}

func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:    t,
		Root: NewNode(t, true),
	}
}

// GetOrCreate returns the posting set for key, inserting an empty one if
// the key is new.
func (b *BPlusTree) GetOrCreate(key types.Comparable) PKSet {
	root := b.Root
	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		root = newRoot
	}
	return root.upsertNonFull(key)
}

// Get returns the posting set for key, if present.
func (b *BPlusTree) Get(key types.Comparable) (PKSet, bool) {
	if b == nil || b.Root == nil {
		return nil, false
	}
	leaf, idx := b.Root.findLeafLowerBound(key)
	if idx < leaf.N && leaf.Keys[idx].Compare(key) == 0 {
		return leaf.Sets[idx], true
	}
	return nil, false
}

// Delete removes key and its posting set entirely.
func (b *BPlusTree) Delete(key types.Comparable) bool {
	ok := b.Root.remove(key)
	if ok && !b.Root.Leaf && b.Root.N == 0 {
		// root collapsed to a single child
		b.Root = b.Root.Children[0]
	}
	return ok
}

// Ascend walks keys in ascending order, calling fn for each until it
// returns false.
func (b *BPlusTree) Ascend(fn func(key types.Comparable, set PKSet) bool) {
	curr := b.Root
	for !curr.Leaf {
		curr = curr.Children[0]
	}
	for curr != nil {
		for i := 0; i < curr.N; i++ {
			if !fn(curr.Keys[i], curr.Sets[i]) {
				return
			}
		}
		curr = curr.Next
	}
}

// AscendFrom walks keys >= start in ascending order.
func (b *BPlusTree) AscendFrom(start types.Comparable, fn func(key types.Comparable, set PKSet) bool) {
	leaf, idx := b.Root.findLeafLowerBound(start)
	for leaf != nil {
		for i := idx; i < leaf.N; i++ {
			if !fn(leaf.Keys[i], leaf.Sets[i]) {
				return
			}
		}
		leaf = leaf.Next
		idx = 0
	}
}

// Keys returns every key in ascending order.
func (b *BPlusTree) Keys() []types.Comparable {
	var keys []types.Comparable
	b.Ascend(func(key types.Comparable, _ PKSet) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Len returns the number of distinct keys.
func (b *BPlusTree) Len() int {
	n := 0
	b.Ascend(func(types.Comparable, PKSet) bool {
		n++
		return true
	})
	return n
}
