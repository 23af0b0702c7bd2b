package btree

import (
	"sort"

	"github.com/bobboyms/tsdb/pkg/types"
)

// PKSet is the posting set stored under one key: the primary keys whose
// field value equals the key.
type PKSet map[string]struct{}

func NewPKSet() PKSet {
	return make(PKSet)
}

func (s PKSet) Add(pk string)    { s[pk] = struct{}{} }
func (s PKSet) Remove(pk string) { delete(s, pk) }

func (s PKSet) Contains(pk string) bool {
	_, ok := s[pk]
	return ok
}

func (s PKSet) Len() int { return len(s) }

// Slice returns the members in unspecified order.
func (s PKSet) Slice() []string {
	out := make([]string, 0, len(s))
	for pk := range s {
		out = append(out, pk)
	}
	return out
}

type Node struct {
	T        int                // minimum degree
	Keys     []types.Comparable // keys
	Sets     []PKSet            // posting sets (leaves only)
	Children []*Node            // children (internal nodes only)
	Leaf     bool
	N        int   // current key count
	Next     *Node // next leaf (linked list for in-order scans)
}

func NewNode(t int, leaf bool) *Node {
	return &Node{
		T:        t,
		Leaf:     leaf,
		Keys:     make([]types.Comparable, 0, 2*t-1),
		Sets:     make([]PKSet, 0, 2*t-1),
		Children: make([]*Node, 0, 2*t),
	}
}

func (n *Node) IsFull() bool {
	return n.N == 2*n.T-1
}

func (n *Node) findLeafLowerBound(key types.Comparable) (*Node, int) {
	if n.Leaf {
		i := sort.Search(n.N, func(i int) bool {
			return n.Keys[i].Compare(key) >= 0
		})
		return n, i
	}

	// separator i is the smallest key of Children[i+1], so a key equal
	// to it lives in the right subtree
	i := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) > 0
	})
	return n.Children[i].findLeafLowerBound(key)
}

// upsertNonFull inserts key into a guaranteed-non-full subtree and
// returns the posting set for it, creating an empty one for new keys.
func (n *Node) upsertNonFull(key types.Comparable) PKSet {
	if n.Leaf {
		idx := sort.Search(n.N, func(j int) bool {
			return n.Keys[j].Compare(key) >= 0
		})

		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			return n.Sets[idx]
		}

		set := NewPKSet()
		n.Keys = append(n.Keys, nil)
		n.Sets = append(n.Sets, nil)
		copy(n.Keys[idx+1:], n.Keys[idx:])
		copy(n.Sets[idx+1:], n.Sets[idx:])
		n.Keys[idx] = key
		n.Sets[idx] = set
		n.N++
		return set
	}

	// internal node: find the child, splitting preemptively
	i := n.N - 1
	for i >= 0 && key.Compare(n.Keys[i]) < 0 {
		i--
	}
	i++

	if n.Children[i].IsFull() {
		n.SplitChild(i)
		if key.Compare(n.Keys[i]) >= 0 {
			i++
		}
	}
	return n.Children[i].upsertNonFull(key)
}

func (n *Node) SplitChild(i int) {
	t := n.T
	y := n.Children[i]
	z := NewNode(t, y.Leaf)

	if y.Leaf {
		// B+ tree: the middle key stays in the right leaf
		mid := t - 1
		z.N = y.N - mid
		z.Keys = append(z.Keys, y.Keys[mid:]...)
		z.Sets = append(z.Sets, y.Sets[mid:]...)

		y.Keys = y.Keys[:mid]
		y.Sets = y.Sets[:mid]
		y.N = mid

		z.Next = y.Next
		y.Next = z

		// the first key of z is copied up as the separator
		n.Keys = append(n.Keys, nil)
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = z.Keys[0]

		n.Children = append(n.Children, nil)
		copy(n.Children[i+2:], n.Children[i+1:])
		n.Children[i+1] = z
		n.N++
		return
	}

	// internal node: the middle key moves up and leaves the child
	mid := t - 1
	z.N = t - 1
	z.Keys = append(z.Keys, y.Keys[mid+1:]...)
	z.Children = append(z.Children, y.Children[mid+1:]...)

	upKey := y.Keys[mid]

	y.Keys = y.Keys[:mid]
	y.Children = y.Children[:mid+1]
	y.N = mid

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = upKey

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = z
	n.N++
}

func (n *Node) remove(key types.Comparable) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})

	if n.Leaf {
		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
			n.Sets = append(n.Sets[:idx], n.Sets[idx+1:]...)
			n.N--
			return true
		}
		return false
	}

	// In a B+ tree the real entry always lives in a leaf; separators
	// only steer the descent.
	childIdx := idx
	if idx < n.N && n.Keys[idx].Compare(key) == 0 {
		childIdx = idx + 1
	}

	child := n.Children[childIdx]
	if child.N < n.T {
		n.fill(childIdx)
	}

	// rebalancing may have moved the key to another child
	return n.removeRecursive(key)
}

func (n *Node) removeRecursive(key types.Comparable) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})

	childIdx := idx
	if idx < n.N && n.Keys[idx].Compare(key) == 0 {
		childIdx = idx + 1
	}

	// a merge may have shrunk the child list
	if childIdx > n.N {
		childIdx = n.N
	}

	ok := n.Children[childIdx].remove(key)

	if ok {
		n.fixSeparators()
	}

	return ok
}

func (n *Node) fixSeparators() {
	if n.Leaf {
		return
	}
	for i := 0; i < n.N; i++ {
		// separator i is the smallest key of the subtree Children[i+1]
		curr := n.Children[i+1]
		for !curr.Leaf {
			curr = curr.Children[0]
		}
		if curr.N > 0 {
			n.Keys[i] = curr.Keys[0]
		}
	}
}

func (n *Node) fill(i int) {
	if i != 0 && n.Children[i-1].N >= n.T {
		n.borrowFromPrev(i)
	} else if i != n.N && n.Children[i+1].N >= n.T {
		n.borrowFromNext(i)
	} else {
		if i != n.N {
			n.merge(i)
		} else {
			n.merge(i - 1)
		}
	}
}

func (n *Node) borrowFromPrev(i int) {
	child := n.Children[i]
	sibling := n.Children[i-1]

	if child.Leaf {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Sets = append([]PKSet{nil}, child.Sets...)
		child.Keys[0] = sibling.Keys[sibling.N-1]
		child.Sets[0] = sibling.Sets[sibling.N-1]
		child.N++

		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Sets = sibling.Sets[:sibling.N-1]
		sibling.N--

		n.Keys[i-1] = child.Keys[0]
	} else {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Children = append([]*Node{nil}, child.Children...)
		child.Keys[0] = n.Keys[i-1]
		child.Children[0] = sibling.Children[sibling.N]
		child.N++

		n.Keys[i-1] = sibling.Keys[sibling.N-1]
		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Children = sibling.Children[:sibling.N]
		sibling.N--
	}
}

func (n *Node) borrowFromNext(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys[0])
		child.Sets = append(child.Sets, sibling.Sets[0])
		child.N++

		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Sets = append([]PKSet{}, sibling.Sets[1:]...)
		sibling.N--

		n.Keys[i] = sibling.Keys[0]
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Children = append(child.Children, sibling.Children[0])
		child.N++

		n.Keys[i] = sibling.Keys[0]
		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Children = append([]*Node{}, sibling.Children[1:]...)
		sibling.N--
	}
}

func (n *Node) merge(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Sets = append(child.Sets, sibling.Sets...)
		child.Next = sibling.Next
		child.N = len(child.Keys)
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Children = append(child.Children, sibling.Children...)
		child.N = len(child.Keys)
	}

	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
	n.N--
}
