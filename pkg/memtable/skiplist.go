package memtable

import (
	"math/rand"
	"time"

	"github.com/arkedb/lsmengine/pkg/key"
)

// skipList is a probabilistic sorted structure ordered by key.Compare,
// i.e. ascending user key then descending timestamp. Grounded on
// pkg/lsm/skiplist.go (laura-db), re-keyed from raw []byte to the
// engine's composite (user_key, ts) ordering.
const (
	maxLevel    = 16
	probability = 0.25
)

type skipNode struct {
	k       key.Timestamped
	v       any
	forward []*skipNode
}

type skipList struct {
	head   *skipNode
	level  int
	size   int
	random *rand.Rand
}

func newSkipList(random *rand.Rand) *skipList {
	return &skipList{
		head:   &skipNode{forward: make([]*skipNode, maxLevel)},
		level:  1,
		random: random,
	}
}

func newSeededRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (sl *skipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && sl.random.Float64() < probability {
		lvl++
	}
	return lvl
}

// upsert inserts or overwrites the value at k. Returns true if a new
// node was created (as opposed to overwriting an existing one). The
// mutable table ignores the result: its byte-size estimate grows by the
// payload length on every apply, new node or not.
func (sl *skipList) upsert(k key.Timestamped, v any) bool {
	update := make([]*skipNode, maxLevel)
	cur := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && key.Compare(cur.forward[i].k, k) < 0 {
			cur = cur.forward[i]
		}
		update[i] = cur
	}
	cur = cur.forward[0]
	if cur != nil && key.Equal(cur.k, k) {
		cur.v = v
		return false
	}

	lvl := sl.randomLevel()
	if lvl > sl.level {
		for i := sl.level; i < lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}
	node := &skipNode{k: k, v: v, forward: make([]*skipNode, lvl)}
	for i := 0; i < lvl; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	sl.size++
	return true
}

// seekGE returns the first node with key.Compare(node.k, k) >= 0.
func (sl *skipList) seekGE(k key.Timestamped) *skipNode {
	cur := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && key.Compare(cur.forward[i].k, k) < 0 {
			cur = cur.forward[i]
		}
	}
	return cur.forward[0]
}
