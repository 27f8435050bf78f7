package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"loyaltyledger/core"
)

// Board abstracts ranking-cache operations.
type Board interface {
	Update(e Entry)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
}

const (
	maxHeight = 16
	promoteP  = 0.25
)

type node struct {
	e     Entry
	tower []*node
}

// SkipList keeps entries ordered by (score desc, created asc, user asc)
// with O(log n) updates. It backs Cache, which feeds it from balance events
// so hot leaderboard reads skip the ledger scan.
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	height int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	// Seed PCG from crypto/rand so independent caches don't share towers
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	return &SkipList{
		head:   &node{tower: make([]*node, maxHeight)},
		height: 1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

// pickHeight draws a tower height from a geometric distribution.
func (s *SkipList) pickHeight() int {
	h := 1
	for h < maxHeight && s.rng.Float64() < promoteP {
		h++
	}
	return h
}

// predecessors returns, per level, the last node ordered before e.
func (s *SkipList) predecessors(e Entry) []*node {
	prev := make([]*node, maxHeight)
	cur := s.head
	for i := s.height - 1; i >= 0; i-- {
		for cur.tower[i] != nil && entryLess(cur.tower[i].e, e) {
			cur = cur.tower[i]
		}
		prev[i] = cur
	}
	return prev
}

// Update inserts or moves a user to its new score.
func (s *SkipList) Update(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[e.UserID]; ok {
		s.unlink(old)
	}
	prev := s.predecessors(e)
	h := s.pickHeight()
	if h > s.height {
		for i := s.height; i < h; i++ {
			prev[i] = s.head
		}
		s.height = h
	}
	n := &node{e: e, tower: make([]*node, h)}
	for i := 0; i < h; i++ {
		n.tower[i] = prev[i].tower[i]
		prev[i].tower[i] = n
	}
	s.byUser[e.UserID] = n
}

// unlink splices a node out of every level it appears on.
func (s *SkipList) unlink(target *node) {
	prev := s.predecessors(target.e)
	for i := range target.tower {
		if prev[i].tower[i] == target {
			prev[i].tower[i] = target.tower[i]
		}
	}
	delete(s.byUser, target.e.UserID)
	for s.height > 1 && s.head.tower[s.height-1] == nil {
		s.height--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.unlink(n)
	}
}

// TopN returns the best n entries with 1-based ranks assigned.
func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	for cur := s.head.tower[0]; cur != nil && len(out) < n; cur = cur.tower[0] {
		e := cur.e
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return n.e, true
	}
	return Entry{}, false
}

var _ Board = (*SkipList)(nil)
