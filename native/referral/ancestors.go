package referral

import (
	"github.com/ethereum/go-ethereum/common"
)

// AncestorIter walks a participant's ancestors nearest first. It is lazy and
// cannot be rewound. The walk stops at the sentinel root (yielded once as a
// final element with Sentinel set), at an unregistered identity, or after
// maxLevels elements.
//
//	it := reg.Ancestors(user, group, 10)
//	for it.Next() {
//		a := it.Ancestor()
//	}
//	if err := it.Err(); err != nil { ... }
type AncestorIter struct {
	st        graphReader
	group     GroupID
	cur       common.Address
	remaining int
	level     int
	current   Ancestor
	done      bool
	err       error
}

func newAncestorIter(st graphReader, user common.Address, group GroupID, maxLevels int) *AncestorIter {
	if maxLevels > MaxTraversalHops {
		maxLevels = MaxTraversalHops
	}
	it := &AncestorIter{st: st, group: group, cur: user, remaining: maxLevels}
	if maxLevels <= 0 || user == (common.Address{}) {
		it.done = true
	}
	return it
}

// Next advances the cursor and reports whether an ancestor is available.
func (it *AncestorIter) Next() bool {
	if it == nil || it.done {
		return false
	}
	if it.remaining <= 0 {
		it.done = true
		return false
	}
	rec, found, err := loadEdge(it.st, it.group, it.cur)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !found {
		it.done = true
		return false
	}
	it.level++
	it.remaining--
	if rec.Root {
		it.current = Ancestor{Level: it.level, Sentinel: true}
		it.done = true
		return true
	}
	it.current = Ancestor{Address: rec.Referrer, Level: it.level}
	it.cur = rec.Referrer
	return true
}

// Ancestor returns the element produced by the last successful Next.
func (it *AncestorIter) Ancestor() Ancestor {
	return it.current
}

// Err returns the first read error encountered, if any.
func (it *AncestorIter) Err() error {
	if it == nil {
		return nil
	}
	return it.err
}

// Collect drains the cursor.
func (it *AncestorIter) Collect() ([]Ancestor, error) {
	var out []Ancestor
	for it.Next() {
		out = append(out, it.Ancestor())
	}
	return out, it.Err()
}
