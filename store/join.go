package store

import (
	"github.com/embeddedts/tstore/pkg/join"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// Join pairs leftKey's samples in [start, end] with rightKey's samples over
// the same window (spec §6 "JOIN left right from to [kind]", resolved per
// spec §9 Open Question 1). Both series are read independently. Join takes
// no KeyGuard: like Range, it reads both series without excluding
// concurrent writers to either key.
func (st *Store) Join(db int, leftKey, rightKey string, start, end int64, opts JoinOptions) ([]JoinedSample, error) {
	d := st.getDB(db)
	left, ok := d.get(leftKey)
	if !ok {
		return nil, tserr.ErrKeyNotFound
	}
	right, ok := d.get(rightKey)
	if !ok {
		return nil, tserr.ErrKeyNotFound
	}

	leftSamples := left.GetRange(start, end)
	rightSamples := right.GetRange(start, end)
	return join.Join(leftSamples, rightSamples, opts), nil
}
