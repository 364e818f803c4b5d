package store

import "github.com/embeddedts/tstore/pkg/tserr"

// Rename moves a series from srcKey to dstKey within the same database
// (spec §6 "RENAME key newkey"). The series id, samples, and compaction
// rules are unaffected; only its key and label-index entry change.
func (st *Store) Rename(db int, srcKey, dstKey string, guard KeyGuard) error {
	g := guardOrNoop(guard)
	g.Lock(db, srcKey)
	defer g.Unlock(db, srcKey)
	g.Lock(db, dstKey)
	defer g.Unlock(db, dstKey)

	d := st.getDB(db)
	d.mu.Lock()
	s, ok := d.byKey[srcKey]
	if !ok {
		d.mu.Unlock()
		return tserr.ErrKeyNotFound
	}
	if _, exists := d.byKey[dstKey]; exists {
		d.mu.Unlock()
		return tserr.ErrDuplicateSeries
	}
	delete(d.byKey, srcKey)
	d.byKey[dstKey] = s
	d.mu.Unlock()

	d.index.RemoveTimeSeries(s.ID, toPostingLabels(s.Labels))
	d.index.IndexTimeSeries(s.ID, keyBytes(dstKey), toPostingLabels(s.Labels))
	return nil
}

// Move relocates a series to a different numbered database, preserving its
// series id and compaction rules (spec §9 Open Question 2 resolution:
// "cross-DB move-to preserves series id"). Fails with ErrDuplicateSeries if
// key already exists in the destination database.
func (st *Store) Move(srcDB int, key string, dstDB int, guard KeyGuard) error {
	if srcDB == dstDB {
		return nil
	}
	g := guardOrNoop(guard)
	g.Lock(srcDB, key)
	defer g.Unlock(srcDB, key)
	g.Lock(dstDB, key)
	defer g.Unlock(dstDB, key)

	src := st.getDB(srcDB)
	dst := st.getDB(dstDB)

	src.mu.Lock()
	s, ok := src.byKey[key]
	if !ok {
		src.mu.Unlock()
		return tserr.ErrKeyNotFound
	}
	src.mu.Unlock()

	dst.mu.Lock()
	if _, exists := dst.byKey[key]; exists {
		dst.mu.Unlock()
		return tserr.ErrDuplicateSeries
	}
	dst.byKey[key] = s
	if s.ID > dst.nextID {
		dst.nextID = s.ID
	}
	dst.mu.Unlock()

	src.mu.Lock()
	delete(src.byKey, key)
	src.mu.Unlock()

	src.index.RemoveTimeSeries(s.ID, toPostingLabels(s.Labels))
	dst.index.IndexTimeSeries(s.ID, keyBytes(key), toPostingLabels(s.Labels))
	return nil
}
