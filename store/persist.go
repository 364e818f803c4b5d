package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/embeddedts/tstore/internal/tslog"
	"github.com/embeddedts/tstore/pkg/persist"
	"github.com/embeddedts/tstore/pkg/series"
)

var (
	snapshotMagic = [4]byte{'T', 'S', 'D', 'B'}
	byteOrderLE   = binary.LittleEndian
)

const snapshotVersion = uint32(1)

// SaveAll writes every database's series to w as one self-delimiting
// snapshot stream: a header, then per database a count-prefixed run of
// (key, persist.EncodeSeries record) pairs. persist.go deliberately frames
// only one series record at a time (host-agnostic of outer container);
// this is that outer multi-DB, multi-series container (spec §6
// "Persistence layout").
func (st *Store) SaveAll(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrderLE, snapshotVersion); err != nil {
		return err
	}

	st.mu.RLock()
	dbIDs := make([]int, 0, len(st.dbs))
	for id := range st.dbs {
		dbIDs = append(dbIDs, id)
	}
	st.mu.RUnlock()

	if err := binary.Write(bw, byteOrderLE, uint32(len(dbIDs))); err != nil {
		return err
	}
	for _, id := range dbIDs {
		d := st.getDB(id)
		d.mu.RLock()
		keys := make([]string, 0, len(d.byKey))
		byKey := make(map[string]*series.Series, len(d.byKey))
		for k, s := range d.byKey {
			keys = append(keys, k)
			byKey[k] = s
		}
		d.mu.RUnlock()

		if err := binary.Write(bw, byteOrderLE, int32(id)); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrderLE, uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			if err := writeString16(bw, k); err != nil {
				return err
			}
			if err := persist.EncodeSeries(bw, byKey[k]); err != nil {
				return fmt.Errorf("store: saving key %q: %w", k, err)
			}
		}
	}

	return bw.Flush()
}

// LoadAll reads a snapshot written by SaveAll and repopulates the Store,
// adding to (or overwriting, by key) any existing contents of the
// databases it describes. GC target is lowered for the duration of the
// load and restored afterward, mirroring metricstore.go's Init()
// bulk-checkpoint-load dance: loading many series back to back allocates
// rapidly enough that the default GC target causes repeated heap doubling,
// so a tighter target (plus a forced collection once loading finishes)
// keeps steady-state memory use lower.
func (st *Store) LoadAll(r io.Reader) error {
	oldGCPercent := debug.SetGCPercent(20)
	defer func() {
		debug.SetGCPercent(oldGCPercent)
		runtime.GC()
	}()

	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return fmt.Errorf("store: reading snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("store: invalid snapshot magic %q", magic)
	}
	var version uint32
	if err := binary.Read(br, byteOrderLE, &version); err != nil {
		return fmt.Errorf("store: reading snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("store: unsupported snapshot version %d", version)
	}

	var ndbs uint32
	if err := binary.Read(br, byteOrderLE, &ndbs); err != nil {
		return fmt.Errorf("store: reading db count: %w", err)
	}

	loaded := 0
	for i := uint32(0); i < ndbs; i++ {
		var dbID int32
		if err := binary.Read(br, byteOrderLE, &dbID); err != nil {
			return fmt.Errorf("store: reading db id: %w", err)
		}
		var nseries uint32
		if err := binary.Read(br, byteOrderLE, &nseries); err != nil {
			return fmt.Errorf("store: reading series count: %w", err)
		}

		d := st.getDB(int(dbID))
		for j := uint32(0); j < nseries; j++ {
			key, err := readString16(br)
			if err != nil {
				return fmt.Errorf("store: reading key %d/%d of db %d: %w", j, nseries, dbID, err)
			}
			s, err := persist.DecodeSeries(br)
			if err != nil {
				return fmt.Errorf("store: decoding series %q: %w", key, err)
			}

			d.mu.Lock()
			d.byKey[key] = s
			if s.ID > d.nextID {
				d.nextID = s.ID
			}
			d.mu.Unlock()
			d.index.IndexTimeSeries(s.ID, keyBytes(key), toPostingLabels(s.Labels))
			loaded++
		}
	}

	tslog.Infof("store: loaded %d series from snapshot", loaded)
	return nil
}

func readString16(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, byteOrderLE, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString16(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, byteOrderLE, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
