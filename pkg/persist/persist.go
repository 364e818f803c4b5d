// Package persist implements the per-series snapshot codec from spec §6
// "Persistence layout": {id, labels, retention_ms, duplicate_policy,
// chunk_encoding, chunk_size, rounding, chunks (each self-delimiting and
// typed by codec), last_sample?, first_timestamp}. Grounded on the
// teacher's pkg/metricstore/binaryCheckpoint.go magic+version+LE framing
// idiom, generalized from cc-backend's per-metric float array layout to
// one record per series with heterogeneous, codec-typed chunk blobs.
package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/series"
)

var (
	recordMagic = [4]byte{'T', 'S', 'S', '1'}
	byteOrder   = binary.LittleEndian
)

const recordVersion = uint32(1)

// EncodeSeries writes one series snapshot record to w, matching spec §6's
// persistence layout exactly. Multiple records may be concatenated by the
// host's own snapshot stream framing; this package only frames one record
// at a time, deliberately agnostic of whatever outer container the host
// uses.
func EncodeSeries(w io.Writer, s *series.Series) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}

	if _, err := bw.Write(recordMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, recordVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, s.ID); err != nil {
		return err
	}

	if err := writeLabels(bw, s.Labels); err != nil {
		return err
	}

	if err := binary.Write(bw, byteOrder, s.RetentionMs()); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(s.DuplicatePolicy())); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(s.Encoding())); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, uint32(s.ChunkSizeBytes())); err != nil {
		return err
	}

	rounding := s.Rounding()
	if err := bw.WriteByte(byte(rounding.Kind)); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, int32(rounding.Digits)); err != nil {
		return err
	}

	if tol := s.Tolerance(); tol != nil {
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, tol.MaxTimeDelta); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, tol.MaxValueDelta); err != nil {
			return err
		}
	} else if err := bw.WriteByte(0); err != nil {
		return err
	}

	chunks := s.Chunks()
	if err := binary.Write(bw, byteOrder, uint32(len(chunks))); err != nil {
		return err
	}
	for _, c := range chunks {
		blob, err := c.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if err := bw.WriteByte(byte(c.Encoding())); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, uint32(len(blob))); err != nil {
			return err
		}
		if _, err := bw.Write(blob); err != nil {
			return err
		}
	}

	last, hasLast := s.LastSample()
	if hasLast {
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, last.Timestamp); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, last.Value); err != nil {
			return err
		}
	} else if err := bw.WriteByte(0); err != nil {
		return err
	}

	first, _ := s.FirstTimestamp()
	if err := binary.Write(bw, byteOrder, first); err != nil {
		return err
	}

	return bw.Flush()
}

func writeLabels(w io.Writer, lbls labels.Labels) error {
	if err := binary.Write(w, byteOrder, uint32(len(lbls))); err != nil {
		return err
	}
	for _, l := range lbls {
		if err := writeString(w, l.Name); err != nil {
			return err
		}
		if err := writeString(w, l.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, byteOrder, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// DecodeSeries reads one series snapshot record written by EncodeSeries and
// reconstructs a live *series.Series via series.Restore.
func DecodeSeries(r io.Reader) (*series.Series, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != recordMagic {
		return nil, fmt.Errorf("persist: invalid series record magic %q", magic)
	}

	var version uint32
	if err := binary.Read(br, byteOrder, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != recordVersion {
		return nil, fmt.Errorf("persist: unsupported series record version %d", version)
	}

	var id uint64
	if err := binary.Read(br, byteOrder, &id); err != nil {
		return nil, fmt.Errorf("reading id: %w", err)
	}

	lbls, err := readLabels(br)
	if err != nil {
		return nil, err
	}

	opts := series.Options{Labels: lbls}
	if err := binary.Read(br, byteOrder, &opts.RetentionMs); err != nil {
		return nil, fmt.Errorf("reading retention: %w", err)
	}

	policyByte, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading duplicate policy: %w", err)
	}
	opts.DuplicatePolicy = sample.DuplicatePolicy(policyByte)

	encByte, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading chunk encoding: %w", err)
	}
	opts.ChunkEncoding = chunk.Encoding(encByte)

	var chunkSize uint32
	if err := binary.Read(br, byteOrder, &chunkSize); err != nil {
		return nil, fmt.Errorf("reading chunk size: %w", err)
	}
	opts.ChunkSizeBytes = int(chunkSize)

	roundKind, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading rounding kind: %w", err)
	}
	var digits int32
	if err := binary.Read(br, byteOrder, &digits); err != nil {
		return nil, fmt.Errorf("reading rounding digits: %w", err)
	}
	opts.Rounding = sample.Rounding{Kind: sample.RoundingKind(roundKind), Digits: int(digits)}

	hasTol, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading tolerance flag: %w", err)
	}
	if hasTol == 1 {
		var tol sample.Tolerance
		if err := binary.Read(br, byteOrder, &tol.MaxTimeDelta); err != nil {
			return nil, fmt.Errorf("reading tolerance time delta: %w", err)
		}
		if err := binary.Read(br, byteOrder, &tol.MaxValueDelta); err != nil {
			return nil, fmt.Errorf("reading tolerance value delta: %w", err)
		}
		opts.Tolerance = &tol
	}

	var nchunks uint32
	if err := binary.Read(br, byteOrder, &nchunks); err != nil {
		return nil, fmt.Errorf("reading chunk count: %w", err)
	}
	chunks := make([]chunk.Chunk, 0, nchunks)
	for i := uint32(0); i < nchunks; i++ {
		encByte, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d encoding: %w", i, err)
		}
		var blobLen uint32
		if err := binary.Read(br, byteOrder, &blobLen); err != nil {
			return nil, fmt.Errorf("reading chunk %d length: %w", i, err)
		}
		blob := make([]byte, blobLen)
		if _, err := io.ReadFull(br, blob); err != nil {
			return nil, fmt.Errorf("reading chunk %d body: %w", i, err)
		}
		c, err := chunk.Decode(chunk.Encoding(encByte), opts.ChunkSizeBytes, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding chunk %d: %w", i, err)
		}
		chunks = append(chunks, c)
	}

	hasLast, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading last-sample flag: %w", err)
	}
	if hasLast == 1 {
		var discard sample.Sample
		if err := binary.Read(br, byteOrder, &discard.Timestamp); err != nil {
			return nil, fmt.Errorf("reading last-sample timestamp: %w", err)
		}
		if err := binary.Read(br, byteOrder, &discard.Value); err != nil {
			return nil, fmt.Errorf("reading last-sample value: %w", err)
		}
		// The chunks already carry this value; the persisted copy is a
		// convenience field for readers that don't want to decode chunks,
		// not an independent source of truth.
	}

	var discardFirst int64
	if err := binary.Read(br, byteOrder, &discardFirst); err != nil {
		return nil, fmt.Errorf("reading first timestamp: %w", err)
	}

	return series.Restore(id, opts, chunks), nil
}

func readLabels(r io.Reader) (labels.Labels, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return nil, fmt.Errorf("reading label count: %w", err)
	}
	out := make(labels.Labels, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading label %d name: %w", i, err)
		}
		value, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading label %d value: %w", i, err)
		}
		out = append(out, labels.Label{Name: name, Value: value})
	}
	return out, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
