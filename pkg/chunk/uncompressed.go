package chunk

import (
	"encoding/binary"
	"math"

	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// uncompressedChunk is the flat sample-array codec (spec §4.1).
type uncompressedChunk struct {
	maxSize  int
	capacity int
	samples  []sample.Sample
}

func newUncompressedChunk(maxSize int) *uncompressedChunk {
	return &uncompressedChunk{
		maxSize:  maxSize,
		capacity: maxSize / BytesPerSample,
	}
}

func (c *uncompressedChunk) Encoding() Encoding { return Uncompressed }
func (c *uncompressedChunk) MaxSize() int       { return c.maxSize }
func (c *uncompressedChunk) Count() int         { return len(c.samples) }
func (c *uncompressedChunk) IsEmpty() bool      { return len(c.samples) == 0 }

func (c *uncompressedChunk) FirstTimestamp() int64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[0].Timestamp
}

func (c *uncompressedChunk) LastTimestamp() int64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[len(c.samples)-1].Timestamp
}

func (c *uncompressedChunk) LastValue() float64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[len(c.samples)-1].Value
}

func (c *uncompressedChunk) SizeBytes() int {
	return len(c.samples) * BytesPerSample
}

func (c *uncompressedChunk) WouldExceedCapacity() bool {
	return len(c.samples) >= c.capacity
}

func (c *uncompressedChunk) Add(s sample.Sample) error {
	if c.WouldExceedCapacity() {
		return tserr.ErrCapacityFull
	}
	if !c.IsEmpty() && s.Timestamp == c.LastTimestamp() {
		return tserr.ErrDuplicateSample
	}
	c.samples = append(c.samples, s)
	return nil
}

func (c *uncompressedChunk) Upsert(s sample.Sample, policy sample.DuplicatePolicy) (Result, error) {
	if c.IsEmpty() || s.Timestamp > c.LastTimestamp() {
		if err := c.Add(s); err != nil {
			return ResultError, err
		}
		return ResultOK, nil
	}

	merged, results := mergeSortedUpsert(c.samples, []sample.Sample{s}, policy)
	c.samples = merged
	return results[0], nil
}

func (c *uncompressedChunk) GetRange(start, end int64) []sample.Sample {
	lo := searchFirst(c.samples, start)
	var out []sample.Sample
	for i := lo; i < len(c.samples) && c.samples[i].Timestamp <= end; i++ {
		out = append(out, c.samples[i])
	}
	return out
}

func (c *uncompressedChunk) RemoveRange(start, end int64) int {
	lo := searchFirst(c.samples, start)
	hi := lo
	for hi < len(c.samples) && c.samples[hi].Timestamp <= end {
		hi++
	}
	removed := hi - lo
	if removed > 0 {
		c.samples = append(c.samples[:lo], c.samples[hi:]...)
	}
	return removed
}

func (c *uncompressedChunk) Split() (Chunk, error) {
	n := len(c.samples)
	mid := n / 2
	upper := &uncompressedChunk{
		maxSize:  c.maxSize,
		capacity: c.capacity,
		samples:  append([]sample.Sample(nil), c.samples[mid:]...),
	}
	c.samples = c.samples[:mid:mid]
	return upper, nil
}

func (c *uncompressedChunk) MergeSamples(batch []sample.Sample, policy sample.DuplicatePolicy) []Result {
	if len(batch) == 0 {
		return nil
	}
	if c.IsEmpty() || batch[0].Timestamp > c.LastTimestamp() {
		results := make([]Result, len(batch))
		for i, s := range batch {
			if err := c.Add(s); err != nil {
				results[i] = ResultError
			} else {
				results[i] = ResultOK
			}
		}
		return results
	}
	merged, results := mergeSortedUpsert(c.samples, batch, policy)
	c.samples = merged
	return results
}

// searchFirst returns the index of the first sample with Timestamp >= ts.
func searchFirst(samples []sample.Sample, ts int64) int {
	lo, hi := 0, len(samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if samples[mid].Timestamp < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (c *uncompressedChunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4, 4+len(c.samples)*16)
	binary.LittleEndian.PutUint32(buf, uint32(len(c.samples)))
	for _, s := range c.samples {
		var tmp [16]byte
		binary.LittleEndian.PutUint64(tmp[0:8], uint64(s.Timestamp))
		binary.LittleEndian.PutUint64(tmp[8:16], math.Float64bits(s.Value))
		buf = append(buf, tmp[:]...)
	}
	return buf, nil
}

// UnmarshalUncompressed decodes the format written by MarshalBinary.
func UnmarshalUncompressed(maxSize int, data []byte) (*uncompressedChunk, error) {
	if len(data) < 4 {
		return nil, tserr.ErrDeserialize
	}
	n := binary.LittleEndian.Uint32(data)
	c := newUncompressedChunk(maxSize)
	off := 4
	c.samples = make([]sample.Sample, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+16 > len(data) {
			return nil, tserr.ErrDeserialize
		}
		ts := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16]))
		c.samples = append(c.samples, sample.Sample{Timestamp: ts, Value: v})
		off += 16
	}
	return c, nil
}
