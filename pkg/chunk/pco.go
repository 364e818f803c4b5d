package chunk

import (
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

var (
	pcoEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	pcoDecoder, _ = zstd.NewReader(nil)
)

// encodeTimestampsDelta2 writes an order-2 delta (delta-of-delta) varint
// stream for ts, then zstd-compresses it. This is the grounded substitute
// for the Rust "pco" crate's timestamp compressor: no pack example ships an
// ANS/FP bit-packing library, so delta-of-delta + a general-purpose
// compressor (klauspost/compress, used elsewhere in the pack) stands in.
func encodeTimestampsDelta2(ts []int64) []byte {
	w := newBitWriter()
	var prev, prevDelta int64
	for i, t := range ts {
		switch i {
		case 0:
			w.writeVarint(t)
		case 1:
			prevDelta = t - prev
			w.writeVarint(prevDelta)
		default:
			delta := t - prev
			w.writeVarint(delta - prevDelta)
			prevDelta = delta
		}
		prev = t
	}
	return pcoEncoder.EncodeAll(w.bytes(), nil)
}

func decodeTimestampsDelta2(compressed []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := pcoDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, tserr.ErrDeserialize
	}
	r := newBitReader(raw)
	out := make([]int64, 0, count)
	var prev, prevDelta int64
	for i := 0; i < count; i++ {
		switch i {
		case 0:
			t, err := r.readVarint()
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			prev = t
		case 1:
			d, err := r.readVarint()
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			prevDelta = d
			prev += d
		default:
			dd, err := r.readVarint()
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			prevDelta += dd
			prev += prevDelta
		}
		out = append(out, prev)
	}
	return out, nil
}

func encodeValues(values []float64) []byte {
	raw := scratchPool.Get()
	var b [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		raw = append(raw, b[:]...)
	}
	out := pcoEncoder.EncodeAll(raw, nil)
	scratchPool.Put(raw)
	return out
}

func decodeValues(compressed []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := pcoDecoder.DecodeAll(compressed, nil)
	if err != nil || len(raw) < count*8 {
		return nil, tserr.ErrDeserialize
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8 : i*8+8]))
	}
	return out, nil
}

// PCOChunk holds decoded samples in memory (operations are plain slice
// manipulation, identical in shape to the Uncompressed codec) and produces
// the independently-compressed timestamp/value block layout described in
// spec §4.1 only at (de)serialization time.
type PCOChunk struct {
	maxSize int
	samples []sample.Sample
}

func newPCOChunk(maxSize int) *PCOChunk {
	return &PCOChunk{maxSize: maxSize}
}

func (c *PCOChunk) Encoding() Encoding { return PCO }
func (c *PCOChunk) MaxSize() int       { return c.maxSize }
func (c *PCOChunk) Count() int         { return len(c.samples) }
func (c *PCOChunk) IsEmpty() bool      { return len(c.samples) == 0 }

func (c *PCOChunk) FirstTimestamp() int64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[0].Timestamp
}

func (c *PCOChunk) LastTimestamp() int64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[len(c.samples)-1].Timestamp
}

func (c *PCOChunk) LastValue() float64 {
	if c.IsEmpty() {
		return 0
	}
	return c.samples[len(c.samples)-1].Value
}

// SizeBytes encodes the current contents to measure true compressed size;
// acceptable for the chunk sizes this store targets (a few hundred samples),
// not called on every single Add (see WouldExceedCapacity).
func (c *PCOChunk) SizeBytes() int {
	if c.IsEmpty() {
		return 0
	}
	buf, _ := c.MarshalBinary()
	return len(buf)
}

// pcoCheckEvery bounds how often WouldExceedCapacity pays for a full
// compress pass; between checks it uses a cheap per-sample estimate.
const pcoCheckEvery = 16
const pcoEstimatedBytesPerSample = 10

func (c *PCOChunk) WouldExceedCapacity() bool {
	n := len(c.samples)
	if n == 0 {
		return false
	}
	if n%pcoCheckEvery == 0 {
		return c.SizeBytes()+pcoEstimatedBytesPerSample > c.maxSize
	}
	return n*pcoEstimatedBytesPerSample > c.maxSize
}

func (c *PCOChunk) Add(s sample.Sample) error {
	if !c.IsEmpty() && s.Timestamp == c.LastTimestamp() {
		return tserr.ErrDuplicateSample
	}
	if c.WouldExceedCapacity() {
		return tserr.ErrCapacityFull
	}
	c.samples = append(c.samples, s)
	return nil
}

func (c *PCOChunk) Upsert(s sample.Sample, policy sample.DuplicatePolicy) (Result, error) {
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

func (c *PCOChunk) GetRange(start, end int64) []sample.Sample {
	lo := searchFirst(c.samples, start)
	var out []sample.Sample
	for i := lo; i < len(c.samples) && c.samples[i].Timestamp <= end; i++ {
		out = append(out, c.samples[i])
	}
	return out
}

func (c *PCOChunk) RemoveRange(start, end int64) int {
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

func (c *PCOChunk) Split() (Chunk, error) {
	n := len(c.samples)
	mid := n / 2
	upper := &PCOChunk{
		maxSize: c.maxSize,
		samples: append([]sample.Sample(nil), c.samples[mid:]...),
	}
	c.samples = c.samples[:mid:mid]
	return upper, nil
}

func (c *PCOChunk) MergeSamples(batch []sample.Sample, policy sample.DuplicatePolicy) []Result {
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

// MarshalBinary implements the layout from spec §4.1:
// varint(count) | varint(total_data_len) | varint(ts_len) | varint(val_len) | ts_block | val_block
func (c *PCOChunk) MarshalBinary() ([]byte, error) {
	ts := make([]int64, len(c.samples))
	vals := make([]float64, len(c.samples))
	for i, s := range c.samples {
		ts[i] = s.Timestamp
		vals[i] = s.Value
	}
	tsBlock := encodeTimestampsDelta2(ts)
	valBlock := encodeValues(vals)

	header := newBitWriter()
	header.writeVarint(int64(len(c.samples)))
	header.writeVarint(int64(len(tsBlock) + len(valBlock)))
	header.writeVarint(int64(len(tsBlock)))
	header.writeVarint(int64(len(valBlock)))

	out := make([]byte, 0, len(header.bytes())+len(tsBlock)+len(valBlock))
	out = append(out, header.bytes()...)
	out = append(out, tsBlock...)
	out = append(out, valBlock...)
	return out, nil
}

// UnmarshalPCO decodes the format written by MarshalBinary.
func UnmarshalPCO(maxSize int, data []byte) (*PCOChunk, error) {
	r := newBitReader(data)
	count, err := r.readVarint()
	if err != nil {
		return nil, tserr.ErrDeserialize
	}
	if _, err := r.readVarint(); err != nil { // total_data_len, unused on decode
		return nil, tserr.ErrDeserialize
	}
	tsLen, err := r.readVarint()
	if err != nil {
		return nil, tserr.ErrDeserialize
	}
	valLen, err := r.readVarint()
	if err != nil {
		return nil, tserr.ErrDeserialize
	}
	if r.bitPos != 0 {
		r.byteAt++
		r.bitPos = 0
	}
	headerLen := r.byteAt
	if headerLen+int(tsLen)+int(valLen) > len(data) {
		return nil, tserr.ErrDeserialize
	}
	tsBlock := data[headerLen : headerLen+int(tsLen)]
	valBlock := data[headerLen+int(tsLen) : headerLen+int(tsLen)+int(valLen)]

	ts, err := decodeTimestampsDelta2(tsBlock, int(count))
	if err != nil {
		return nil, err
	}
	vals, err := decodeValues(valBlock, int(count))
	if err != nil {
		return nil, err
	}

	c := newPCOChunk(maxSize)
	c.samples = make([]sample.Sample, count)
	for i := range c.samples {
		c.samples[i] = sample.Sample{Timestamp: ts[i], Value: vals[i]}
	}
	return c, nil
}
