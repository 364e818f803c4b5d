package chunk

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// gorillaEncoder implements the streaming Gorilla XOR codec: timestamps as
// delta-of-delta varbit, values as XOR against the previous value reusing a
// leading/trailing-zero-count window when possible. Ported from
// original_source/src/series/chunks/gorilla/gorilla_encoder.rs.
type gorillaEncoder struct {
	bw                  *bitWriter
	numSamples          int
	lastTs              int64
	lastValue           float64
	prevDelta           int64
	leadingBits         uint8
	trailingBits        uint8
	haveWindow          bool
}

func newGorillaEncoder() *gorillaEncoder {
	return &gorillaEncoder{bw: newBitWriter()}
}

func (e *gorillaEncoder) addSample(s sample.Sample) error {
	switch e.numSamples {
	case 0:
		e.writeFirstSample(s)
	case 1:
		if err := e.writeSecondSample(s); err != nil {
			return err
		}
	default:
		if err := e.writeNthSample(s); err != nil {
			return err
		}
	}
	e.lastTs = s.Timestamp
	e.lastValue = s.Value
	e.numSamples++
	return nil
}

func (e *gorillaEncoder) writeFirstSample(s sample.Sample) {
	e.bw.writeVarint(s.Timestamp)
	e.bw.writeBits(math.Float64bits(s.Value), 64)
}

func (e *gorillaEncoder) writeSecondSample(s sample.Sample) error {
	delta := s.Timestamp - e.lastTs
	if delta <= 0 {
		return tserr.ErrInvalidArgument
	}
	e.bw.writeUvarint(uint64(delta))
	e.writeValueXOR(s.Value)
	e.prevDelta = delta
	return nil
}

func (e *gorillaEncoder) writeNthSample(s sample.Sample) error {
	delta := s.Timestamp - e.lastTs
	if delta <= 0 {
		return tserr.ErrInvalidArgument
	}
	dod := delta - e.prevDelta
	e.writeDeltaOfDelta(dod)
	e.writeValueXOR(s.Value)
	e.prevDelta = delta
	return nil
}

func (e *gorillaEncoder) writeDeltaOfDelta(dod int64) {
	switch {
	case dod == 0:
		e.bw.writeBit(false)
	case dod >= -63 && dod <= 64:
		e.bw.writeBits(0b10, 2)
		e.bw.writeBits(uint64(dod+63), 7)
	case dod >= -255 && dod <= 256:
		e.bw.writeBits(0b110, 3)
		e.bw.writeBits(uint64(dod+255), 9)
	case dod >= -2047 && dod <= 2048:
		e.bw.writeBits(0b1110, 4)
		e.bw.writeBits(uint64(dod+2047), 12)
	default:
		e.bw.writeBits(0b1111, 4)
		e.bw.writeBits(uint64(uint32(dod)), 32)
	}
}

// writeValueXOR encodes value against e.lastValue, reusing the previous
// leading/trailing-zero window when the new XOR fits inside it.
func (e *gorillaEncoder) writeValueXOR(value float64) {
	xor := math.Float64bits(value) ^ math.Float64bits(e.lastValue)
	if xor == 0 {
		e.bw.writeBit(false)
		return
	}
	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	if leading > 31 {
		leading = 31
	}

	if e.haveWindow && leading >= int(e.leadingBits) && trailing >= int(e.trailingBits) {
		e.bw.writeBit(true)
		e.bw.writeBit(false)
		meaningful := 64 - int(e.leadingBits) - int(e.trailingBits)
		e.bw.writeBits(xor>>uint(e.trailingBits), meaningful)
		return
	}

	e.bw.writeBit(true)
	e.bw.writeBit(true)
	meaningfulLen := 64 - leading - trailing
	e.bw.writeBits(uint64(leading), 5)
	e.bw.writeBits(uint64(meaningfulLen-1), 6)
	e.bw.writeBits(xor>>uint(trailing), meaningfulLen)
	e.leadingBits = uint8(leading)
	e.trailingBits = uint8(trailing)
	e.haveWindow = true
}

func (e *gorillaEncoder) bytes() []byte {
	return e.bw.bytes()
}

// decodeGorilla replays the state machine above to recover exactly count
// samples from buf.
func decodeGorilla(buf []byte, count int) ([]sample.Sample, error) {
	if count == 0 {
		return nil, nil
	}
	br := newBitReader(buf)
	out := make([]sample.Sample, 0, count)

	var lastTs int64
	var lastValue float64
	var prevDelta int64
	var leadingBits, trailingBits uint8
	var haveWindow bool

	for i := 0; i < count; i++ {
		switch i {
		case 0:
			ts, err := br.readVarint()
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			bitsVal, err := br.readBits(64)
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			lastTs = ts
			lastValue = math.Float64frombits(bitsVal)
		case 1:
			delta, err := br.readUvarint()
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			v, nl, nt, nh, err := readValueXOR(br, lastValue, leadingBits, trailingBits, haveWindow)
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			prevDelta = int64(delta)
			lastTs += prevDelta
			lastValue = v
			leadingBits, trailingBits, haveWindow = nl, nt, nh
		default:
			dod, err := readDeltaOfDelta(br)
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			delta := prevDelta + dod
			v, nl, nt, nh, err := readValueXOR(br, lastValue, leadingBits, trailingBits, haveWindow)
			if err != nil {
				return nil, tserr.ErrDeserialize
			}
			prevDelta = delta
			lastTs += delta
			lastValue = v
			leadingBits, trailingBits, haveWindow = nl, nt, nh
		}
		out = append(out, sample.Sample{Timestamp: lastTs, Value: lastValue})
	}
	return out, nil
}

func readValueXOR(br *bitReader, lastValue float64, leadingBits, trailingBits uint8, haveWindow bool) (float64, uint8, uint8, bool, error) {
	b0, err := br.readBit()
	if err != nil {
		return 0, 0, 0, false, err
	}
	if !b0 {
		return lastValue, leadingBits, trailingBits, haveWindow, nil
	}
	b1, err := br.readBit()
	if err != nil {
		return 0, 0, 0, false, err
	}
	if !b1 {
		meaningful := 64 - int(leadingBits) - int(trailingBits)
		bitsVal, err := br.readBits(meaningful)
		if err != nil {
			return 0, 0, 0, false, err
		}
		xor := bitsVal << uint(trailingBits)
		newVal := math.Float64frombits(math.Float64bits(lastValue) ^ xor)
		return newVal, leadingBits, trailingBits, haveWindow, nil
	}
	leadingVal, err := br.readBits(5)
	if err != nil {
		return 0, 0, 0, false, err
	}
	lenMinus1, err := br.readBits(6)
	if err != nil {
		return 0, 0, 0, false, err
	}
	meaningfulLen := int(lenMinus1) + 1
	bitsVal, err := br.readBits(meaningfulLen)
	if err != nil {
		return 0, 0, 0, false, err
	}
	trailingVal := 64 - int(leadingVal) - meaningfulLen
	xor := bitsVal << uint(trailingVal)
	newVal := math.Float64frombits(math.Float64bits(lastValue) ^ xor)
	return newVal, uint8(leadingVal), uint8(trailingVal), true, nil
}

func readDeltaOfDelta(br *bitReader) (int64, error) {
	b0, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if !b0 {
		return 0, nil
	}
	b1, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if !b1 {
		v, err := br.readBits(7)
		return int64(v) - 63, err
	}
	b2, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if !b2 {
		v, err := br.readBits(9)
		return int64(v) - 255, err
	}
	b3, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if !b3 {
		v, err := br.readBits(12)
		return int64(v) - 2047, err
	}
	v, err := br.readBits(32)
	return int64(int32(uint32(v))), err
}

// GorillaChunk is the Chunk implementation backed by gorillaEncoder. Samples
// are not randomly indexable (spec §4.1): range scans, upserts and splits
// decode the whole stream and, when the contents change, rebuild a fresh
// encoder from the resulting sample list.
type GorillaChunk struct {
	maxSize   int
	enc       *gorillaEncoder
	count     int
	firstTs   int64
	lastTs    int64
	lastValue float64
}

func newGorillaChunk(maxSize int) *GorillaChunk {
	return &GorillaChunk{maxSize: maxSize, enc: newGorillaEncoder()}
}

func (c *GorillaChunk) Encoding() Encoding   { return Gorilla }
func (c *GorillaChunk) MaxSize() int         { return c.maxSize }
func (c *GorillaChunk) Count() int           { return c.count }
func (c *GorillaChunk) IsEmpty() bool        { return c.count == 0 }
func (c *GorillaChunk) FirstTimestamp() int64 { return c.firstTs }
func (c *GorillaChunk) LastTimestamp() int64  { return c.lastTs }
func (c *GorillaChunk) LastValue() float64    { return c.lastValue }
func (c *GorillaChunk) SizeBytes() int        { return len(c.enc.bytes()) }

// WouldExceedCapacity is a heuristic: Gorilla's per-sample footprint varies
// with how well successive samples compress, so headroom is estimated with
// a fixed worst-case-sample margin rather than computed exactly.
const gorillaWorstCaseSampleBytes = 18

func (c *GorillaChunk) WouldExceedCapacity() bool {
	return c.SizeBytes()+gorillaWorstCaseSampleBytes > c.maxSize
}

func (c *GorillaChunk) Add(s sample.Sample) error {
	if !c.IsEmpty() && s.Timestamp <= c.lastTs {
		return tserr.ErrDuplicateSample
	}
	if c.WouldExceedCapacity() {
		return tserr.ErrCapacityFull
	}
	if err := c.enc.addSample(s); err != nil {
		return err
	}
	if c.count == 0 {
		c.firstTs = s.Timestamp
	}
	c.lastTs = s.Timestamp
	c.lastValue = s.Value
	c.count++
	return nil
}

func (c *GorillaChunk) rebuildFrom(samples []sample.Sample) {
	ne := newGorillaEncoder()
	for _, s := range samples {
		_ = ne.addSample(s)
	}
	c.enc = ne
	c.count = len(samples)
	if len(samples) > 0 {
		c.firstTs = samples[0].Timestamp
		c.lastTs = samples[len(samples)-1].Timestamp
		c.lastValue = samples[len(samples)-1].Value
	} else {
		c.firstTs, c.lastTs, c.lastValue = 0, 0, 0
	}
}

func (c *GorillaChunk) decodeAll() []sample.Sample {
	out, err := decodeGorilla(c.enc.bytes(), c.count)
	if err != nil {
		return nil
	}
	return out
}

func (c *GorillaChunk) Upsert(s sample.Sample, policy sample.DuplicatePolicy) (Result, error) {
	if c.IsEmpty() || s.Timestamp > c.lastTs {
		if err := c.Add(s); err != nil {
			return ResultError, err
		}
		return ResultOK, nil
	}
	existing := c.decodeAll()
	merged, results := mergeSortedUpsert(existing, []sample.Sample{s}, policy)
	c.rebuildFrom(merged)
	return results[0], nil
}

func (c *GorillaChunk) GetRange(start, end int64) []sample.Sample {
	decoded := c.decodeAll()
	lo := searchFirst(decoded, start)
	var out []sample.Sample
	for i := lo; i < len(decoded) && decoded[i].Timestamp <= end; i++ {
		out = append(out, decoded[i])
	}
	return out
}

func (c *GorillaChunk) RemoveRange(start, end int64) int {
	decoded := c.decodeAll()
	lo := searchFirst(decoded, start)
	hi := lo
	for hi < len(decoded) && decoded[hi].Timestamp <= end {
		hi++
	}
	removed := hi - lo
	if removed > 0 {
		remaining := append(append([]sample.Sample(nil), decoded[:lo]...), decoded[hi:]...)
		c.rebuildFrom(remaining)
	}
	return removed
}

func (c *GorillaChunk) Split() (Chunk, error) {
	decoded := c.decodeAll()
	mid := len(decoded) / 2
	lower := decoded[:mid]
	upper := decoded[mid:]
	c.rebuildFrom(lower)
	upperChunk := newGorillaChunk(c.maxSize)
	upperChunk.rebuildFrom(upper)
	return upperChunk, nil
}

func (c *GorillaChunk) MergeSamples(batch []sample.Sample, policy sample.DuplicatePolicy) []Result {
	if len(batch) == 0 {
		return nil
	}
	if c.IsEmpty() || batch[0].Timestamp > c.lastTs {
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
	existing := c.decodeAll()
	merged, results := mergeSortedUpsert(existing, batch, policy)
	c.rebuildFrom(merged)
	return results
}

// MarshalBinary persists the raw bit-packed stream plus the sample count
// needed to bound decoding, distinct from the live streaming encoder state
// (original_source's gorilla_encoder.rs keeps an rdb_save/rdb_load pair
// separate from its streaming add_sample path for the same reason).
func (c *GorillaChunk) MarshalBinary() ([]byte, error) {
	raw := c.enc.bytes()
	buf := make([]byte, 8, 8+len(raw))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.count))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(raw)))
	buf = append(buf, raw...)
	return buf, nil
}

// UnmarshalGorilla decodes the format written by MarshalBinary, fully
// replaying the sample sequence through a fresh encoder.
func UnmarshalGorilla(maxSize int, data []byte) (*GorillaChunk, error) {
	if len(data) < 8 {
		return nil, tserr.ErrDeserialize
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	rawLen := binary.LittleEndian.Uint32(data[4:8])
	if 8+int(rawLen) > len(data) {
		return nil, tserr.ErrDeserialize
	}
	raw := data[8 : 8+rawLen]
	samples, err := decodeGorilla(raw, int(count))
	if err != nil {
		return nil, err
	}
	c := newGorillaChunk(maxSize)
	c.rebuildFrom(samples)
	return c, nil
}
