// Package chunk implements the three interchangeable sample-storage codecs
// (spec §4.1): Uncompressed, Gorilla (XOR delta-of-delta), and PCO (delta +
// general-purpose compression). All three share the Chunk contract below so
// a TimeSeries can hold a heterogeneous chunk list.
package chunk

import (
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// Encoding identifies which codec a chunk uses.
type Encoding uint8

const (
	Uncompressed Encoding = iota
	Gorilla
	PCO
)

func (e Encoding) String() string {
	switch e {
	case Uncompressed:
		return "uncompressed"
	case Gorilla:
		return "gorilla"
	case PCO:
		return "pco"
	default:
		return "unknown"
	}
}

// ParseEncoding parses the textual encoding names from the CREATE command
// surface (spec §6); "compressed" is accepted as a synonym for Gorilla to
// match the host command grammar's illustrative names.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "uncompressed":
		return Uncompressed, nil
	case "compressed", "gorilla":
		return Gorilla, nil
	case "pco":
		return PCO, nil
	default:
		return Uncompressed, tserr.ErrInvalidArgument
	}
}

// Result tags the outcome of a single-sample write (spec §4.1/§4.2/§7).
type Result int

const (
	ResultOK Result = iota
	ResultDuplicate
	ResultIgnored
	ResultError
)

// BytesPerSample is the nominal per-sample footprint of the Uncompressed
// codec, used to convert a byte budget into a sample capacity (spec §4.1).
const BytesPerSample = 16

// MinChunkSize and MaxChunkSize bound chunk_size_bytes (spec §6 CREATE).
const (
	MinChunkSize = 48
	MaxChunkSize = 1 << 20
)

// Chunk is the shared contract implemented by Uncompressed, *GorillaChunk,
// and *PCOChunk (spec §4.1).
type Chunk interface {
	Encoding() Encoding
	MaxSize() int
	Count() int
	IsEmpty() bool
	FirstTimestamp() int64
	LastTimestamp() int64
	LastValue() float64
	// SizeBytes is the chunk's current approximate encoded size.
	SizeBytes() int
	// WouldExceedCapacity reports whether adding one more sample is likely
	// to push the chunk's encoded size past MaxSize.
	WouldExceedCapacity() bool

	Add(s sample.Sample) error
	Upsert(s sample.Sample, policy sample.DuplicatePolicy) (Result, error)
	GetRange(start, end int64) []sample.Sample
	RemoveRange(start, end int64) int
	// Split divides the chunk at its midpoint; the lower half stays in the
	// receiver, the upper half (keeping the extra sample on odd counts) is
	// returned as a new chunk of the same codec and MaxSize.
	Split() (Chunk, error)
	// MergeSamples pairwise-merges batch (already sorted ascending) into the
	// chunk applying policy on timestamp collisions, returning one Result per
	// input sample in original order.
	MergeSamples(batch []sample.Sample, policy sample.DuplicatePolicy) []Result

	MarshalBinary() ([]byte, error)
}

// New constructs an empty chunk of the given encoding and byte budget.
func New(enc Encoding, maxSize int) (Chunk, error) {
	if maxSize < MinChunkSize || maxSize > MaxChunkSize || maxSize%8 != 0 {
		return nil, tserr.ErrInvalidArgument
	}
	switch enc {
	case Uncompressed:
		return newUncompressedChunk(maxSize), nil
	case Gorilla:
		return newGorillaChunk(maxSize), nil
	case PCO:
		return newPCOChunk(maxSize), nil
	default:
		return nil, tserr.ErrInvalidArgument
	}
}

// Decode reconstructs a chunk of the given encoding from bytes previously
// produced by its MarshalBinary, used by the per-series snapshot loader
// (spec §6 "Persistence layout": "each chunk blob is typed by its codec id
// and self-delimiting").
func Decode(enc Encoding, maxSize int, data []byte) (Chunk, error) {
	switch enc {
	case Uncompressed:
		return UnmarshalUncompressed(maxSize, data)
	case Gorilla:
		return UnmarshalGorilla(maxSize, data)
	case PCO:
		return UnmarshalPCO(maxSize, data)
	default:
		return nil, tserr.ErrInvalidArgument
	}
}

// allSamplesSorted decodes a chunk into its full sample slice; used by the
// generic rebuild path shared by codecs that aren't randomly mutable
// in-place (Gorilla, PCO).
func allSamplesSorted(c Chunk) []sample.Sample {
	if c.IsEmpty() {
		return nil
	}
	return c.GetRange(c.FirstTimestamp(), c.LastTimestamp())
}

// mergeSortedUpsert pairwise-merges existing (sorted, unique timestamps)
// with batch (sorted) applying policy on collisions, returning the merged
// slice and one Result per batch element in batch order. Shared by every
// codec's MergeSamples/Upsert-rebuild path so duplicate-handling semantics
// stay identical across codecs.
func mergeSortedUpsert(existing []sample.Sample, batch []sample.Sample, policy sample.DuplicatePolicy) ([]sample.Sample, []Result) {
	results := make([]Result, len(batch))
	out := make([]sample.Sample, 0, len(existing)+len(batch))

	ei := 0
	for bi, s := range batch {
		// advance existing up to s.Timestamp
		for ei < len(existing) && existing[ei].Timestamp < s.Timestamp {
			out = append(out, existing[ei])
			ei++
		}
		if ei < len(existing) && existing[ei].Timestamp == s.Timestamp {
			newVal, ok := policy.Resolve(existing[ei].Value, s.Value)
			if !ok {
				out = append(out, existing[ei])
				results[bi] = ResultDuplicate
			} else {
				out = append(out, sample.Sample{Timestamp: s.Timestamp, Value: newVal})
				results[bi] = ResultOK
			}
			ei++
			continue
		}
		out = append(out, s)
		results[bi] = ResultOK
	}
	for ei < len(existing) {
		out = append(out, existing[ei])
		ei++
	}
	return out, results
}
