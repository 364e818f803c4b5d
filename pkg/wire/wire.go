// Package wire implements the cross-node MultiRangeRequest/MultiRangeResponse
// framing from spec §6. The spec names flatbuffers for this surface, but no
// flatbuffers compiler or generated-code path is available in this exercise
// and no example repo ships hand-written flatbuffers table code to imitate
// (documented in DESIGN.md); this package instead uses the teacher's own
// magic+version+little-endian framing idiom
// (pkg/metricstore/binaryCheckpoint.go, pkg/metricstore/walCheckpoint.go),
// generalized from its column-oriented metric layout to a per-series sample
// payload with a chosen compression codec.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
)

var byteOrder = binary.LittleEndian

var (
	requestMagic  = [4]byte{'T', 'S', 'R', 'Q'}
	responseMagic = [4]byte{'T', 'S', 'R', 'S'}
)

const wireVersion = uint32(1)

// Compression identifies how a SampleData payload's bytes are encoded.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGorilla
	CompressionPco
)

// SampleData is one series' sample payload as it travels over the wire
// (spec §6 "SampleData { version=1, compression, data }").
type SampleData struct {
	Version     uint8
	Compression Compression
	Data        []byte
}

// AggregationSpec mirrors mrange.AggregationSpec in wire-safe, dependency-free
// form (this package does not import pkg/mrange, and pkg/mrange does not
// import wire).
type AggregationSpec struct {
	Kind             aggr.Kind
	BucketDurationMs int64
	Align            int64
	TimestampOutput  aggr.BucketTimestamp
	ReportEmpty      bool
}

// GroupingSpec mirrors mrange.Grouping in wire-safe form.
type GroupingSpec struct {
	GroupLabel string
	Reducer    aggr.Kind
}

// MultiRangeRequest is the cross-node MRANGE fan-out request (spec §6).
type MultiRangeRequest struct {
	Start, End      int64
	Filters         []string // selector strings, one per OR-branch or AND-group depending on host grammar
	WithLabels      bool
	SelectedLabels  []string
	TimestampFilter []int64
	ValueFilter     *[2]float64
	Count           int
	Aggregation     *AggregationSpec
	Grouping        *GroupingSpec
}

// SeriesPayload is one series' entry in a MultiRangeResponse.
type SeriesPayload struct {
	Key             string
	GroupLabelValue string // empty when the response is ungrouped
	Labels          labels.Labels
	Samples         SampleData
}

// MultiRangeResponse is the cross-node MRANGE fan-out reply (spec §6).
type MultiRangeResponse struct {
	Series []SeriesPayload
}

// EncodeSamples packages samples using the requested compression. None
// stores raw (timestamp, value) pairs; Gorilla/Pco round-trip the samples
// through the corresponding chunk codec and ship its self-delimiting blob.
func EncodeSamples(samples []sample.Sample, compression Compression) (SampleData, error) {
	switch compression {
	case CompressionNone:
		buf := make([]byte, 4, 4+len(samples)*16)
		byteOrder.PutUint32(buf, uint32(len(samples)))
		for _, s := range samples {
			var tmp [16]byte
			byteOrder.PutUint64(tmp[0:8], uint64(s.Timestamp))
			byteOrder.PutUint64(tmp[8:16], math.Float64bits(s.Value))
			buf = append(buf, tmp[:]...)
		}
		return SampleData{Version: 1, Compression: compression, Data: buf}, nil
	case CompressionGorilla, CompressionPco:
		enc := chunk.Gorilla
		if compression == CompressionPco {
			enc = chunk.PCO
		}
		c, err := chunk.New(enc, chunkSizeFor(len(samples)))
		if err != nil {
			return SampleData{}, err
		}
		for _, s := range samples {
			if err := c.Add(s); err != nil {
				return SampleData{}, fmt.Errorf("wire: encoding sample payload: %w", err)
			}
		}
		blob, err := c.MarshalBinary()
		if err != nil {
			return SampleData{}, err
		}
		return SampleData{Version: 1, Compression: compression, Data: blob}, nil
	default:
		return SampleData{}, fmt.Errorf("wire: unknown compression %d", compression)
	}
}

// chunkSizeFor picks a generous byte budget for round-tripping n samples
// through a chunk codec purely as a wire envelope (not a stored series), so
// chunk splitting never has to fire.
func chunkSizeFor(n int) int {
	size := n*32 + 64
	if size < chunk.MinChunkSize {
		size = chunk.MinChunkSize
	}
	if size > chunk.MaxChunkSize {
		size = chunk.MaxChunkSize
	}
	return (size + 7) / 8 * 8
}

// DecodeSamples reverses EncodeSamples.
func DecodeSamples(sd SampleData) ([]sample.Sample, error) {
	switch sd.Compression {
	case CompressionNone:
		if len(sd.Data) < 4 {
			return nil, tserrDeserialize("sample data too short")
		}
		n := byteOrder.Uint32(sd.Data)
		out := make([]sample.Sample, 0, n)
		off := 4
		for i := uint32(0); i < n; i++ {
			if off+16 > len(sd.Data) {
				return nil, tserrDeserialize("sample data truncated")
			}
			ts := int64(byteOrder.Uint64(sd.Data[off : off+8]))
			v := math.Float64frombits(byteOrder.Uint64(sd.Data[off+8 : off+16]))
			out = append(out, sample.Sample{Timestamp: ts, Value: v})
			off += 16
		}
		return out, nil
	case CompressionGorilla, CompressionPco:
		enc := chunk.Gorilla
		if sd.Compression == CompressionPco {
			enc = chunk.PCO
		}
		c, err := chunk.Decode(enc, chunkSizeFor(len(sd.Data)), sd.Data)
		if err != nil {
			return nil, err
		}
		return c.GetRange(math.MinInt64, math.MaxInt64), nil
	default:
		return nil, fmt.Errorf("wire: unknown compression %d", sd.Compression)
	}
}

func tserrDeserialize(msg string) error { return fmt.Errorf("wire: %s", msg) }

// EncodeResponse frames a MultiRangeResponse with the shared magic+version
// header, then one record per series.
func EncodeResponse(w io.Writer, resp *MultiRangeResponse) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(responseMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, wireVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, uint32(len(resp.Series))); err != nil {
		return err
	}
	for _, sp := range resp.Series {
		if err := writeString(bw, sp.Key); err != nil {
			return err
		}
		if err := writeString(bw, sp.GroupLabelValue); err != nil {
			return err
		}
		if err := writeLabels(bw, sp.Labels); err != nil {
			return err
		}
		if err := bw.WriteByte(sp.Samples.Version); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(sp.Samples.Compression)); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, uint32(len(sp.Samples.Data))); err != nil {
			return err
		}
		if _, err := bw.Write(sp.Samples.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(r io.Reader) (*MultiRangeResponse, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("reading response magic: %w", err)
	}
	if magic != responseMagic {
		return nil, fmt.Errorf("wire: invalid MultiRangeResponse magic %q", magic)
	}
	var version uint32
	if err := binary.Read(br, byteOrder, &version); err != nil {
		return nil, fmt.Errorf("reading response version: %w", err)
	}
	if version != wireVersion {
		return nil, fmt.Errorf("wire: unsupported MultiRangeResponse version %d", version)
	}

	var n uint32
	if err := binary.Read(br, byteOrder, &n); err != nil {
		return nil, fmt.Errorf("reading series count: %w", err)
	}
	resp := &MultiRangeResponse{Series: make([]SeriesPayload, 0, n)}
	for i := uint32(0); i < n; i++ {
		key, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("reading series %d key: %w", i, err)
		}
		groupVal, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("reading series %d group value: %w", i, err)
		}
		lbls, err := readLabels(br)
		if err != nil {
			return nil, fmt.Errorf("reading series %d labels: %w", i, err)
		}
		version, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading series %d sample version: %w", i, err)
		}
		compByte, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading series %d compression: %w", i, err)
		}
		var dataLen uint32
		if err := binary.Read(br, byteOrder, &dataLen); err != nil {
			return nil, fmt.Errorf("reading series %d data length: %w", i, err)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, fmt.Errorf("reading series %d data: %w", i, err)
		}
		resp.Series = append(resp.Series, SeriesPayload{
			Key:             key,
			GroupLabelValue: groupVal,
			Labels:          lbls,
			Samples:         SampleData{Version: version, Compression: Compression(compByte), Data: data},
		})
	}
	return resp, nil
}

// EncodeRequest frames a MultiRangeRequest with the shared magic+version
// header.
func EncodeRequest(w io.Writer, req *MultiRangeRequest) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(requestMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, wireVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, req.Start); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, req.End); err != nil {
		return err
	}
	if err := writeStringSlice(bw, req.Filters); err != nil {
		return err
	}
	if err := writeBool(bw, req.WithLabels); err != nil {
		return err
	}
	if err := writeStringSlice(bw, req.SelectedLabels); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, uint32(len(req.TimestampFilter))); err != nil {
		return err
	}
	for _, ts := range req.TimestampFilter {
		if err := binary.Write(bw, byteOrder, ts); err != nil {
			return err
		}
	}
	if req.ValueFilter != nil {
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, req.ValueFilter[0]); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, req.ValueFilter[1]); err != nil {
			return err
		}
	} else if err := bw.WriteByte(0); err != nil {
		return err
	}
	if err := binary.Write(bw, byteOrder, int32(req.Count)); err != nil {
		return err
	}
	if req.Aggregation != nil {
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		a := req.Aggregation
		if err := binary.Write(bw, byteOrder, int32(a.Kind)); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, a.BucketDurationMs); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, a.Align); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, int32(a.TimestampOutput)); err != nil {
			return err
		}
		if err := writeBool(bw, a.ReportEmpty); err != nil {
			return err
		}
	} else if err := bw.WriteByte(0); err != nil {
		return err
	}
	if req.Grouping != nil {
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		if err := writeString(bw, req.Grouping.GroupLabel); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, int32(req.Grouping.Reducer)); err != nil {
			return err
		}
	} else if err := bw.WriteByte(0); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeRequest reverses EncodeRequest.
func DecodeRequest(r io.Reader) (*MultiRangeRequest, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("reading request magic: %w", err)
	}
	if magic != requestMagic {
		return nil, fmt.Errorf("wire: invalid MultiRangeRequest magic %q", magic)
	}
	var version uint32
	if err := binary.Read(br, byteOrder, &version); err != nil {
		return nil, fmt.Errorf("reading request version: %w", err)
	}
	if version != wireVersion {
		return nil, fmt.Errorf("wire: unsupported MultiRangeRequest version %d", version)
	}

	req := &MultiRangeRequest{}
	if err := binary.Read(br, byteOrder, &req.Start); err != nil {
		return nil, fmt.Errorf("reading start: %w", err)
	}
	if err := binary.Read(br, byteOrder, &req.End); err != nil {
		return nil, fmt.Errorf("reading end: %w", err)
	}
	filters, err := readStringSlice(br)
	if err != nil {
		return nil, fmt.Errorf("reading filters: %w", err)
	}
	req.Filters = filters

	withLabels, err := readBool(br)
	if err != nil {
		return nil, fmt.Errorf("reading with-labels flag: %w", err)
	}
	req.WithLabels = withLabels

	selected, err := readStringSlice(br)
	if err != nil {
		return nil, fmt.Errorf("reading selected labels: %w", err)
	}
	req.SelectedLabels = selected

	var ntf uint32
	if err := binary.Read(br, byteOrder, &ntf); err != nil {
		return nil, fmt.Errorf("reading timestamp filter count: %w", err)
	}
	req.TimestampFilter = make([]int64, ntf)
	for i := range req.TimestampFilter {
		if err := binary.Read(br, byteOrder, &req.TimestampFilter[i]); err != nil {
			return nil, fmt.Errorf("reading timestamp filter %d: %w", i, err)
		}
	}

	hasVF, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading value-filter flag: %w", err)
	}
	if hasVF == 1 {
		var vf [2]float64
		if err := binary.Read(br, byteOrder, &vf[0]); err != nil {
			return nil, fmt.Errorf("reading value filter min: %w", err)
		}
		if err := binary.Read(br, byteOrder, &vf[1]); err != nil {
			return nil, fmt.Errorf("reading value filter max: %w", err)
		}
		req.ValueFilter = &vf
	}

	var count int32
	if err := binary.Read(br, byteOrder, &count); err != nil {
		return nil, fmt.Errorf("reading count: %w", err)
	}
	req.Count = int(count)

	hasAgg, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading aggregation flag: %w", err)
	}
	if hasAgg == 1 {
		var a AggregationSpec
		var kind, tsOut int32
		if err := binary.Read(br, byteOrder, &kind); err != nil {
			return nil, fmt.Errorf("reading aggregation kind: %w", err)
		}
		a.Kind = aggr.Kind(kind)
		if err := binary.Read(br, byteOrder, &a.BucketDurationMs); err != nil {
			return nil, fmt.Errorf("reading aggregation bucket duration: %w", err)
		}
		if err := binary.Read(br, byteOrder, &a.Align); err != nil {
			return nil, fmt.Errorf("reading aggregation align: %w", err)
		}
		if err := binary.Read(br, byteOrder, &tsOut); err != nil {
			return nil, fmt.Errorf("reading aggregation timestamp output: %w", err)
		}
		a.TimestampOutput = aggr.BucketTimestamp(tsOut)
		reportEmpty, err := readBool(br)
		if err != nil {
			return nil, fmt.Errorf("reading aggregation report-empty: %w", err)
		}
		a.ReportEmpty = reportEmpty
		req.Aggregation = &a
	}

	hasGroup, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading grouping flag: %w", err)
	}
	if hasGroup == 1 {
		var g GroupingSpec
		label, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("reading group label: %w", err)
		}
		g.GroupLabel = label
		var reducer int32
		if err := binary.Read(br, byteOrder, &reducer); err != nil {
			return nil, fmt.Errorf("reading group reducer: %w", err)
		}
		g.Reducer = aggr.Kind(reducer)
		req.Grouping = &g
	}

	return req, nil
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] == 1, nil
}

func writeString(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, byteOrder, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
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

func writeStringSlice(w io.Writer, ss []string) error {
	if err := binary.Write(w, byteOrder, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
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

func readLabels(r io.Reader) (labels.Labels, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return nil, err
	}
	out := make(labels.Labels, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		value, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, labels.Label{Name: name, Value: value})
	}
	return out, nil
}
