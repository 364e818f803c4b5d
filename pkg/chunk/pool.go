package chunk

import "sync"

// bufferPool hands out scratch byte buffers for codec encode/decode work,
// capping allocation under high-throughput ingestion (spec §5 "buffers for
// encoding/serialization are pooled"). Grounded on the teacher's
// PersistentBufferPool (pkg/metricstore/buffer.go), simplified to a plain
// sync.Pool since chunk scratch space, unlike the teacher's long-lived
// metric buffers, is only needed for the duration of one encode/decode call.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(initialCap int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, initialCap)
				return &b
			},
		},
	}
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:0]
}

func (p *bufferPool) Put(b []byte) {
	p.pool.Put(&b)
}

// scratchPool is one pool shared by every chunk; its user is the PCO value
// encoder (encodeValues), which stages raw value bytes in it before
// compression. Sized for the common case of a few hundred samples per chunk.
var scratchPool = newBufferPool(512)
