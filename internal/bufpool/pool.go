package bufpool

import (
	"sync"
)

// Pool hands out fixed-size chunk buffers for the buffered copy path.
// It stores *[]byte so Put does not allocate.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool of buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// Get returns a buffer of exactly BufSize bytes.
func (p *Pool) Get() *[]byte {
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < p.bufSize {
		b := make([]byte, p.bufSize)
		return &b
	}
	*bp = (*bp)[:p.bufSize]
	return bp
}

// Put returns a buffer obtained from Get. Undersized buffers are dropped.
func (p *Pool) Put(bp *[]byte) {
	if bp == nil || cap(*bp) < p.bufSize {
		return
	}
	p.pool.Put(bp)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

var (
	sharedMu sync.Mutex
	shared   = map[int]*Pool{}
)

// Shared returns a process-wide pool for bufSize, creating it on first use.
// Sessions with the same chunk size share buffers.
func Shared(bufSize int) *Pool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if p, ok := shared[bufSize]; ok {
		return p
	}
	p := New(bufSize)
	shared[bufSize] = p
	return p
}
