// Package pool provides buffer reuse for the async capture path: every
// enqueued job marshals a chat exchange's metadata to JSON at least once
// (for storage) and the classifier's rule-based fallback builds several
// string slices per call. Reusing these keeps the worker queue's
// steady-state allocation rate flat under sustained load.
package pool

import (
	"bytes"
	"sync"
)

// bufPool pools *bytes.Buffer for JSON encoding on the capture hot path.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// GetBuffer returns a reset *bytes.Buffer from the pool.
func GetBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns b to the pool. Buffers that have grown very large are
// discarded instead of pooled, so one oversized payload doesn't pin memory
// for the lifetime of the process.
func PutBuffer(b *bytes.Buffer) {
	const maxPooled = 64 * 1024
	if b.Cap() > maxPooled {
		return
	}
	bufPool.Put(b)
}

// StringSlicePool pools []string scratch slices used by entity/keyword
// extraction in the classifier's rule-based fallback.
var StringSlicePool = sync.Pool{
	New: func() interface{} { return make([]string, 0, 16) },
}

// GetStringSlice returns a zero-length []string with spare capacity.
func GetStringSlice() []string {
	return StringSlicePool.Get().([]string)[:0]
}

// PutStringSlice returns s to the pool. Slices that have grown very large
// are discarded instead of pooled.
func PutStringSlice(s []string) {
	const maxPooled = 256
	if cap(s) > maxPooled {
		return
	}
	StringSlicePool.Put(s)
}
