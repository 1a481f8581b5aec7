// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2010, Shuo Chen.  All rights reserved. (muduo Buffer, ported)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

const (
	// PrependSize is the fixed prepend reserve, sized to hold a u32 frame
	// length prefix with room to spare.
	PrependSize = 8
	// InitialBufferSize is the starting writable capacity, not counting
	// the prepend reserve.
	InitialBufferSize = 1024
	// scratchSize is the size of the pooled overflow region ReadFd scatters
	// into when the buffer's writable tail isn't big enough.
	scratchSize = 65536
)

// Buffer is a growable byte ring with a fixed prepend reserve, modeled on
// muduo's Buffer: a contiguous backing array with reader/writer indices
// and a prependable region ahead of the readable data so a length prefix
// can be stitched on without a copy.
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      reader       <=      writer       <=      len(buf)
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

// NewBuffer returns a Buffer with the default prepend reserve and initial
// writable capacity.
func NewBuffer() *Buffer {
	b := &Buffer{buf: make([]byte, PrependSize+InitialBufferSize)}
	b.reader = PrependSize
	b.writer = PrependSize
	return b
}

// Readable returns the number of unread bytes.
func (b *Buffer) Readable() int { return b.writer - b.reader }

// Writable returns the number of bytes that can be appended without growing.
func (b *Buffer) Writable() int { return len(b.buf) - b.writer }

// Prependable returns the number of bytes available ahead of the readable
// region for Prepend.
func (b *Buffer) Prependable() int { return b.reader }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

// Retrieve advances the reader index by n, discarding n bytes from the
// front of the readable region.
func (b *Buffer) Retrieve(n int) {
	if n > b.Readable() {
		n = b.Readable()
	}
	b.reader += n
}

// RetrieveUntil advances the reader index up to (not including) the byte
// at the given offset into Peek()'s result.
func (b *Buffer) RetrieveUntil(offset int) {
	b.Retrieve(offset)
}

// RetrieveAll resets both indices to the start of the readable region,
// discarding all buffered data.
func (b *Buffer) RetrieveAll() {
	b.reader = PrependSize
	b.writer = PrependSize
}

// RetrieveAsBytes returns a copy of the readable region and discards it.
func (b *Buffer) RetrieveAsBytes() []byte {
	out := make([]byte, b.Readable())
	copy(out, b.Peek())
	b.RetrieveAll()
	return out
}

// RetrieveAsString is RetrieveAsBytes with a string result.
func (b *Buffer) RetrieveAsString() string {
	return string(b.RetrieveAsBytes())
}

// Append copies data onto the end of the readable region, growing the
// buffer first if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writer:], data)
	b.writer += len(data)
}

// Prepend copies data onto the front of the readable region. The caller
// must have left enough prependable space (EnsureWritable never grows
// the prepend reserve beyond PrependSize).
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.Prependable() {
		panic("reactor: Prepend: not enough prependable space")
	}
	b.reader -= len(data)
	copy(b.buf[b.reader:], data)
}

// EnsureWritable grows or compacts the buffer so at least n bytes can be
// appended. If the existing prependable+writable space is too small even
// after discarding the already-consumed prefix, the backing array is
// reallocated; otherwise the readable region is shifted down to
// PrependSize to reclaim the consumed prefix in place.
func (b *Buffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if b.Writable()+b.Prependable() < n+PrependSize {
		grown := make([]byte, b.writer+n)
		copy(grown, b.buf)
		b.buf = grown
		return
	}
	readable := b.Readable()
	copy(b.buf[PrependSize:], b.buf[b.reader:b.writer])
	b.reader = PrependSize
	b.writer = b.reader + readable
}

// scratchPool hands out the 64KiB overflow region ReadFd scatters into,
// so a busy connection's per-read scratch buffer is reused across
// calls instead of walking the stack-to-heap escape path on every
// read (readv's second iovec outlives the call via the []byte it
// points into, which forces the compiler to heap-allocate it).
var scratchPool bytebufferpool.Pool

// ReadFd scatter-reads from fd: one vector into the buffer's writable
// tail, a second into a pooled 64KiB scratch region, so a single read
// syscall can drain more than the buffer currently has room for without
// an up-front resize. Returns the number of bytes read (0 on EOF), or 0
// and readv's error, EAGAIN included.
func (b *Buffer) ReadFd(fd int) (int, error) {
	b.EnsureWritable(1)
	extra := scratchPool.Get()
	defer scratchPool.Put(extra)
	if cap(extra.B) < scratchSize {
		extra.B = make([]byte, scratchSize)
	} else {
		extra.B = extra.B[:scratchSize]
	}

	writable := b.Writable()
	iov := []unix.Iovec{
		{Base: &b.buf[b.writer]},
		{Base: &extra.B[0]},
	}
	iov[0].SetLen(writable)
	iov[1].SetLen(scratchSize)

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return n, nil
	}
	if n <= writable {
		b.writer += n
	} else {
		b.writer = len(b.buf)
		b.Append(extra.B[:n-writable])
	}
	return n, nil
}

// IndexByte returns the offset of the first occurrence of c in the
// readable region, or -1.
func (b *Buffer) IndexByte(c byte) int {
	return bytes.IndexByte(b.Peek(), c)
}
