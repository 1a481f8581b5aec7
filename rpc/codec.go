// Copyright (c) 2022 The rcproxy Authors
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

package rpc

import (
	"encoding/binary"

	"github.com/jiaweihh/lrpc/pkg/errors"
	"github.com/jiaweihh/lrpc/reactor"
)

const (
	// HeaderSize is the length of the u32 total_len prefix itself.
	HeaderSize = 4
	// MaxFrameSize is the upper bound on total_len, 256 MiB per spec.md §6.
	MaxFrameSize = 256 << 20
)

// Frame is a decoded-but-not-yet-unmarshaled wire unit: the envelope
// tells ServerChannel/ClientChannel which Message alternative follows.
type Frame struct {
	Kind    MessageKind
	Payload []byte
}

// bodyEncoder turns a (kind, payload) pair into the bytes that follow
// the u32 length prefix. The default wraps kind as a leading byte
// followed by the payload bytes unchanged; a channel's SetCoder can
// replace the Coder that carries it.
type bodyEncoder func(kind MessageKind, payload []byte) []byte

// bodyDecoder is the inverse of bodyEncoder: given the bytes between
// the length prefix and the frame end, recover (kind, payload).
type bodyDecoder func(body []byte) (MessageKind, []byte, error)

func defaultBodyEncoder(kind MessageKind, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(kind)
	copy(out[1:], payload)
	return out
}

func defaultBodyDecoder(body []byte) (MessageKind, []byte, error) {
	if len(body) < 1 {
		return 0, nil, errors.Wrap(errors.ErrIncompletePacket, "rpc: empty frame body")
	}
	return MessageKind(body[0]), body[1:], nil
}

// Coder bundles a channel's encoder/decoder pair; ServerChannel and
// ClientChannel each own one, replaceable per connection to adapt to
// non-default wire formats (spec.md §4.7).
type Coder struct {
	Encode bodyEncoder
	Decode bodyDecoder
}

// DefaultCoder is the length-prefixed-msgpack wire format this repo
// speaks by default between two lrpc processes.
func DefaultCoder() *Coder {
	return &Coder{Encode: defaultBodyEncoder, Decode: defaultBodyDecoder}
}

// EncodeFrame writes [u32 total_len][body] into buf, where total_len
// counts itself plus body (spec.md §4.7/§6).
func (c *Coder) EncodeFrame(buf *reactor.Buffer, kind MessageKind, payload []byte) {
	body := c.Encode(kind, payload)
	total := uint32(HeaderSize + len(body))
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], total)
	buf.Append(header[:])
	buf.Append(body)
}

// TryDecodeFrame attempts to pull one complete frame off the front of
// buf. Returns (frame, true, nil) on success, (nil, false, nil) if more
// bytes are needed, or a non-nil error (always CodeTooLongFrame or
// CodeDecodeFail) on a malformed frame — callers must treat either as
// connection-fatal per spec.md §7.
func (c *Coder) TryDecodeFrame(buf *reactor.Buffer) (*Frame, bool, error) {
	if buf.Readable() < HeaderSize {
		return nil, false, nil
	}
	header := buf.Peek()[:HeaderSize]
	total := binary.LittleEndian.Uint32(header)
	if total <= HeaderSize || total >= MaxFrameSize {
		return nil, false, NewCallError(CodeTooLongFrame, "frame length out of bounds")
	}
	if buf.Readable() < int(total) {
		return nil, false, nil
	}

	full := make([]byte, total)
	copy(full, buf.Peek()[:total])
	buf.Retrieve(int(total))

	kind, payload, err := c.Decode(full[HeaderSize:])
	if err != nil {
		return nil, false, NewCallError(CodeDecodeFail, err.Error())
	}
	return &Frame{Kind: kind, Payload: payload}, true, nil
}
