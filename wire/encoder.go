package wire

import (
	"encoding/base64"
	"strconv"

	"github.com/ruteri/keystream/secretbuf"
)

const (
	keyChunkPrefix = `{"type":"key_chunk","index":`
	keyChunkData   = `,"data":"`
	keyChunkSuffix = `"}`
)

// Encoder frames chunks for transmission. It owns two scratch buffers whose
// size depends only on the chunk size, never on how many chunks a session has
// produced. An Encoder is not safe for concurrent use; each session owns one.
type Encoder struct {
	text  []byte
	frame []byte
}

// NewEncoder returns an encoder preallocated for chunks of chunkSize bytes.
func NewEncoder(chunkSize int) *Encoder {
	return &Encoder{
		text:  make([]byte, 0, base64.StdEncoding.EncodedLen(chunkSize)),
		frame: make([]byte, 0, keyChunkFrameLen(chunkSize)),
	}
}

func keyChunkFrameLen(chunkSize int) int {
	return len(keyChunkPrefix) + 20 + len(keyChunkData) + base64.StdEncoding.EncodedLen(chunkSize) + len(keyChunkSuffix)
}

// EncodeBinary returns the binary frame for chunk. Binary frames carry the
// chunk verbatim, so the returned slice aliases chunk.
func (e *Encoder) EncodeBinary(chunk []byte) []byte {
	return chunk
}

// EncodeText returns chunk as standard padded base64. The result aliases the
// encoder's scratch buffer and is valid until the next call or Wipe.
func (e *Encoder) EncodeText(chunk []byte) []byte {
	n := base64.StdEncoding.EncodedLen(len(chunk))
	if cap(e.text) < n {
		secretbuf.Wipe(e.text[:cap(e.text)])
		e.text = make([]byte, 0, n)
	}
	e.text = e.text[:n]
	base64.StdEncoding.Encode(e.text, chunk)
	return e.text
}

// EncodeKeyChunk returns a complete key_chunk JSON frame. The result aliases
// the encoder's scratch buffer and is valid until the next call or Wipe.
func (e *Encoder) EncodeKeyChunk(index int64, chunk []byte) []byte {
	need := keyChunkFrameLen(len(chunk))
	if cap(e.frame) < need {
		secretbuf.Wipe(e.frame[:cap(e.frame)])
		e.frame = make([]byte, 0, need)
	}
	e.frame = appendKeyChunk(e.frame[:0], index, chunk)
	return e.frame
}

// Wipe zeroes all scratch space. Call it after every transmitted frame and
// when the encoder is discarded.
func (e *Encoder) Wipe() {
	secretbuf.Wipe(e.text[:cap(e.text)])
	secretbuf.Wipe(e.frame[:cap(e.frame)])
	e.text = e.text[:0]
	e.frame = e.frame[:0]
}

func appendKeyChunk(dst []byte, index int64, chunk []byte) []byte {
	dst = append(dst, keyChunkPrefix...)
	dst = strconv.AppendInt(dst, index, 10)
	dst = append(dst, keyChunkData...)
	dst = base64.StdEncoding.AppendEncode(dst, chunk)
	dst = append(dst, keyChunkSuffix...)
	return dst
}
