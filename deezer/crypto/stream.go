package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the fixed block the service obfuscates streams in.
// Every third full chunk is encrypted, everything else is plain.
const ChunkSize = 2048

// StreamDecrypter reads an obfuscated track stream and yields plaintext
// bytes in original order. It buffers at most one chunk, performs no
// I/O beyond the wrapped reader, and is forward-only.
type StreamDecrypter struct {
	src   io.Reader
	block cipher.Block
	chunk [ChunkSize]byte
	buf   []byte
	index uint64
	done  bool
}

func NewStreamDecrypter(src io.Reader, key [16]byte) (*StreamDecrypter, error) {
	block, err := aes.NewCipher(key[:])
	if nil != err {
		return nil, fmt.Errorf("failed to initialize track cipher: %v", err)
	}

	return &StreamDecrypter{
		src:   src,
		block: block,
		chunk: [ChunkSize]byte{},
		buf:   nil,
		index: 0,
		done:  false,
	}, nil
}

func (d *StreamDecrypter) Read(p []byte) (int, error) {
	for len(d.buf) == 0 {
		if err := d.fill(); nil != err {
			return 0, err
		}
	}

	n := copy(p, d.buf)
	d.buf = d.buf[n:]

	return n, nil
}

func (d *StreamDecrypter) fill() error {
	if d.done {
		return io.EOF
	}

	n, err := io.ReadFull(d.src, d.chunk[:])
	switch {
	case errors.Is(err, io.EOF):
		d.done = true
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Final short chunk passes through untouched regardless of its index.
		d.done = true
	case nil != err:
		return fmt.Errorf("failed to read stream chunk %d: %w", d.index, err)
	default:
		if d.index%3 == 0 {
			d.decryptChunk()
		}
	}

	d.buf = d.chunk[:n]
	d.index++

	return nil
}

// Chunk i is AES-CTR decrypted with an IV of 8 zero bytes followed by
// the big-endian 64-bit counter i/3.
func (d *StreamDecrypter) decryptChunk() {
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[8:], d.index/3)
	cipher.NewCTR(d.block, iv[:]).XORKeyStream(d.chunk[:], d.chunk[:])
}
