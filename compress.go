// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// MaxDecompressedSize bounds the size prefix accepted by Decompress.
const MaxDecompressedSize = 256 << 20

const sizePrefixLen = 4

// Compress encodes data as an LZ4 block preceded by its uncompressed length
// as a 4-byte little-endian integer.
func Compress(data []byte) ([]byte, error) {
	if len(data) > MaxDecompressedSize {
		return nil, Errorf(KindDecode, "input of %d bytes exceeds compression limit", len(data))
	}
	out := make([]byte, sizePrefixLen+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))

	var c lz4.Compressor
	n, err := c.CompressBlock(data, out[sizePrefixLen:])
	if err != nil {
		return nil, NewError(KindDecode, "failed to compress", err)
	}
	if n == 0 {
		// incompressible input
		return appendLiteralBlock(out[:sizePrefixLen], data), nil
	}
	return out[:sizePrefixLen+n], nil
}

// appendLiteralBlock appends data as a block made of one literal-only sequence.
func appendLiteralBlock(dst, data []byte) []byte {
	n := len(data)
	if n < 15 {
		dst = append(dst, byte(n<<4))
	} else {
		dst = append(dst, 0xf0)
		for rest := n - 15; ; rest -= 255 {
			if rest < 255 {
				dst = append(dst, byte(rest))
				break
			}
			dst = append(dst, 255)
		}
	}
	return append(dst, data...)
}

// Decompress reverses Compress.
func Decompress(blob []byte) ([]byte, error) {
	if len(blob) < sizePrefixLen {
		return nil, Errorf(KindDecode, "compressed blob too short: %d bytes", len(blob))
	}
	size := binary.LittleEndian.Uint32(blob)
	if size > MaxDecompressedSize {
		return nil, Errorf(KindDecode, "decompressed size %d exceeds limit", size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(blob[sizePrefixLen:], out)
	if err != nil {
		return nil, NewError(KindDecode, "failed to decompress", err)
	}
	if n != int(size) {
		return nil, Errorf(KindDecode, "decompressed %d bytes, expected %d", n, size)
	}
	return out, nil
}
