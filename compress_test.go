// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompress_RoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	tests := map[string][]byte{
		"empty":      {},
		"one byte":   {0x42},
		"short":      []byte("export const y=42;"),
		"repetitive": bytes.Repeat([]byte("export function f() { return 1; }\n"), 200),
		"random":     random,
		"long run":   make([]byte, 70000),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			blob, err := Compress(data)
			require.NoError(t, err)
			require.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(blob))

			got, err := Decompress(blob)
			require.NoError(t, err)
			require.Equal(t, len(data), len(got))
			require.True(t, bytes.Equal(data, got))
		})
	}
}

func TestCompress_ShrinksRepetitiveInput(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 1000)
	blob, err := Compress(data)
	require.NoError(t, err)
	require.Less(t, len(blob), len(data)/4)
}

func TestAppendLiteralBlock(t *testing.T) {
	for _, n := range []int{0, 1, 14, 15, 16, 269, 270, 271, 1000} {
		data := bytes.Repeat([]byte{0xab}, n)
		blob := appendLiteralBlock(binary.LittleEndian.AppendUint32(nil, uint32(n)), data)
		got, err := Decompress(blob)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, data, got, "n=%d", n)
	}
}

func TestDecompress_Errors(t *testing.T) {
	blob, err := Compress(bytes.Repeat([]byte("module"), 100))
	require.NoError(t, err)

	tests := map[string][]byte{
		"short header":   {1, 0},
		"size too large": binary.LittleEndian.AppendUint32(nil, MaxDecompressedSize+1),
		"size mismatch":  append(binary.LittleEndian.AppendUint32(nil, 10000), blob[4:]...),
		"truncated":      blob[:len(blob)/2],
		"garbage":        append(binary.LittleEndian.AppendUint32(nil, 16), 0xff, 0xff, 0xff),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decompress(in)
			require.Error(t, err)
			require.Equal(t, KindDecode, KindOf(err))
		})
	}
}
