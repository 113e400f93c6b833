package tiling

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

// EncodeLabels packs labels as little-endian int32 and compresses them with zstd
func EncodeLabels(labels []int) ([]byte, error) {
	raw := make([]byte, 4*len(labels))
	for i, l := range labels {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(int32(l)))
	}

	var buf bytes.Buffer
	enc := zstdEncPool.Get().(*zstd.Encoder)
	defer zstdEncPool.Put(enc)
	enc.Reset(&buf)

	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compressing labels: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compressing labels: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeLabels reverses EncodeLabels. want is the expected label count.
func DecodeLabels(data []byte, want int) ([]int, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing labels: %w", err)
	}
	if len(raw) != 4*want {
		return nil, fmt.Errorf("%w: blob holds %d bytes, expected %d labels", ErrShapeMismatch, len(raw), want)
	}

	labels := make([]int, want)
	for i := range labels {
		labels[i] = int(int32(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return labels, nil
}
