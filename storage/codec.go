package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tinylib/msgp/msgp"
)

// Compression selects the block compression applied after msgp encoding.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout:
//
//	<1 byte compression> <4 bytes raw size> <4 bytes stored size> <payload>
//
// A stored size of 0 means the payload is kept raw.
const blockHeaderSize = 9

var errShortBlock = errors.New("block too small for header")

func compressBlock(data []byte, compression Compression) ([]byte, error) {
	var compressed []byte
	switch compression {
	case CompressionLZ4:
		compressed = make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		compressed = compressed[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(data))
	out[0] = byte(compression)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	if len(compressed) == 0 || len(compressed) >= len(data) {
		binary.LittleEndian.PutUint32(out[5:], 0)
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	return append(out, compressed...), nil
}

func decompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errShortBlock
	}
	compression := Compression(block[0])
	rawSize := binary.LittleEndian.Uint32(block[1:])
	storedSize := binary.LittleEndian.Uint32(block[5:])
	payload := block[blockHeaderSize:]

	if storedSize == 0 {
		if uint32(len(payload)) < rawSize {
			return nil, errors.New("block data too small")
		}
		return payload[:rawSize], nil
	}
	if uint32(len(payload)) < storedSize {
		return nil, errors.New("compressed block data too small")
	}
	payload = payload[:storedSize]

	switch compression {
	case CompressionLZ4:
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return raw, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, err
		}
		if uint32(len(raw)) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unknown block %v", compression)
}

func EncodeReals(values []float64, compression Compression) ([]byte, error) {
	buf := msgp.AppendArrayHeader(make([]byte, 0, 5+9*len(values)), uint32(len(values)))
	for _, v := range values {
		buf = msgp.AppendFloat64(buf, v)
	}
	return compressBlock(buf, compression)
}

func DecodeReals(block []byte) ([]float64, error) {
	raw, err := decompressBlock(block)
	if err != nil {
		return nil, err
	}
	n, raw, err := msgp.ReadArrayHeaderBytes(raw)
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := range values {
		values[i], raw, err = msgp.ReadFloat64Bytes(raw)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

func EncodeInts(values []int64, compression Compression) ([]byte, error) {
	buf := msgp.AppendArrayHeader(make([]byte, 0, 5+9*len(values)), uint32(len(values)))
	for _, v := range values {
		buf = msgp.AppendInt64(buf, v)
	}
	return compressBlock(buf, compression)
}

func DecodeInts(block []byte) ([]int64, error) {
	raw, err := decompressBlock(block)
	if err != nil {
		return nil, err
	}
	n, raw, err := msgp.ReadArrayHeaderBytes(raw)
	if err != nil {
		return nil, err
	}
	values := make([]int64, n)
	for i := range values {
		values[i], raw, err = msgp.ReadInt64Bytes(raw)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

func EncodeStrings(values []string, compression Compression) ([]byte, error) {
	buf := msgp.AppendArrayHeader(nil, uint32(len(values)))
	for _, v := range values {
		buf = msgp.AppendString(buf, v)
	}
	return compressBlock(buf, compression)
}

func DecodeStrings(block []byte) ([]string, error) {
	raw, err := decompressBlock(block)
	if err != nil {
		return nil, err
	}
	n, raw, err := msgp.ReadArrayHeaderBytes(raw)
	if err != nil {
		return nil, err
	}
	values := make([]string, n)
	for i := range values {
		values[i], raw, err = msgp.ReadStringBytes(raw)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}
