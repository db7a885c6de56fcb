package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm used for a stored blob. Tags are
// recorded in the blob header (1 byte) — changing the values breaks blobs
// already on disk.
type Tag uint8

const (
	// TagNone indicates uncompressed pixel data. Selected automatically
	// when compression does not shrink the payload (noisy photographic
	// content compresses poorly).
	TagNone Tag = 0

	// TagLZ4 indicates LZ4 block compression. The default for pixel
	// data: modest ratios on flat or synthetic imagery at very low CPU
	// cost.
	TagLZ4 Tag = 1

	// TagZstd indicates zstd compression at the default level. Better
	// ratios than LZ4 when storage is the bottleneck.
	TagZstd Tag = 2
)

// String returns the human-readable name of a compression tag.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Blob header layout: magic(4) + version(1) + tag(1) + width(4) +
// height(4) + rawLen(4), then the (possibly compressed) pixel payload.
const (
	blobMagic      = "CPXB"
	blobVersion    = 1
	blobHeaderSize = 4 + 1 + 1 + 4 + 4 + 4
)

var errIncompressible = errors.New("store: data is incompressible")

// zstdEncoder and zstdDecoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeBlob serializes raw RGBA pixel bytes with the blob header, applying
// the requested compression. Falls back to TagNone when compression does not
// reduce the payload size.
func encodeBlob(data []byte, width, height int, tag Tag) ([]byte, error) {
	payload := data
	effective := TagNone

	switch tag {
	case TagNone:
	case TagLZ4:
		if compressed, err := compressLZ4(data); err == nil {
			payload = compressed
			effective = TagLZ4
		} else if !errors.Is(err, errIncompressible) {
			return nil, err
		}
	case TagZstd:
		if compressed, err := compressZstd(data); err == nil {
			payload = compressed
			effective = TagZstd
		} else if !errors.Is(err, errIncompressible) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("store: unsupported compression tag %d", tag)
	}

	out := make([]byte, blobHeaderSize+len(payload))
	copy(out, blobMagic)
	out[4] = blobVersion
	out[5] = byte(effective)
	binary.LittleEndian.PutUint32(out[6:], uint32(width))
	binary.LittleEndian.PutUint32(out[10:], uint32(height))
	binary.LittleEndian.PutUint32(out[14:], uint32(len(data)))
	copy(out[blobHeaderSize:], payload)
	return out, nil
}

// decodeBlob parses a blob file back into raw pixel bytes and dimensions.
func decodeBlob(blob []byte) (data []byte, width, height int, err error) {
	if len(blob) < blobHeaderSize || string(blob[:4]) != blobMagic {
		return nil, 0, 0, errors.New("store: not a pixel blob")
	}
	if blob[4] != blobVersion {
		return nil, 0, 0, fmt.Errorf("store: unsupported blob version %d", blob[4])
	}
	tag := Tag(blob[5])
	width = int(binary.LittleEndian.Uint32(blob[6:]))
	height = int(binary.LittleEndian.Uint32(blob[10:]))
	rawLen := int(binary.LittleEndian.Uint32(blob[14:]))
	payload := blob[blobHeaderSize:]

	switch tag {
	case TagNone:
		if len(payload) != rawLen {
			return nil, 0, 0, fmt.Errorf("store: blob payload is %d bytes, expected %d", len(payload), rawLen)
		}
		data = append([]byte(nil), payload...)
	case TagLZ4:
		data, err = decompressLZ4(payload, rawLen)
	case TagZstd:
		data, err = decompressZstd(payload, rawLen)
	default:
		err = fmt.Errorf("store: unsupported compression tag %d", tag)
	}
	if err != nil {
		return nil, 0, 0, err
	}
	return data, width, height, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible data. Equal-size output
	// is treated the same way: not worth the decode cost.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, rawLen int) ([]byte, error) {
	destination := make([]byte, rawLen)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != rawLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLen)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, rawLen int) ([]byte, error) {
	data, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(data) != rawLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(data), rawLen)
	}
	return data, nil
}
