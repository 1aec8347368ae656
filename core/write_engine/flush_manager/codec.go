package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// Compression selects how page images are stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionXZ   Compression = "xz"
)

const (
	imageMagic   uint32 = 0x474a4550 // "GJEP"
	imageVersion uint8  = 1

	flagXZ uint8 = 1 << 0

	// magic(4) + version(1) + flags(1) + blake3(32)
	imageHeaderSize = 4 + 1 + 1 + blake3Size
	blake3Size      = 32
)

// encodeImage serializes entries as a self-checking page image:
// header, then a uvarint count followed by length-prefixed keys and values.
func encodeImage(entries []pagemanager.Entry, c Compression) ([]byte, error) {
	var payload bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	putBytes := func(s string) {
		n := binary.PutUvarint(scratch[:], uint64(len(s)))
		payload.Write(scratch[:n])
		payload.WriteString(s)
	}
	n := binary.PutUvarint(scratch[:], uint64(len(entries)))
	payload.Write(scratch[:n])
	for _, e := range entries {
		putBytes(e.Key)
		putBytes(e.Value)
	}

	var flags uint8
	body := payload.Bytes()
	switch c {
	case CompressionNone, "":
	case CompressionXZ:
		var compressed bytes.Buffer
		w, err := xz.NewWriter(&compressed)
		if err != nil {
			return nil, fmt.Errorf("create xz writer: %w", err)
		}
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("compress page image: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress page image: %w", err)
		}
		body = compressed.Bytes()
		flags |= flagXZ
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompressor, c)
	}

	sum := blake3.Sum256(body)
	out := make([]byte, imageHeaderSize, imageHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], imageMagic)
	out[4] = imageVersion
	out[5] = flags
	copy(out[6:imageHeaderSize], sum[:])
	return append(out, body...), nil
}

// decodeImage verifies and parses an image written by encodeImage.
func decodeImage(image []byte) ([]pagemanager.Entry, error) {
	if len(image) < imageHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidPageData, len(image))
	}
	if binary.LittleEndian.Uint32(image[0:4]) != imageMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidPageData)
	}
	if image[4] != imageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidPageData, image[4])
	}
	flags := image[5]
	body := image[imageHeaderSize:]
	if sum := blake3.Sum256(body); !bytes.Equal(sum[:], image[6:imageHeaderSize]) {
		return nil, ErrChecksumMismatch
	}

	if flags&flagXZ != 0 {
		r, err := xz.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPageData, err)
		}
		body, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPageData, err)
		}
	}

	rd := bytes.NewReader(body)
	count, err := binary.ReadUvarint(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %w", ErrInvalidPageData, err)
	}
	// Every entry carries at least two length bytes.
	if count > uint64(rd.Len())/2 {
		return nil, fmt.Errorf("%w: entry count %d exceeds %d payload bytes", ErrInvalidPageData, count, rd.Len())
	}
	readString := func() (string, error) {
		n, err := binary.ReadUvarint(rd)
		if err != nil {
			return "", err
		}
		if n > uint64(rd.Len()) {
			return "", io.ErrUnexpectedEOF
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	entries := make([]pagemanager.Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		k, err := readString()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d key: %w", ErrInvalidPageData, i, err)
		}
		v, err := readString()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d value: %w", ErrInvalidPageData, i, err)
		}
		entries = append(entries, pagemanager.Entry{Key: k, Value: v})
	}
	return entries, nil
}
