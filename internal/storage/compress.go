package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

const (
	markerUncompressed byte = 0x00
	markerGzip         byte = 0x01
)

// compressBlob prefixes data with a one-byte marker: 0x01 if gzip-compressed,
// 0x00 if stored raw (compression disabled). The marker lets decompressBlob
// read data written under either setting without needing to know which was
// active at write time.
func compressBlob(data []byte, enabled bool) ([]byte, error) {
	if !enabled {
		out := make([]byte, 1+len(data))
		out[0] = markerUncompressed
		copy(out[1:], data)
		return out, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(markerGzip)
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("storage: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("storage: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressBlob(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	marker, body := data[0], data[1:]
	switch marker {
	case markerUncompressed:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case markerGzip:
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("storage: gzip reader: %w", err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("storage: gzip read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storage: unknown compression marker 0x%02x", marker)
	}
}
