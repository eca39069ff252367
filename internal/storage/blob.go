package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// The encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// packJSON marshals v and compresses it with zstd.
func packJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return blobEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// unpackJSON reverses packJSON.
func unpackJSON(blob []byte, v any) error {
	raw, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
