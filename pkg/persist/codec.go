// Package persist stores analysis state between runs as codec-encoded files.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	lz4Extension  = ".lz4"
)

// ErrNoState is returned by LoadState when nothing was saved yet.
var ErrNoState = errors.New("no persisted state")

// Codec defines how state is serialized and deserialized.
type Codec interface {
	Encode(w io.Writer, state any) error
	Decode(r io.Reader, state any) error
	// Extension returns the file extension, including the leading dot.
	Extension() string
}

// JSONCodec encodes state as JSON.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty means compact JSON.
	Indent string
}

// NewJSONCodec creates a compact JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	err := json.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// LZ4Codec compresses the output of an inner codec with the LZ4 frame format.
type LZ4Codec struct {
	inner Codec
	level lz4.CompressionLevel
}

// NewLZ4Codec wraps inner. A nil inner defaults to compact JSON.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	if inner == nil {
		inner = NewJSONCodec()
	}

	return &LZ4Codec{inner: inner, level: lz4.Fast}
}

// Encode implements Codec.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := zw.Apply(lz4.CompressionLevelOption(c.level))
	if err != nil {
		return fmt.Errorf("lz4 options: %w", err)
	}

	err = c.inner.Encode(zw, state)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	return c.inner.Decode(lz4.NewReader(r), state)
}

// Extension implements Codec.
func (c *LZ4Codec) Extension() string {
	return c.inner.Extension() + lz4Extension
}

// SaveState writes state to dir/basename+extension. The file is replaced
// atomically so a crash never leaves a truncated state behind.
func SaveState(dir, basename string, codec Codec, state any) error {
	mkErr := os.MkdirAll(dir, 0o755)
	if mkErr != nil {
		return fmt.Errorf("create state dir: %w", mkErr)
	}

	path := filepath.Join(dir, basename+codec.Extension())

	tmp, err := os.CreateTemp(dir, basename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpName := tmp.Name()

	encodeErr := codec.Encode(tmp, state)
	closeErr := tmp.Close()

	if encodeErr == nil {
		encodeErr = closeErr
	}

	if encodeErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("encode state: %w", encodeErr)
	}

	renameErr := os.Rename(tmpName, path)
	if renameErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("replace state file: %w", renameErr)
	}

	return nil
}

// LoadState reads state saved by SaveState into the pointer state.
func LoadState(dir, basename string, codec Codec, state any) error {
	path := filepath.Join(dir, basename+codec.Extension())

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoState
	}

	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}
