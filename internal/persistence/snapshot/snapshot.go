// Package snapshot stores exercise exports as zstd-compressed JSON files.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"manvsim.ai/internal/sim/migration"
)

// Ext is the file extension of stored exports.
const Ext = ".json.zst"

// Header is the part of an export needed to list files without decoding
// whole states.
type Header struct {
	Type        string `json:"type"`
	FileVersion int    `json:"fileVersion"`
	DataVersion int    `json:"dataVersion"`
}

// Encode writes v as JSON to w, compressed with zstd if compress is set.
func Encode(w io.Writer, v any, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(v)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// WriteFile stores an export at path. The file is written next to its
// destination and renamed, so readers never see a partial export.
func WriteFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Encode(tmp, v, true); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Decompress returns the raw JSON of a stored export. Plain JSON input is
// returned unchanged.
func Decompress(b []byte) ([]byte, error) {
	if len(b) > 0 && (b[0] == '{' || b[0] == ' ' || b[0] == '\n') {
		return b, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func readRaw(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := Decompress(b)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return raw, nil
}

// ReadHeader decodes only the envelope of a stored export.
func ReadHeader(path string) (Header, error) {
	var h Header
	raw, err := readRaw(path)
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(raw, &h)
	return h, err
}

// ReadStateExport loads a complete export and migrates it to the current
// data version.
func ReadStateExport(path string) (*migration.StateExport, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	return migration.MigrateStateExport(raw)
}

// ReadPartialExport loads a template export and migrates it.
func ReadPartialExport(path string) (*migration.PartialExport, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	return migration.MigratePartialExport(raw)
}
