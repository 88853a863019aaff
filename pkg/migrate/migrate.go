// Package migrate converts graph snapshots between the supported
// interchange encodings (DAG-JSON, JSON-Lines, CAR) and moves them in and
// out of a live engine.
//
// Conversion goes through the canonical snapshot form, so any source
// format can become any destination format without loss:
//
//	in, _ := os.Open("graph.jsonl")
//	out, _ := os.Create("graph.car")
//	err := migrate.Convert(in, storage.FormatJSONLines, out, storage.FormatCAR)
//
// When the source format is unknown, ConvertDetect sniffs it from the
// payload. CAR streams are recognized by their binary magic; they can
// never be mistaken for one of the JSON formats.
package migrate

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/muninndb/muninn/pkg/storage"
)

// Formats lists the supported snapshot encodings in canonical order.
func Formats() []storage.Format {
	return []storage.Format{storage.FormatDAGJSON, storage.FormatJSONLines, storage.FormatCAR}
}

// ParseFormat maps a format name (as used in CLI flags and config files)
// to its Format. Common aliases are accepted.
func ParseFormat(name string) (storage.Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dag-json", "dagjson", "json":
		return storage.FormatDAGJSON, nil
	case "jsonl", "jsonlines", "json-lines", "ndjson":
		return storage.FormatJSONLines, nil
	case "car":
		return storage.FormatCAR, nil
	}
	return "", fmt.Errorf("%w: %q", storage.ErrUnknownFormat, name)
}

// Convert re-encodes a snapshot stream from one format to another. The
// source is fully decoded before anything is written, so a decode failure
// leaves dst untouched.
func Convert(src io.Reader, srcFormat storage.Format, dst io.Writer, dstFormat storage.Format) error {
	snap, err := storage.DecodeSnapshot(src, srcFormat)
	if err != nil {
		return fmt.Errorf("migrate: decode %s: %w", srcFormat, err)
	}
	if err := storage.EncodeSnapshot(dst, snap, dstFormat); err != nil {
		return fmt.Errorf("migrate: encode %s: %w", dstFormat, err)
	}
	return nil
}

// ConvertDetect converts like Convert but sniffs the source format from
// the payload, returning which format it found.
func ConvertDetect(src io.Reader, dst io.Writer, dstFormat storage.Format) (storage.Format, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("migrate: read source: %w", err)
	}
	srcFormat, err := storage.DetectFormat(data)
	if err != nil {
		return "", fmt.Errorf("migrate: %w", err)
	}
	return srcFormat, Convert(bytes.NewReader(data), srcFormat, dst, dstFormat)
}

// Dump writes the engine's full contents to w in the given format.
func Dump(engine *storage.MemoryEngine, w io.Writer, format storage.Format) error {
	snap, err := engine.Snapshot()
	if err != nil {
		return fmt.Errorf("migrate: snapshot: %w", err)
	}
	if err := storage.EncodeSnapshot(w, snap, format); err != nil {
		return fmt.Errorf("migrate: encode %s: %w", format, err)
	}
	return nil
}

// Restore replaces the engine's contents with the snapshot read from r.
// An empty format means sniff it from the payload.
func Restore(engine *storage.MemoryEngine, r io.Reader, format storage.Format) error {
	var snap *storage.Snapshot
	var err error

	if format == "" {
		var data []byte
		data, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("migrate: read source: %w", err)
		}
		format, err = storage.DetectFormat(data)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		snap, err = storage.DecodeSnapshot(bytes.NewReader(data), format)
	} else {
		snap, err = storage.DecodeSnapshot(r, format)
	}
	if err != nil {
		return fmt.Errorf("migrate: decode %s: %w", format, err)
	}

	if err := engine.RestoreSnapshot(snap); err != nil {
		return fmt.Errorf("migrate: restore: %w", err)
	}
	return nil
}
