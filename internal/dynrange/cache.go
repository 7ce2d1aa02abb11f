package dynrange

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// DefaultCacheHeader is the first line of a written calibration cache.
const DefaultCacheHeader = "TRT-7000-EntropyCalibration2"

// WriteCalibrationCache writes t as a calibration cache: a header line, then
// `name: <hex>` per tensor where <hex> is the big-endian bit pattern of the
// float32 scale r/127.
func WriteCalibrationCache(w io.Writer, t *Table, header string) error {
	if header == "" {
		header = DefaultCacheHeader
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return err
	}

	var buf [4]byte
	for _, name := range t.Names() {
		scale := float32(t.ranges[name] / DefaultRange)
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(scale))

		if _, err := fmt.Fprintf(bw, "%s: %s\n", name, hex.EncodeToString(buf[:])); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadCalibrationCache converts a calibration cache back into ranges. The
// header line is skipped; names may contain colons, so each entry is split at
// its last ": ".
func ReadCalibrationCache(r io.Reader) (*Table, error) {
	ranges := make(map[string]float64)

	sc := bufio.NewScanner(r)
	lineNo := 0

	for sc.Scan() {
		lineNo++

		line := strings.TrimSuffix(sc.Text(), "\r")
		if lineNo == 1 || line == "" {
			continue
		}

		i := strings.LastIndex(line, ": ")
		if i < 0 {
			return nil, &ParseError{Line: lineNo, Text: line, Err: errors.New("missing ': ' separator")}
		}

		raw, err := hex.DecodeString(strings.TrimSpace(line[i+2:]))
		if err != nil || len(raw) != 4 {
			if err == nil {
				err = fmt.Errorf("want 4 bytes, got %d", len(raw))
			}
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}

		scale := math.Float32frombits(binary.BigEndian.Uint32(raw))
		ranges[line[:i]] = float64(scale) * DefaultRange
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read calibration cache: %w", err)
	}

	return &Table{ranges: ranges}, nil
}
