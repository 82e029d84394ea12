package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/datalift/janitor/pkg/model"
)

// WriteFile writes the machine-readable run report as JSON to path. A
// ".zst" suffix enables zstd compression, which keeps archived reports from
// large clusters small.
func WriteFile(path string, rep model.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("report: init compressor: %w", err)
		}
		if err := json.NewEncoder(zw).Encode(rep); err != nil {
			zw.Close()
			return fmt.Errorf("report: encode %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("report: flush %s: %w", path, err)
		}
		return nil
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("report: encode %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a run report back, transparently decompressing ".zst"
// files. Used by tooling that post-processes archived reports.
func ReadFile(path string) (model.Report, error) {
	var rep model.Report

	f, err := os.Open(path)
	if err != nil {
		return rep, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return rep, fmt.Errorf("report: init decompressor: %w", err)
		}
		defer zr.Close()
		if err := json.NewDecoder(zr).Decode(&rep); err != nil {
			return rep, fmt.Errorf("report: decode %s: %w", path, err)
		}
		return rep, nil
	}

	if err := json.NewDecoder(f).Decode(&rep); err != nil {
		return rep, fmt.Errorf("report: decode %s: %w", path, err)
	}
	return rep, nil
}
