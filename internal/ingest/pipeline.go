package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"vehicleregistry/pkg/domain"
	"vehicleregistry/pkg/store"
)

// Pipeline turns raw CSV bytes into registration mutations and a summary.
// Construct one per run; it holds no per-run state of its own.
type Pipeline struct {
	files store.FileHashStore
	regs  store.RegistrationStore
}

func NewPipeline(files store.FileHashStore, regs store.RegistrationStore) *Pipeline {
	return &Pipeline{files: files, regs: regs}
}

// ContentHash returns the URL-safe base64 SHA-256 of the file bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Ingest hashes the content, rejects a previously accepted file, claims the
// hash, and then processes rows. Used by the synchronous upload path.
func (p *Pipeline) Ingest(data []byte) (domain.UploadSummary, error) {
	hash := ContentHash(data)
	exists, err := p.files.ExistsByHash(hash)
	if err != nil {
		return domain.UploadSummary{}, fmt.Errorf("check file hash: %w", err)
	}
	if exists {
		slog.Warn("duplicate file submission detected", "hash", hash)
		return domain.UploadSummary{}, domain.ErrDuplicateFile
	}
	if err := p.files.AddHash(hash); err != nil {
		return domain.UploadSummary{}, err
	}
	return p.Run(data)
}

// Run processes the rows of a file whose hash has already been claimed.
// The asynchronous path claims the hash at submission time, before the job
// is queued, so the background run must not repeat the duplicate check.
func (p *Pipeline) Run(data []byte) (domain.UploadSummary, error) {
	var summary domain.UploadSummary

	rows, err := parseCSV(bytes.NewReader(data))
	if err != nil {
		return summary, fmt.Errorf("%w: %v", domain.ErrMalformedCSV, err)
	}
	if len(rows) == 0 {
		slog.Warn("CSV file is empty")
		return summary, domain.ErrEmptyFile
	}
	summary.Submitted = len(rows)

	unit, err := p.regs.Begin()
	if err != nil {
		return summary, fmt.Errorf("begin registration unit: %w", err)
	}
	committed := false
	// Release the unit even when a row panics, so a recovered job cannot
	// leave the transaction (or the memory store's run slot) held forever.
	defer func() {
		if !committed {
			_ = unit.Rollback()
		}
	}()
	reconciler := NewReconciler(unit)

	for i, row := range rows {
		record, err := ValidateRow(row)
		if err != nil {
			slog.Warn("skipping invalid record", "row", i+1, "err", err)
			summary.Invalid++
			continue
		}
		outcome, err := reconciler.Apply(record)
		if err != nil {
			slog.Warn("skipping invalid record", "row", i+1, "err", err)
			summary.Invalid++
			continue
		}
		switch outcome {
		case OutcomeAdded:
			summary.Added++
		case OutcomeUpdated:
			summary.Updated++
		}
		summary.Processed++
	}

	if err := unit.Commit(); err != nil {
		return summary, fmt.Errorf("commit registrations: %w", err)
	}
	committed = true
	slog.Info("upload summary",
		"submitted", summary.Submitted,
		"processed", summary.Processed,
		"invalid", summary.Invalid,
		"added", summary.Added,
		"updated", summary.Updated)
	return summary, nil
}

// parseCSV reads the header, trims each header cell, and maps every data
// row by header name. Unknown columns are carried along and ignored by the
// validators; rows shorter than the header leave the trailing columns absent.
func parseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	var rows []Row
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, name := range header {
			if name == "" || i >= len(fields) {
				continue
			}
			row[name] = fields[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
