package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/opensource-finance/tern/internal/domain"
)

// ReadCSV reads a header row followed by one coupon per row. Empty cells are
// absent attributes. Input without data rows fails with ErrEmptyInput.
func ReadCSV(r io.Reader, logger *slog.Logger) ([]*domain.Coupon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var coupons []*domain.Coupon
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if blankRow(row) {
			continue
		}

		raw := make(map[string]any, len(row))
		for i, cell := range row {
			if i >= len(names) || names[i] == "" {
				continue
			}
			if prev, dup := raw[names[i]].(string); dup && strings.TrimSpace(prev) != "" {
				continue
			}
			raw[names[i]] = cell
		}
		coupons = append(coupons, NewCoupon("", raw, logger))
	}

	if len(coupons) == 0 {
		return nil, ErrEmptyInput
	}
	return coupons, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
