package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/opensource-finance/tern/internal/domain"
)

// DecodeJSON reads an array of {id, attributes} coupons.
func DecodeJSON(r io.Reader, logger *slog.Logger) ([]*domain.Coupon, error) {
	var payloads []domain.CouponPayload
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&payloads); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromPayloads(payloads, logger)
}

// DecodeCoupon reads a single {id, attributes} coupon.
func DecodeCoupon(data []byte, logger *slog.Logger) (*domain.Coupon, error) {
	var p domain.CouponPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return NewCoupon(p.ID, p.Attributes, logger), nil
}

// FromPayloads converts wire coupons. An empty slice is ErrEmptyInput.
func FromPayloads(payloads []domain.CouponPayload, logger *slog.Logger) ([]*domain.Coupon, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyInput
	}
	coupons := make([]*domain.Coupon, len(payloads))
	for i, p := range payloads {
		coupons[i] = NewCoupon(p.ID, p.Attributes, logger)
	}
	return coupons, nil
}
