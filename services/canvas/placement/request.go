// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package placement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/go-playground/validator/v10"
)

// ErrBadRequest is returned by ParseRequest for bodies that cannot be turned
// into a placement.
var ErrBadRequest = errors.New("bad placement request")

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("pixel", validatePixel)
}

// validatePixel accepts only the 16 palette values.
func validatePixel(fl validator.FieldLevel) bool {
	v := fl.Field().Uint()
	return v < pixels.Count
}

// =============================================================================
// Request Types
// =============================================================================

// Request is one single-pixel write.
//
// # Fields
//
//   - Pixel: Color to place.
//   - Index: Zero-based board offset.
type Request struct {
	Pixel pixels.Pixel `json:"pixel" validate:"pixel"`
	Index uint32       `json:"index"`
}

// Validate checks the request with the shared validator.
func (r Request) Validate() error {
	return requestValidate.Struct(r)
}

// requestBody is the wire form. Pointers distinguish a missing field from
// its zero value (White, index 0).
type requestBody struct {
	Pixel *pixels.Pixel `json:"pixel" validate:"required,pixel"`
	Index *uint32       `json:"index" validate:"required"`
}

// ParseRequest decodes and validates a JSON placement body such as
// {"pixel":"Red","index":2}.
//
// # Outputs
//
//   - Request: The decoded placement.
//   - error: Wraps ErrBadRequest for malformed JSON, unknown color names,
//     missing fields, indices outside uint32 or anything but whitespace
//     after the object.
func ParseRequest(data []byte) (Request, error) {
	var body requestBody
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&body); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Request{}, fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	if err := requestValidate.Struct(body); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return Request{Pixel: *body.Pixel, Index: *body.Index}, nil
}
