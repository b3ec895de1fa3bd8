// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pixels defines the closed palette of board colors and their
// single-byte on-disk representation.
//
// # Encoding
//
// The 16 colors occupy the contiguous printable range '0' (0x30) through
// '?' (0x3F), in palette order:
//
//	White '0'  LightGray '1'  DarkGray '2'  Black '3'
//	Pink  '4'  Red       '5'  Orange   '6'  Brown '7'
//	Yellow '8' Lime      '9'  Green    ':'  Cyan  ';'
//	Teal  '<'  Blue      '='  Magenta  '>'  Purple '?'
//
// None of these bytes is a line terminator, so a board made of encoded
// pixels is always a single line.
//
// # JSON
//
// Pixels travel over the wire by name ("Red"), never by code.
package pixels

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Pixel is one of the 16 palette colors.
type Pixel uint8

const (
	White Pixel = iota
	LightGray
	DarkGray
	Black
	Pink
	Red
	Orange
	Brown
	Yellow
	Lime
	Green
	Cyan
	Teal
	Blue
	Magenta
	Purple

	// Count is the number of palette colors.
	Count = 16
)

// MinByte and MaxByte bound the encoded range (inclusive).
const (
	MinByte byte = '0'
	MaxByte byte = MinByte + Count - 1
)

var (
	// ErrUnknownPixel is returned when a color name is not in the palette.
	ErrUnknownPixel = errors.New("unknown pixel color")

	// ErrInvalidByte is returned when decoding a byte outside [MinByte, MaxByte].
	ErrInvalidByte = errors.New("byte is not a pixel code")
)

var names = [Count]string{
	"White", "LightGray", "DarkGray", "Black",
	"Pink", "Red", "Orange", "Brown",
	"Yellow", "Lime", "Green", "Cyan",
	"Teal", "Blue", "Magenta", "Purple",
}

var byName = func() map[string]Pixel {
	m := make(map[string]Pixel, Count)
	for i, n := range names {
		m[n] = Pixel(i)
	}
	return m
}()

// All returns every palette color in code order.
func All() []Pixel {
	out := make([]Pixel, Count)
	for i := range out {
		out[i] = Pixel(i)
	}
	return out
}

// Valid reports whether p is a palette color.
func (p Pixel) Valid() bool {
	return p < Count
}

// Byte returns the on-disk code for p. It panics if p is not a palette
// color; values obtained from Parse, Decode or JSON are always valid.
func (p Pixel) Byte() byte {
	if !p.Valid() {
		panic(fmt.Sprintf("pixels: invalid pixel %d", uint8(p)))
	}
	return MinByte + byte(p)
}

// String returns the color name, or "Pixel(n)" for out-of-range values.
func (p Pixel) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Pixel(%d)", uint8(p))
	}
	return names[p]
}

// Encode maps a color to its on-disk byte.
func Encode(p Pixel) byte {
	return p.Byte()
}

// Decode maps an on-disk byte back to its color.
func Decode(b byte) (Pixel, error) {
	if b < MinByte || b > MaxByte {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidByte, b)
	}
	return Pixel(b - MinByte), nil
}

// Parse looks up a color by its exact name.
func Parse(name string) (Pixel, error) {
	p, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPixel, name)
	}
	return p, nil
}

// MarshalJSON encodes the pixel as its color name.
func (p Pixel) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPixel, uint8(p))
	}
	return json.Marshal(names[p])
}

// UnmarshalJSON decodes a color name.
func (p *Pixel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("pixel must be a color name: %w", err)
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
