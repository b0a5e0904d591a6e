package dataprocessing

import "errors"

var (
	// ErrMissingColumn means a source lacks a column its definition names.
	ErrMissingColumn = errors.New("missing column")
	// ErrMalformedValue means a year or metric cell could not be parsed.
	ErrMalformedValue = errors.New("malformed value")
	// ErrDuplicateYear means a normalized source has more than one row for a year.
	ErrDuplicateYear = errors.New("duplicate year")
	// ErrColumnCollision means two merged tables share a metric name.
	ErrColumnCollision = errors.New("column collision")
	// ErrEmptyColumn means a metric column has no value in any row.
	ErrEmptyColumn = errors.New("empty column")
	// ErrInvariant is returned by Validate when a finalized table is inconsistent.
	ErrInvariant = errors.New("finalized table invariant violated")
)
