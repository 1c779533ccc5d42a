package models

import "errors"

var (
	// ErrInvoiceNotFound is returned by id-based store operations when no record matches
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvalidInput marks request payloads that cannot be applied
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateInvoice is returned when a write collides with an existing duplicate key
	ErrDuplicateInvoice = errors.New("duplicate invoice")
)
