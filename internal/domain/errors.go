// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist upstream.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists (duplicate webhook or subscription).
var ErrConflict = errors.New("conflict: resource already exists")

// ErrValidation indicates a malformed request. Wrap it with the reason:
//
//	fmt.Errorf("repository id is required: %w", domain.ErrValidation)
var ErrValidation = errors.New("validation failed")
