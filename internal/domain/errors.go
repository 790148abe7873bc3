// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist or is not
// visible to the caller. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized indicates a missing or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// ErrValidation indicates a malformed or semantically invalid request.
var ErrValidation = errors.New("validation")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")
