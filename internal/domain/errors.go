package domain

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrDecode       = errors.New("image could not be decoded")
	ErrEncode       = errors.New("image could not be encoded")
	ErrStorageAuth  = errors.New("storage credentials rejected")
	ErrStorage      = errors.New("storage error")
	ErrBusy         = errors.New("another operation is in progress")
	ErrInvalidState = errors.New("operation not allowed in current state")
)
