package calo3dgan

import "errors"

var (
	ErrShape  = errors.New("invalid tensor shape")
	ErrFormat = errors.New("unknown data format")
	ErrPower  = errors.New("power must be finite and > 0")
	ErrConfig = errors.New("invalid config")
)
