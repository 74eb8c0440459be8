package linker

import "errors"

var (
	ErrMalformedInput        = errors.New("malformed input")
	ErrUndefinedSymbol       = errors.New("undefined symbol")
	ErrDuplicateStrongSymbol = errors.New("multiple definition of strong symbol")
	ErrLibraryNotFound       = errors.New("library not found")
	ErrLayoutOverflow        = errors.New("relocation displacement overflow")
)
