package version

import "errors"

var (
	// ErrCorruptManifest is returned when a manifest edit file's bytes
	// cannot be decoded back into an Edit.
	ErrCorruptManifest = errors.New("version: corrupt manifest edit")
	// ErrMissingFile names an edit that refers to a FileID the file
	// provider does not list. No code path in this package returns it:
	// Open and Apply do not check edits against the provider's listing.
	ErrMissingFile = errors.New("version: referenced file missing from provider")
)
