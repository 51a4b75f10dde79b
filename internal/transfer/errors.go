package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVariants is returned for a master playlist without variants.
	ErrNoVariants = errors.New("could not find any media playlists")

	// ErrOnlyIframeVariants is returned when every variant is iframe-only.
	ErrOnlyIframeVariants = errors.New("could not find a non-iframe media playlist")

	// ErrIframePlaylist is returned for a direct media playlist that only
	// carries iframes.
	ErrIframePlaylist = errors.New("is iframe media playlist")

	// ErrMissingKeyURI is returned when an encrypted segment group has no
	// key URI to fetch.
	ErrMissingKeyURI = errors.New("no uri for decryption key provided")
)

// UnsupportedEncryptionError is returned for key methods other than AES-128.
type UnsupportedEncryptionError struct {
	Method string
}

func (e *UnsupportedEncryptionError) Error() string {
	return fmt.Sprintf("m3u8 %q decryption not implemented", e.Method)
}

// StageError tags an underlying error with the transfer stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
