package convert

import (
	"errors"
	"fmt"
	"os/exec"
)

// ConversionError wraps any failure to produce an artifact for a source file.
// It always carries the source path so batch reports stay attributable.
type ConversionError struct {
	Source string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for %s: %v", e.Source, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func conversionErr(source string, err error) error {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConversionError{Source: source, Err: err}
}

// isTransient classifies failures worth one more attempt. Process spawn
// errors can be momentary (fd exhaustion, fork pressure); an ffmpeg run
// that started and exited non-zero means bad input and is final.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	var execErr *exec.Error
	return errors.As(err, &execErr)
}
