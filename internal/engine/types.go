package engine

import (
	"context"
	"fmt"
	"strings"
)

// Engine is the contract for producing audio from text.
type Engine interface {
	// Generate returns a complete audio container (WAV bytes).
	Generate(ctx context.Context, text string) ([]byte, error)
	// GeneratePCM returns interleaved 16-bit linear PCM samples.
	GeneratePCM(ctx context.Context, text string) ([]int16, error)
}

// SpawnError reports that the synthesis command could not be started.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn synthesis command: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError reports a non-zero exit from the synthesis command, with the
// captured output.
type ExitError struct {
	Stdout string
	Stderr string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("synthesis command exited with code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// DataError reports a malformed synthesis output container.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("malformed synthesis output: %s", e.Reason)
}
