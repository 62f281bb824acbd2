package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxPipedInput bounds what ReadStdin accepts. Chunks carry short strings;
// files are read from disk instead.
const MaxPipedInput = 1 << 20

// ReadStdin reads piped input, failing when stdin is a terminal.
func ReadStdin() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("no data provided on stdin (hint: pass the value as an argument or pipe it in)")
	}
	return ReadLimited(os.Stdin, MaxPipedInput)
}

// ReadLimited reads all of r, rejecting empty input and input over max bytes.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("input is empty")
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("input exceeds %d bytes", max)
	}
	return data, nil
}
