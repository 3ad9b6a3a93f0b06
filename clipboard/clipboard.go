package clipboard

import (
	"fmt"

	cb "github.com/atotto/clipboard"
)

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	return cb.WriteAll(text)
}

// Verify writes probe and reads it back.
func Verify(probe string) error {
	if cb.Unsupported {
		return fmt.Errorf("no clipboard utility available")
	}
	if err := Copy(probe); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	got, err := Read()
	if err != nil {
		return fmt.Errorf("clipboard read: %w", err)
	}
	if got != probe {
		return fmt.Errorf("clipboard mismatch: wrote %q, got %q", probe, got)
	}
	return nil
}
