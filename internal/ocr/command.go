package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// CommandRecognizer invokes an external text-recognition binary (tesseract
// by default) with an image path and returns its stdout as the recognized
// text. The "{image}" placeholder in Args is replaced with the temp file the
// image bytes are written to.
type CommandRecognizer struct {
	Command string
	Args    []string
}

// NewTesseract returns the conventional tesseract invocation:
// "tesseract <image> stdout".
func NewTesseract() *CommandRecognizer {
	return &CommandRecognizer{
		Command: "tesseract",
		Args:    []string{"{image}", "stdout"},
	}
}

func (r *CommandRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	path := filepath.Join(os.TempDir(), "lienharvest-rec-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	defer os.Remove(path)

	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		if a == "{image}" {
			a = path
		}
		args[i] = a
	}

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", r.Command, err, stderr.String())
	}
	return out.String(), nil
}
