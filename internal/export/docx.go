package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// exportDOCX renders HTML to DOCX through pandoc.
func exportDOCX(ctx context.Context, html string, name string) (*Result, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	cmd := exec.CommandContext(ctx, "pandoc",
		"-f", "html",
		"-t", "docx",
		"--standalone",
		"-o", "-",
	)
	cmd.Stdin = strings.NewReader(html)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("pandoc: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("pandoc: %w", err)
	}

	return &Result{
		Filename:    sanitizeFilename(name) + ".docx",
		ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Data:        output,
	}, nil
}
