package pdfops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultDPI is the render resolution used when the caller passes 0.
const DefaultDPI = 150

// Rasterizer renders single PDF pages to PNG by shelling out to an external
// renderer (pdftoppm from poppler-utils).
type Rasterizer struct {
	command string
	timeout time.Duration
}

// NewRasterizer builds a rasterizer; command defaults to pdftoppm.
func NewRasterizer(command string, timeout time.Duration) *Rasterizer {
	if command == "" {
		command = "pdftoppm"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Rasterizer{command: command, timeout: timeout}
}

// RenderPage renders a 1-indexed page to PNG bytes. Each invocation uses an
// isolated temp dir that is removed on every exit path; the output file is
// located by glob since the tool's numbering pattern varies with page count.
func (r *Rasterizer) RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if _, err := exec.LookPath(r.command); err != nil {
		return nil, fmt.Errorf("%s not found: %w", r.command, err)
	}

	dir, err := os.MkdirTemp("", "raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.command,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", r.command, err, string(out))
	}

	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return nil, fmt.Errorf("glob render output: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s produced no output for page %d", r.command, page)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read render output: %w", err)
	}
	return data, nil
}

// PageCount reports the number of pages in a PDF.
func (r *Rasterizer) PageCount(pdfPath string) (int, error) {
	count, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return count, nil
}
