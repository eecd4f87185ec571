package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const defaultDPI = 150

// PDFRenderer rasters pages with pdftoppm and reads the text layer with
// pdftotext (poppler-utils). Page counting goes through pdfcpu so a
// malformed file fails at open time, not mid-document.
type PDFRenderer struct {
	path      string
	pageCount int
	dpi       int
}

// NewPDFRenderer opens a PDF and reads its page count.
func NewPDFRenderer(path string) (*PDFRenderer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("PDF has no pages: %s", path)
	}

	return &PDFRenderer{path: path, pageCount: pageCount, dpi: defaultDPI}, nil
}

// PageCount returns the number of pages in the document.
func (r *PDFRenderer) PageCount() int {
	return r.pageCount
}

// RenderPage rasters page n to a PNG via pdftoppm.
func (r *PDFRenderer) RenderPage(ctx context.Context, n int) ([]byte, error) {
	if n < 1 || n > r.pageCount {
		return nil, fmt.Errorf("page %d out of range [1,%d]", n, r.pageCount)
	}

	tmpDir, err := os.MkdirTemp("", "lectern-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(n)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		r.path,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

// ExtractText reads page n's embedded text layer via pdftotext. Scanned
// documents typically have none; that is not an error.
func (r *PDFRenderer) ExtractText(ctx context.Context, n int) (string, error) {
	if n < 1 || n > r.pageCount {
		return "", fmt.Errorf("page %d out of range [1,%d]", n, r.pageCount)
	}

	pageStr := strconv.Itoa(n)
	cmd := exec.CommandContext(ctx, "pdftotext",
		"-f", pageStr,
		"-l", pageStr,
		"-layout",
		r.path,
		"-", // stdout
	)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

var _ Renderer = (*PDFRenderer)(nil)
