// Package raster renders PDF pages to images for vision extraction using
// the poppler CLI tools.
package raster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/png"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultZoom is the render scale relative to the PDF's native 72 DPI.
const DefaultZoom = 2.0

// Info describes a PDF document.
type Info struct {
	Pages  int
	Width  float64 // native page width in points
	Height float64 // native page height in points
}

// Page is one rendered page.
type Page struct {
	Number       int
	PNG          []byte
	WidthPx      int
	HeightPx     int
	NativeWidth  float64
	NativeHeight float64
}

// RasterizationError marks a page that could not be rendered. Callers
// substitute an empty-value page for it rather than failing the document.
type RasterizationError struct {
	Page int
	Err  error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("raster: page %d failed: %v", e.Page, e.Err)
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// Document renders PDF pages to images.
type Document interface {
	Info(ctx context.Context, pdfPath string) (Info, error)
	RenderPage(ctx context.Context, pdfPath string, page int, zoom float64) (*Page, error)
}

// Poppler shells out to pdftoppm and pdfinfo. Binaries default to the
// names on PATH when paths are empty.
type Poppler struct {
	ppmPath  string
	infoPath string
}

// NewPoppler creates a Poppler renderer.
func NewPoppler(ppmPath, infoPath string) *Poppler {
	if ppmPath == "" {
		ppmPath = "pdftoppm"
	}
	if infoPath == "" {
		infoPath = "pdfinfo"
	}
	return &Poppler{ppmPath: ppmPath, infoPath: infoPath}
}

// Info runs pdfinfo and parses the page count and native page size.
func (p *Poppler) Info(ctx context.Context, pdfPath string) (Info, error) {
	cmd := exec.CommandContext(ctx, p.infoPath, pdfPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Info{}, eris.Wrapf(err, "raster: pdfinfo failed for %s: %s", pdfPath, stderr.String())
	}

	return parseInfo(stdout.String())
}

// RenderPage renders a single page at the given zoom. A zoom of 2.0 renders
// at 144 DPI. Failures come back as *RasterizationError.
func (p *Poppler) RenderPage(ctx context.Context, pdfPath string, page int, zoom float64) (*Page, error) {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	pageArg := strconv.Itoa(page)

	// With no output root, pdftoppm writes the single page to stdout.
	cmd := exec.CommandContext(ctx, p.ppmPath,
		"-png",
		"-r", strconv.Itoa(dpiFor(zoom)),
		"-f", pageArg,
		"-l", pageArg,
		pdfPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &RasterizationError{
			Page: page,
			Err:  eris.Wrapf(err, "pdftoppm: %s", stderr.String()),
		}
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, &RasterizationError{
			Page: page,
			Err:  eris.Wrap(err, "decode rendered png"),
		}
	}

	return &Page{
		Number:       page,
		PNG:          stdout.Bytes(),
		WidthPx:      cfg.Width,
		HeightPx:     cfg.Height,
		NativeWidth:  float64(cfg.Width) / zoom,
		NativeHeight: float64(cfg.Height) / zoom,
	}, nil
}

// dpiFor converts a zoom factor to the render DPI pdftoppm expects.
func dpiFor(zoom float64) int {
	return int(math.Round(72 * zoom))
}

// parseInfo extracts page count and page size from pdfinfo output.
func parseInfo(out string) (Info, error) {
	var info Info

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		val = strings.TrimSpace(val)

		switch strings.TrimSpace(key) {
		case "Pages":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Info{}, eris.Wrapf(err, "raster: bad page count %q", val)
			}
			info.Pages = n
		case "Page size":
			// e.g. "612 x 792 pts (letter)"
			fields := strings.Fields(val)
			if len(fields) >= 3 && fields[1] == "x" {
				info.Width, _ = strconv.ParseFloat(fields[0], 64)
				info.Height, _ = strconv.ParseFloat(fields[2], 64)
			}
		}
	}

	if info.Pages == 0 {
		return Info{}, eris.New("raster: pdfinfo output has no page count")
	}

	return info, nil
}
