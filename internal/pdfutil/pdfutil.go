// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdfutil wraps the PDF operations the conversion pipeline needs:
// page counting, page-range extraction for chunked API calls, and raw text
// extraction for fidelity checks.
package pdfutil

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// relaxedConf returns a pdfcpu configuration that tolerates the malformed
// cross-reference tables common in scanned and OCR-processed PDFs.
func relaxedConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, relaxedConf())
	if err != nil {
		return 0, fmt.Errorf("counting pages in %s: %w", path, err)
	}
	return n, nil
}

// ExtractPages returns a standalone PDF containing pages start through end
// (1-indexed, inclusive) of the source document.
func ExtractPages(path string, start, end int) ([]byte, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid page range %d-%d", start, end)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	sel := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.Trim(f, &buf, sel, relaxedConf()); err != nil {
		return nil, fmt.Errorf("extracting pages %d-%d from %s: %w", start, end, path, err)
	}
	return buf.Bytes(), nil
}

// PageTexts extracts the raw text of every page. The returned slice is
// 0-indexed: element i holds the text of page i+1. Pages that cannot be
// read yield an empty string rather than failing the whole document, since
// fidelity checks degrade gracefully on missing source text.
func PageTexts(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF for text extraction: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	texts := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		texts[i-1] = strings.TrimSpace(text)
	}
	return texts, nil
}
