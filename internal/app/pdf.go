package app

import (
	"github.com/ledongthuc/pdf"
)

// countPDFPages returns the page count of the PDF at path, or 0 when the
// file cannot be parsed. The count is a convenience field only, so parse
// failures never fail the upload.
func countPDFPages(path string) int {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()
	return reader.NumPage()
}
