package extract

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFText pulls the embedded text layer out of a PDF payload. PDFs skip the
// recognition collaborator entirely; scanned PDFs without a text layer come
// back empty rather than failing.
func PDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
