// Package decode dispatches raw document bytes to a format decoder that
// produces plain text (ingestion stage 1), grounded on the teacher's
// internal/tools/web.Fetcher content-type switch (html-to-markdown for
// HTML, fenced passthrough for other text formats), adapted from an
// HTTP-response dispatch to a filename/content-type dispatch over
// uploaded document bytes. PDF and DOCX are listed as supported inputs
// by the system overview but no parser dependency was wired for them
// (see DESIGN.md); decoding those extensions returns a clear
// unsupported-format error rather than silently mis-parsing binary data.
package decode

import (
	"encoding/csv"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"graphmemory/internal/apperr"
)

// Decode converts raw document bytes to plain text, dispatching by filename
// extension first and falling back to sniffed content-type.
func Decode(filename string, raw []byte, contentType string) (string, error) {
	format := formatOf(filename, contentType)
	switch format {
	case "markdown", "text":
		return decodeText(raw)
	case "html":
		return decodeHTML(raw)
	case "csv":
		return decodeCSV(raw)
	default:
		return "", apperr.InvalidArgumentf("unsupported document format %q for %s", format, filename)
	}
}

func formatOf(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return "markdown"
	case ".txt":
		return "text"
	case ".html", ".htm":
		return "html"
	case ".csv":
		return "csv"
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "markdown"):
		return "markdown"
	case strings.Contains(ct, "html"):
		return "html"
	case strings.Contains(ct, "csv"):
		return "csv"
	case strings.Contains(ct, "pdf"):
		return "pdf"
	case strings.HasPrefix(ct, "text/"):
		return "text"
	default:
		return "unknown"
	}
}

func decodeText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", apperr.InvalidArgumentf("document is not valid UTF-8 text")
	}
	return string(raw), nil
}

func decodeHTML(raw []byte) (string, error) {
	md, err := htmltomarkdown.ConvertString(string(raw))
	if err != nil {
		return "", apperr.InvalidArgumentf("html decode failed: %v", err)
	}
	return strings.TrimSpace(md), nil
}

// decodeCSV renders rows as a Markdown table so the chunker's heading/
// section detection and the extractor's LLM prompt both see structured,
// readable text rather than a raw delimited blob.
func decodeCSV(raw []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", apperr.InvalidArgumentf("csv decode failed: %v", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	var sb strings.Builder
	header := records[0]
	writeRow(&sb, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&sb, sep)
	for _, row := range records[1:] {
		writeRow(&sb, row)
	}
	return strings.TrimSpace(sb.String()), nil
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(strings.ReplaceAll(c, "|", "\\|"))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}
