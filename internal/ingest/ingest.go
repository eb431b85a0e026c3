// Package ingest normalizes input documents into plain text ready for
// extraction. HTML reports are flattened with scripts and styles removed;
// everything else passes through with whitespace normalization.
package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText flattens an HTML document to whitespace-normalized visible
// text. Script, style, and noscript subtrees are dropped.
func HTMLToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return normalize(text), nil
}

// Text reads a whole document and returns its plain text. The filename's
// extension selects HTML handling; unknown extensions are sniffed for an
// HTML document marker.
func Text(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	if isHTML(filename, data) {
		return HTMLToText(strings.NewReader(string(data)))
	}
	return normalize(string(data)), nil
}

func isHTML(filename string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm", ".xhtml":
		return true
	case ".txt", ".md", ".text":
		return false
	}

	head := strings.ToLower(string(data[:min(len(data), 512)]))
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

// normalize collapses all whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
