package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// Position locates a block inside its source document.
type Position struct {
	Kind  string `json:"kind,omitempty"` // page, slide, sheet, row, section
	Index int    `json:"index,omitempty"`
	Label string `json:"label,omitempty"`
}

// Block is one unit of extracted text (a page, slide, sheet...).
type Block struct {
	Text     string
	Position Position
}

// Reader parses raw bytes of one document family into text blocks.
type Reader interface {
	Name() string
	Parse(ctx context.Context, data []byte, filename string) ([]Block, error)
}

// usableText rejects decoder output that would index as mojibake.
func usableText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, utf8.RuneError)
}

// FitzPDFReader extracts text page by page with MuPDF.
type FitzPDFReader struct {
	logger *slog.Logger
}

// NewFitzPDFReader creates a new PDF reader
func NewFitzPDFReader(logger *slog.Logger) *FitzPDFReader {
	return &FitzPDFReader{logger: logger}
}

func (p *FitzPDFReader) Name() string { return "fitz-pdf" }

// Parse extracts text from each page of a PDF
func (p *FitzPDFReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, parseErr(p.Name(), filename, ParameterMismatch, fmt.Errorf("not a PDF stream"))
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, parseErr(p.Name(), filename, ParameterMismatch, fmt.Errorf("failed to open PDF: %w", err))
	}
	defer doc.Close()

	return collectPages(ctx, p.logger, p.Name(), filename, doc.NumPage(), "page", doc.Text)
}

// PlainPDFReader is the pure-Go PDF reader tried when MuPDF refuses the input.
type PlainPDFReader struct {
	logger *slog.Logger
}

func NewPlainPDFReader(logger *slog.Logger) *PlainPDFReader {
	return &PlainPDFReader{logger: logger}
}

func (p *PlainPDFReader) Name() string { return "plain-pdf" }

func (p *PlainPDFReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, parseErr(p.Name(), filename, Corrupt, fmt.Errorf("failed to open PDF: %w", err))
	}
	// ledongthuc/pdf pages are 1-based
	pageText := func(i int) (string, error) {
		pg := rdr.Page(i + 1)
		if pg.V.IsNull() {
			return "", fmt.Errorf("page %d missing", i+1)
		}
		return pg.GetPlainText(nil)
	}
	return collectPages(ctx, p.logger, p.Name(), filename, rdr.NumPage(), "page", pageText)
}

// collectPages reads n units through text, skipping units that fail or
// decode to replacement characters. Zero usable units is a parse error.
func collectPages(ctx context.Context, logger *slog.Logger, reader, filename string, n int, kind string, text func(int) (string, error)) ([]Block, error) {
	var blocks []Block
	var bad int
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := text(i)
		if err != nil {
			bad++
			logger.Warn("skipping unreadable unit", "reader", reader, "file", filename, kind, i+1, "err", err)
			continue
		}
		if !usableText(t) {
			bad++
			logger.Warn("skipping unit with undecodable text", "reader", reader, "file", filename, kind, i+1)
			continue
		}
		if strings.TrimSpace(t) == "" {
			continue
		}
		blocks = append(blocks, Block{Text: t, Position: Position{Kind: kind, Index: i + 1}})
	}
	if len(blocks) == 0 {
		if bad > 0 {
			return nil, parseErr(reader, filename, Corrupt, fmt.Errorf("%d of %d %ss unreadable", bad, n, kind))
		}
		return nil, parseErr(reader, filename, NoContent, nil)
	}
	return blocks, nil
}

// FitzEPUBReader parses EPUB files using go-fitz (which supports EPUB)
type FitzEPUBReader struct {
	logger *slog.Logger
}

// NewFitzEPUBReader creates a new EPUB reader
func NewFitzEPUBReader(logger *slog.Logger) *FitzEPUBReader {
	return &FitzEPUBReader{logger: logger}
}

func (p *FitzEPUBReader) Name() string { return "fitz-epub" }

// Parse extracts text from an EPUB file using go-fitz
func (p *FitzEPUBReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	if Extension(filename) != ".epub" {
		return nil, parseErr(p.Name(), filename, ParameterMismatch, nil)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, parseErr(p.Name(), filename, ParameterMismatch, fmt.Errorf("failed to open EPUB: %w", err))
	}
	defer doc.Close()

	return collectPages(ctx, p.logger, p.Name(), filename, doc.NumPage(), "page", doc.Text)
}

// extractTextFromHTML performs basic HTML tag removal
func extractTextFromHTML(html string) string {
	var result strings.Builder
	inTag := false
	for _, r := range html {
		if r == '<' {
			inTag = true
			continue
		}
		if r == '>' {
			inTag = false
			result.WriteRune(' ')
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}
	return collapseSpaces(result.String())
}

// collapseSpaces squeezes horizontal whitespace runs and drops blank lines
// left behind by removed markup.
func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ZipEPUBReader reads XHTML spine files straight from the EPUB archive.
type ZipEPUBReader struct{}

func NewZipEPUBReader() *ZipEPUBReader { return &ZipEPUBReader{} }

func (p *ZipEPUBReader) Name() string { return "zip-epub" }

// Parse extracts text from an EPUB file using zip
func (p *ZipEPUBReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	if Extension(filename) != ".epub" {
		return nil, parseErr(p.Name(), filename, ParameterMismatch, nil)
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, parseErr(p.Name(), filename, Corrupt, fmt.Errorf("failed to open EPUB as zip: %w", err))
	}

	var names []string
	files := make(map[string]*zip.File)
	for _, f := range r.File {
		ext := path.Ext(f.Name)
		if ext == ".html" || ext == ".xhtml" || ext == ".htm" {
			names = append(names, f.Name)
			files[f.Name] = f
		}
	}
	sort.Strings(names)

	var blocks []Block
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		html, err := readZipFile(files[name])
		if err != nil {
			continue
		}
		text := extractTextFromHTML(string(html))
		if strings.TrimSpace(text) != "" {
			blocks = append(blocks, Block{Text: text, Position: Position{Kind: "section", Index: i + 1, Label: name}})
		}
	}
	if len(blocks) == 0 {
		return nil, parseErr(p.Name(), filename, NoContent, nil)
	}
	return blocks, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// MarkupReader strips tags from HTML and XML after decoding the bytes.
type MarkupReader struct {
	text *TextReader
}

func NewMarkupReader(text *TextReader) *MarkupReader {
	return &MarkupReader{text: text}
}

func (m *MarkupReader) Name() string { return "markup" }

func (m *MarkupReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	switch Extension(filename) {
	case ".html", ".htm", ".xml", ".xhtml":
	default:
		return nil, parseErr(m.Name(), filename, ParameterMismatch, nil)
	}
	decoded, _, err := m.text.Decode(data)
	if err != nil {
		return nil, parseErr(m.Name(), filename, Corrupt, err)
	}
	text := extractTextFromHTML(decoded)
	if strings.TrimSpace(text) == "" {
		return nil, parseErr(m.Name(), filename, NoContent, nil)
	}
	return []Block{{Text: text, Position: Position{Kind: "section", Index: 1}}}, nil
}
