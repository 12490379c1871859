package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// csvRowsPerBlock keeps each CSV block near one chunk in size.
const csvRowsPerBlock = 50

// openOOXML opens an Office Open XML package. Binary OLE input is a shape
// mismatch so the legacy converter gets a turn.
func openOOXML(reader, filename string, data []byte) (*zip.Reader, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return nil, parseErr(reader, filename, ParameterMismatch, errors.New("legacy binary office format"))
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, parseErr(reader, filename, Corrupt, fmt.Errorf("failed to open package: %w", err))
	}
	return zr, nil
}

// ooxmlText flattens WordprocessingML or DrawingML into paragraphs.
// Text runs are the "t" elements; "p" closes a paragraph.
func ooxmlText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out  strings.Builder
		para strings.Builder
		inT  bool
	)
	flush := func() {
		if s := strings.TrimSpace(para.String()); s != "" {
			if out.Len() > 0 {
				out.WriteString("\n\n")
			}
			out.WriteString(s)
		}
		para.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inT {
				para.Write(el)
			}
		}
	}
	flush()
	return out.String(), nil
}

// DocxReader handles Office Open XML word-processing documents.
type DocxReader struct{}

func NewDocxReader() *DocxReader { return &DocxReader{} }

func (d *DocxReader) Name() string { return "docx" }

func (d *DocxReader) Parse(_ context.Context, data []byte, filename string) ([]Block, error) {
	zr, err := openOOXML(d.Name(), filename, data)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, parseErr(d.Name(), filename, Corrupt, err)
		}
		text, err := ooxmlText(rc)
		rc.Close()
		if err != nil {
			return nil, parseErr(d.Name(), filename, Corrupt, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, parseErr(d.Name(), filename, NoContent, nil)
		}
		return []Block{{Text: text, Position: Position{Kind: "section", Index: 1}}}, nil
	}
	return nil, parseErr(d.Name(), filename, Corrupt, errors.New("word/document.xml not found"))
}

// PptxReader handles Office Open XML presentations, one block per slide.
type PptxReader struct {
	logger *slog.Logger
}

func NewPptxReader(logger *slog.Logger) *PptxReader { return &PptxReader{logger: logger} }

func (p *PptxReader) Name() string { return "pptx" }

func (p *PptxReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	zr, err := openOOXML(p.Name(), filename, data)
	if err != nil {
		return nil, err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "ppt/slides/slide")
		if name == f.Name || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, f: f})
	}
	if len(slides) == 0 {
		return nil, parseErr(p.Name(), filename, Corrupt, errors.New("no slides found"))
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	return collectPages(ctx, p.logger, p.Name(), filename, len(slides), "slide", func(i int) (string, error) {
		rc, err := slides[i].f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return ooxmlText(rc)
	})
}

// XlsxReader flattens every sheet into "cell | cell" lines.
type XlsxReader struct {
	logger *slog.Logger
}

func NewXlsxReader(logger *slog.Logger) *XlsxReader { return &XlsxReader{logger: logger} }

func (x *XlsxReader) Name() string { return "xlsx" }

func (x *XlsxReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	if Extension(filename) != ".xlsx" {
		return nil, parseErr(x.Name(), filename, ParameterMismatch, nil)
	}
	if _, err := openOOXML(x.Name(), filename, data); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, parseErr(x.Name(), filename, Corrupt, fmt.Errorf("failed to open workbook: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	blocks, err := collectPages(ctx, x.logger, x.Name(), filename, len(sheets), "sheet", func(i int) (string, error) {
		rows, err := f.GetRows(sheets[i])
		if err != nil {
			return "", err
		}
		return renderRows(rows), nil
	})
	if err != nil {
		return nil, err
	}
	for i := range blocks {
		blocks[i].Position.Label = sheets[blocks[i].Position.Index-1]
	}
	return blocks, nil
}

func renderRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimSpace(strings.Join(row, " | "))
		if strings.Trim(line, "| ") == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// CSVReader renders comma separated values in row groups.
type CSVReader struct {
	text *TextReader
}

func NewCSVReader(text *TextReader) *CSVReader { return &CSVReader{text: text} }

func (c *CSVReader) Name() string { return "csv" }

func (c *CSVReader) Parse(_ context.Context, data []byte, filename string) ([]Block, error) {
	if Extension(filename) != ".csv" {
		return nil, parseErr(c.Name(), filename, ParameterMismatch, nil)
	}
	decoded, _, err := c.text.Decode(data)
	if err != nil {
		return nil, parseErr(c.Name(), filename, Corrupt, err)
	}
	r := csv.NewReader(strings.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, parseErr(c.Name(), filename, Corrupt, err)
	}

	var blocks []Block
	for start := 0; start < len(rows); start += csvRowsPerBlock {
		end := min(start+csvRowsPerBlock, len(rows))
		text := renderRows(rows[start:end])
		if text == "" {
			continue
		}
		blocks = append(blocks, Block{Text: text, Position: Position{Kind: "row", Index: start + 1}})
	}
	if len(blocks) == 0 {
		return nil, parseErr(c.Name(), filename, NoContent, nil)
	}
	return blocks, nil
}
