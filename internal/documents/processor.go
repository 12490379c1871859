package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// blockSeparator joins consecutive blocks in the document text.
const blockSeparator = "\n\n"

// Chunk is one indexed span of a processed document.
type Chunk struct {
	Index    int
	Text     string
	Start    int
	End      int
	Filename string
	Family   Family
	Position Position
}

// Result is the outcome of processing one document.
type Result struct {
	Filename string
	Family   Family
	Reader   string
	Text     string
	Chunks   []Chunk
}

// Options configures a Processor.
type Options struct {
	ChunkSize         int
	ChunkOverlap      int
	MaxFileSize       int64
	AllowedExtensions []string
	LegacyConverter   string
	Timeout           time.Duration
	Logger            *slog.Logger
}

// Processor turns uploaded bytes into chunks
type Processor struct {
	chains  map[Family][]Reader
	chunker *Chunker
	maxSize int64
	allowed map[string]bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewProcessor creates a new document processor
func NewProcessor(opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	text := NewTextReader()
	legacy := NewLegacyReader(opts.LegacyConverter)

	p := &Processor{
		chains: map[Family][]Reader{
			FamilyPDF:          {NewFitzPDFReader(logger), NewPlainPDFReader(logger)},
			FamilyWordModern:   {NewDocxReader(), legacy},
			FamilyWordLegacy:   {legacy},
			FamilySpreadsheet:  {NewXlsxReader(logger), NewCSVReader(text), legacy},
			FamilyPresentation: {NewPptxReader(logger), legacy},
			FamilyPlainText:    {text},
			FamilyStructuredText: {
				NewFitzEPUBReader(logger), NewZipEPUBReader(), NewMarkupReader(text), text,
			},
			FamilyUnknown: {text},
		},
		chunker: NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		maxSize: opts.MaxFileSize,
		timeout: opts.Timeout,
		logger:  logger,
	}
	if len(opts.AllowedExtensions) > 0 {
		p.allowed = make(map[string]bool, len(opts.AllowedExtensions))
		for _, ext := range opts.AllowedExtensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			p.allowed[ext] = true
		}
	}
	return p
}

// SetChain replaces the reader chain for a family.
func (p *Processor) SetChain(f Family, readers ...Reader) {
	p.chains[f] = readers
}

// Validate checks name and size before any bytes are parsed.
func (p *Processor) Validate(filename string, size int64) error {
	if size == 0 {
		return fmt.Errorf("%s: %w", filename, ErrEmptyFile)
	}
	if p.maxSize > 0 && size > p.maxSize {
		return fmt.Errorf("%s is %d bytes, limit %d: %w", filename, size, p.maxSize, ErrFileTooLarge)
	}
	if p.allowed != nil && !p.allowed[Extension(filename)] {
		return fmt.Errorf("%s: %w", filename, ErrUnsupportedType)
	}
	return nil
}

// ProcessFile reads path from disk and processes it under its base name.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Process(ctx, data, filepath.Base(path))
}

// Process parses data with its family's reader chain and chunks the text.
func (p *Processor) Process(ctx context.Context, data []byte, filename string) (*Result, error) {
	if err := p.Validate(filename, int64(len(data))); err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	head := data[:min(len(data), 512)]
	family := Detect(filename, head)

	blocks, reader, err := p.parse(ctx, family, data, filename)
	if err != nil {
		return nil, &ProcessingError{Filename: filename, Cause: err}
	}

	text, spans := joinBlocks(blocks)
	if text == "" {
		return nil, &ProcessingError{Filename: filename, Cause: errors.New("no extractable content")}
	}

	windows := p.chunker.Split(text)
	runes := []rune(text)
	chunks := make([]Chunk, 0, len(windows))
	for i, s := range windows {
		chunks = append(chunks, Chunk{
			Index:    i,
			Text:     string(runes[s.Start:s.End]),
			Start:    s.Start,
			End:      s.End,
			Filename: filename,
			Family:   family,
			Position: blocks[blockAt(spans, s.Start)].Position,
		})
	}

	p.logger.Info("document processed",
		"file", filename, "family", family, "reader", reader,
		"blocks", len(blocks), "runes", len(runes), "chunks", len(chunks))

	return &Result{Filename: filename, Family: family, Reader: reader, Text: text, Chunks: chunks}, nil
}

// parse walks the chain for family. Only parameter mismatches and missing
// optional components move on to the next reader.
func (p *Processor) parse(ctx context.Context, family Family, data []byte, filename string) ([]Block, string, error) {
	chain := p.chains[family]
	if len(chain) == 0 {
		return nil, "", fmt.Errorf("no reader for %s: %w", family, ErrUnsupportedType)
	}

	var errs []error
	for _, r := range chain {
		blocks, err := r.Parse(ctx, data, filename)
		if err == nil {
			return blocks, r.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", filename, ctx.Err())
		}
		errs = append(errs, err)

		var pe *ParseError
		if !errors.As(err, &pe) || !pe.Retryable() {
			break
		}
		p.logger.Debug("reader declined, trying next", "file", filename, "reader", r.Name(), "reason", pe.Kind)
	}
	return nil, "", errors.Join(errs...)
}

// blockSpan is the rune range a kept block occupies in the joined text.
type blockSpan struct {
	block      int
	start, end int
}

// joinBlocks normalizes each block and joins the non-empty ones.
func joinBlocks(blocks []Block) (string, []blockSpan) {
	var b strings.Builder
	var spans []blockSpan
	pos := 0
	for i := range blocks {
		blocks[i].Text = Normalize(blocks[i].Text)
		if blocks[i].Text == "" {
			continue
		}
		if len(spans) > 0 {
			b.WriteString(blockSeparator)
			pos += len(blockSeparator)
		}
		n := len([]rune(blocks[i].Text))
		spans = append(spans, blockSpan{block: i, start: pos, end: pos + n})
		b.WriteString(blocks[i].Text)
		pos += n
	}
	return b.String(), spans
}

// blockAt returns the first block ending after off. An offset inside a
// separator belongs to the block that follows it.
func blockAt(spans []blockSpan, off int) int {
	for _, s := range spans {
		if s.end > off {
			return s.block
		}
	}
	return spans[len(spans)-1].block
}
