package documents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type textEncoding struct {
	name string
	enc  encoding.Encoding // nil means UTF-8
}

// decodeOrder is tried front to back; Latin-1 maps every byte and ends the chain.
var decodeOrder = []textEncoding{
	{name: "utf-8"},
	{name: "gbk", enc: simplifiedchinese.GBK},
	{name: "big5", enc: traditionalchinese.Big5},
	{name: "latin-1", enc: charmap.ISO8859_1},
}

// TextReader decodes plain text in the first encoding that round-trips.
type TextReader struct{}

func NewTextReader() *TextReader { return &TextReader{} }

func (t *TextReader) Name() string { return "text" }

func (t *TextReader) Parse(_ context.Context, data []byte, filename string) ([]Block, error) {
	text, _, err := t.Decode(data)
	if err != nil {
		return nil, parseErr(t.Name(), filename, Corrupt, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, parseErr(t.Name(), filename, NoContent, nil)
	}
	return []Block{{Text: text}}, nil
}

// Decode returns data as UTF-8 together with the encoding that produced it.
func (t *TextReader) Decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	for _, e := range decodeOrder {
		if e.enc == nil {
			if utf8.Valid(data) {
				return string(data), e.name, nil
			}
			continue
		}
		if s, ok := roundTrip(e.enc, data); ok {
			return s, e.name, nil
		}
	}
	return "", "", fmt.Errorf("no encoding in %d candidates decoded the input", len(decodeOrder))
}

func roundTrip(enc encoding.Encoding, data []byte) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	encoded, err := enc.NewEncoder().Bytes(decoded)
	if err != nil || !bytes.Equal(encoded, data) {
		return "", false
	}
	return string(decoded), true
}
