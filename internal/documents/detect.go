package documents

import (
	"bytes"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

// Family classifies a file into the reader chain that handles it.
type Family string

const (
	FamilyPDF            Family = "pdf"
	FamilyWordModern     Family = "word-modern"
	FamilyWordLegacy     Family = "word-legacy"
	FamilySpreadsheet    Family = "spreadsheet"
	FamilyPresentation   Family = "presentation"
	FamilyPlainText      Family = "plain-text"
	FamilyStructuredText Family = "structured-text"
	FamilyUnknown        Family = "unknown"
)

var extensionFamilies = map[string]Family{
	".pdf":  FamilyPDF,
	".docx": FamilyWordModern,
	".doc":  FamilyWordLegacy,
	".xlsx": FamilySpreadsheet,
	".xls":  FamilySpreadsheet,
	".csv":  FamilySpreadsheet,
	".pptx": FamilyPresentation,
	".ppt":  FamilyPresentation,
	".txt":  FamilyPlainText,
	".md":   FamilyPlainText,
	".rst":  FamilyPlainText,
	".log":  FamilyPlainText,
	".json": FamilyStructuredText,
	".html": FamilyStructuredText,
	".htm":  FamilyStructuredText,
	".xml":  FamilyStructuredText,
	".epub": FamilyStructuredText,
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Detect returns the family for filename, sniffing head when the extension
// is missing or unknown. It never fails: unrecognised input is FamilyUnknown.
func Detect(filename string, head []byte) Family {
	if f, ok := extensionFamilies[Extension(filename)]; ok {
		return f
	}
	return sniff(head)
}

func sniff(head []byte) Family {
	switch {
	case len(head) == 0:
		return FamilyUnknown
	case bytes.HasPrefix(head, pdfMagic):
		return FamilyPDF
	case bytes.HasPrefix(head, oleMagic):
		return FamilyWordLegacy
	case bytes.HasPrefix(head, zipMagic):
		// OOXML part names appear in the local file headers near the start
		switch {
		case bytes.Contains(head, []byte("word/")):
			return FamilyWordModern
		case bytes.Contains(head, []byte("xl/")):
			return FamilySpreadsheet
		case bytes.Contains(head, []byte("ppt/")):
			return FamilyPresentation
		case bytes.Contains(head, []byte("epub")):
			return FamilyStructuredText
		}
		return FamilyUnknown
	case utf8.Valid(head):
		return FamilyPlainText
	}
	return FamilyUnknown
}

// Extension returns the lower-cased extension of filename including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// SupportedExtensions lists every extension with a dedicated family, sorted.
func SupportedExtensions() []string {
	return slices.Sorted(maps.Keys(extensionFamilies))
}
