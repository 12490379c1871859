package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LegacyReader shells out to an optional converter for binary Office
// formats (.doc, .xls, .ppt). Supported converters are antiword (doc only)
// and LibreOffice (soffice/libreoffice, all three).
type LegacyReader struct {
	command  string
	lookPath func(string) (string, error)
}

// NewLegacyReader creates a reader around the converter binary.
func NewLegacyReader(command string) *LegacyReader {
	if command == "" {
		command = "antiword"
	}
	return &LegacyReader{command: command, lookPath: exec.LookPath}
}

func (l *LegacyReader) Name() string { return "legacy-office" }

func (l *LegacyReader) isOffice() bool {
	base := filepath.Base(l.command)
	return base == "soffice" || base == "libreoffice"
}

func (l *LegacyReader) Parse(ctx context.Context, data []byte, filename string) ([]Block, error) {
	ext := Extension(filename)
	switch ext {
	case ".doc":
	case ".xls", ".ppt", ".docx":
		if !l.isOffice() {
			return nil, parseErr(l.Name(), filename, MissingDependency,
				fmt.Errorf("unsupported without optional component %q (LibreOffice): %s converts .doc only", "soffice", l.command))
		}
	default:
		return nil, parseErr(l.Name(), filename, ParameterMismatch, fmt.Errorf("%s cannot convert %s", l.command, ext))
	}

	bin, err := l.lookPath(l.command)
	if err != nil {
		return nil, parseErr(l.Name(), filename, MissingDependency,
			fmt.Errorf("unsupported without optional component %q: %w", l.command, err))
	}

	dir, err := os.MkdirTemp("", "docchat-legacy-*")
	if err != nil {
		return nil, parseErr(l.Name(), filename, Corrupt, err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(input, data, 0600); err != nil {
		return nil, parseErr(l.Name(), filename, Corrupt, err)
	}

	var text string
	if l.isOffice() {
		text, err = l.convertOffice(ctx, bin, dir, input, ext)
	} else {
		text, err = l.run(ctx, bin, input)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, parseErr(l.Name(), filename, Corrupt, err)
	}
	if !usableText(text) {
		return nil, parseErr(l.Name(), filename, Corrupt, errors.New("converter produced undecodable text"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, parseErr(l.Name(), filename, NoContent, nil)
	}
	return []Block{{Text: text, Position: Position{Kind: "section", Index: 1}}}, nil
}

func (l *LegacyReader) run(ctx context.Context, bin string, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func (l *LegacyReader) convertOffice(ctx context.Context, bin, dir, input, ext string) (string, error) {
	target, outExt := "txt:Text", ".txt"
	if ext == ".xls" {
		target, outExt = "csv", ".csv"
	}
	if _, err := l.run(ctx, bin, "--headless", "--convert-to", target, "--outdir", dir, input); err != nil {
		return "", err
	}
	out, err := os.ReadFile(strings.TrimSuffix(input, ext) + outExt)
	if err != nil {
		return "", fmt.Errorf("failed to read converted output: %w", err)
	}
	return string(out), nil
}
