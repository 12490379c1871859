// Package ingest turns uploaded files into registered, searchable documents.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/registry"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// Index is the part of the vector index gateway ingestion uses.
type Index interface {
	Index(ctx context.Context, fileID, filename string, chunks []documents.Chunk) (int, error)
	Delete(ctx context.Context, fileID string) error
	Count(ctx context.Context, fileID string) (int, error)
}

type Options struct {
	// UploadDir keeps the raw bytes of every file under its id so it can
	// be re-processed. Empty disables re-indexing.
	UploadDir string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Service coordinates processor, index and registry. Every operation on
// one file id holds that id's lock from the first registry read to the
// last registry write.
type Service struct {
	processor *documents.Processor
	index     Index
	registry  registry.Registry
	files     *vectorindex.KeyedMutex
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(p *documents.Processor, idx Index, reg registry.Registry, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		processor: p,
		index:     idx,
		registry:  reg,
		files:     vectorindex.NewKeyedMutex(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload processes and indexes data, then registers it under a new id.
// Nothing is registered unless indexing succeeded.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*registry.File, error) {
	filename = cleanName(filename)
	if err := s.processor.Validate(filename, int64(len(data))); err != nil {
		return nil, err
	}
	f := registry.File{
		ID:         uuid.NewString(),
		Filename:   filename,
		Size:       int64(len(data)),
		UploadedAt: s.now().UTC(),
		Hash:       digest(data),
	}
	unlock := s.files.Lock(f.ID)
	defer unlock()
	return s.ingest(ctx, f, data, false)
}

// Reindex re-processes a registered file from its stored bytes and swaps
// its chunks.
func (s *Service) Reindex(ctx context.Context, fileID string) (*registry.File, error) {
	unlock := s.files.Lock(fileID)
	defer unlock()

	f, err := s.registry.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if s.opts.UploadDir == "" {
		return nil, errors.New("re-indexing requires an upload directory")
	}
	data, err := os.ReadFile(s.rawPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to read stored upload: %w", err)
	}
	return s.ingest(ctx, *f, data, true)
}

// IngestPath uploads a file from disk. A registered file with the same
// name is replaced in place, or left alone when its content is unchanged
// and the index still holds all of its chunks.
func (s *Service) IngestPath(ctx context.Context, path string) (*registry.File, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read file: %w", err)
	}
	filename := cleanName(path)
	if err := s.processor.Validate(filename, int64(len(data))); err != nil {
		return nil, false, err
	}

	files, err := s.registry.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, existing := range files {
		if existing.Filename != filename {
			continue
		}
		f, changed, err := s.refresh(ctx, existing.ID, data)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		return f, changed, err
	}

	f, err := s.Upload(ctx, filename, data)
	return f, err == nil, err
}

// refresh replaces the content of a registered file with data.
func (s *Service) refresh(ctx context.Context, fileID string, data []byte) (*registry.File, bool, error) {
	unlock := s.files.Lock(fileID)
	defer unlock()

	f, err := s.registry.Get(ctx, fileID)
	if err != nil {
		return nil, false, err
	}
	hash := digest(data)
	if f.Hash == hash {
		n, err := s.index.Count(ctx, fileID)
		if err != nil {
			return nil, false, err
		}
		if n == f.ChunkCount {
			return f, false, nil
		}
		s.logger.Warn("index out of sync with registry, re-indexing",
			"file_id", fileID, "registered", f.ChunkCount, "stored", n)
	}
	f.Size = int64(len(data))
	f.Hash = hash
	f.UploadedAt = s.now().UTC()
	out, err := s.ingest(ctx, *f, data, true)
	return out, err == nil, err
}

// Delete removes a file from index, registry and upload storage. Unknown
// ids succeed.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	unlock := s.files.Lock(fileID)
	defer unlock()

	if err := s.index.Delete(ctx, fileID); err != nil {
		return err
	}
	if err := s.registry.Delete(ctx, fileID); err != nil {
		return fmt.Errorf("failed to unregister file: %w", err)
	}
	if s.opts.UploadDir != "" {
		if err := os.Remove(s.rawPath(fileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove stored upload", "file_id", fileID, "err", err)
		}
	}
	s.logger.Info("file deleted", "file_id", fileID)
	return nil
}

// DeleteByName removes every registered file called filename and returns
// how many were removed.
func (s *Service) DeleteByName(ctx context.Context, filename string) (int, error) {
	files, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if f.Filename != filename {
			continue
		}
		if err := s.Delete(ctx, f.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns every registered file, newest first.
func (s *Service) List(ctx context.Context) ([]registry.File, error) {
	return s.registry.List(ctx)
}

// ingest runs process, store, index and register for f. The caller holds
// the lock for f.ID. For a new file a failure after the index step removes
// its chunks and stored bytes again. An existing file that disappeared from
// the registry meanwhile has its fresh chunks removed instead of being
// registered again.
func (s *Service) ingest(ctx context.Context, f registry.File, data []byte, existing bool) (*registry.File, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	start := time.Now()

	res, err := s.processor.Process(ctx, data, f.Filename)
	if err != nil {
		return nil, err
	}
	f.Family = string(res.Family)

	if !existing {
		if err := s.storeRaw(f.ID, data); err != nil {
			return nil, err
		}
	}

	n, err := s.index.Index(ctx, f.ID, f.Filename, res.Chunks)
	if err != nil {
		if !existing {
			s.removeRaw(f.ID)
		}
		return nil, err
	}
	f.ChunkCount = n

	if existing {
		if err := s.registry.SetChunkCount(ctx, f.ID, n); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				if derr := s.index.Delete(context.WithoutCancel(ctx), f.ID); derr != nil {
					s.logger.Error("failed to drop chunks of unregistered file", "file_id", f.ID, "err", derr)
				}
			}
			return nil, fmt.Errorf("failed to update file: %w", err)
		}
	}
	if err := s.registry.Put(ctx, f); err != nil {
		if !existing {
			if derr := s.index.Delete(context.WithoutCancel(ctx), f.ID); derr != nil {
				s.logger.Error("failed to roll back index", "file_id", f.ID, "err", derr)
			}
			s.removeRaw(f.ID)
		}
		return nil, fmt.Errorf("failed to register file: %w", err)
	}
	if existing {
		if err := s.storeRaw(f.ID, data); err != nil {
			s.logger.Warn("stored upload not updated", "file_id", f.ID, "err", err)
		}
	}

	s.logger.Info("file ingested",
		"file_id", f.ID, "filename", f.Filename, "family", f.Family, "reader", res.Reader,
		"chunks", n, "bytes", f.Size, "duration", time.Since(start))
	return &f, nil
}

func (s *Service) rawPath(fileID string) string {
	return filepath.Join(s.opts.UploadDir, fileID)
}

func (s *Service) storeRaw(fileID string, data []byte) error {
	if s.opts.UploadDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(s.rawPath(fileID), data, 0o644); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return nil
}

func (s *Service) removeRaw(fileID string) {
	if s.opts.UploadDir == "" {
		return
	}
	if err := os.Remove(s.rawPath(fileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove stored upload", "file_id", fileID, "err", err)
	}
}

// cleanName strips directories a client may send along with the name.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" {
		return ""
	}
	return base
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsValidation reports whether err is the caller's fault.
func IsValidation(err error) bool {
	return errors.Is(err, documents.ErrEmptyFile) ||
		errors.Is(err, documents.ErrFileTooLarge) ||
		errors.Is(err, documents.ErrUnsupportedType)
}

// IsUnavailable reports whether err is an index outage worth retrying.
func IsUnavailable(err error) bool {
	return errors.Is(err, vectorindex.ErrUnavailable)
}
