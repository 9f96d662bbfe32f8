// Package knowledge ingests operator-uploaded documents into retrievable
// chunks: extraction, normalization, chunking and embedding.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/audit"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/provider"
	"gorm.io/gorm"
)

// Options configures a Service.
type Options struct {
	DB       *gorm.DB
	Embedder provider.Embedder
	Hub      *hub.Hub
	Config   config.KnowledgeConfig
	MinChunk int
	MaxChunk int
	Logger   *slog.Logger
}

// Service manages knowledge files and their chunks.
type Service struct {
	db       *gorm.DB
	embedder provider.Embedder
	hub      *hub.Hub
	cfg      config.KnowledgeConfig
	minChunk int
	maxChunk int
	logger   *slog.Logger
}

// NewService validates opts and prepares the storage directory.
func NewService(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("knowledge: db is required")
	}
	if opts.Config.FilesDir == "" {
		return nil, fmt.Errorf("knowledge: files dir is required")
	}
	if err := os.MkdirAll(opts.Config.FilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("knowledge: create files dir: %w", err)
	}
	if opts.Embedder == nil {
		opts.Embedder = provider.LocalEmbedder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		db:       opts.DB,
		embedder: opts.Embedder,
		hub:      opts.Hub,
		cfg:      opts.Config,
		minChunk: opts.MinChunk,
		maxChunk: opts.MaxChunk,
		logger:   opts.Logger,
	}, nil
}

// StorageUsed returns the total size of all stored files in bytes.
func (s *Service) StorageUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.KnowledgeFile{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("knowledge: storage used: %w", err)
	}
	return total, nil
}

// Upload validates, stores and indexes a new file. On any failure after the
// bytes are written, the record is rolled back and the bytes removed.
func (s *Service) Upload(ctx context.Context, actor *models.Admin, filename, contentType string, data []byte) (*models.KnowledgeFile, error) {
	size := int64(len(data))
	if size == 0 {
		return nil, models.Invalid("file is empty")
	}
	if perFile := s.cfg.MaxFileSizeBytes(); perFile > 0 && size > perFile {
		return nil, models.Invalid(fmt.Sprintf("file exceeds %d MB", s.cfg.MaxFileSizeMB))
	}
	used, err := s.StorageUsed(ctx)
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.TotalStorageBytes(); limit > 0 && used+size > limit {
		return nil, models.Invalid(fmt.Sprintf("knowledge base would exceed %d MB", s.cfg.TotalStorageMB))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !Allowed(ext) {
		return nil, models.Invalid(fmt.Sprintf("unsupported file type %q", ext))
	}

	storedPath := filepath.Join(s.cfg.FilesDir, uuid.NewString()+ext)
	if err := os.WriteFile(storedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("knowledge: write %s: %w", storedPath, err)
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = filepath.Base(storedPath)
	}
	file := &models.KnowledgeFile{
		FilenameOriginal: name,
		StoredPath:       storedPath,
		MimeType:         contentType,
		SizeBytes:        size,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			return fmt.Errorf("knowledge: create file: %w", err)
		}
		raw, err := Extract(ext, data)
		if err != nil {
			return models.Invalid(fmt.Sprintf("could not read file: %v", err))
		}
		text := Normalize(raw)
		if text == "" {
			return models.Invalid("file contains no text")
		}
		pieces := Split(text, s.minChunk, s.maxChunk)
		if len(pieces) == 0 {
			return models.Invalid("file produced no chunks")
		}
		for i, piece := range pieces {
			chunk := models.KnowledgeChunk{FileID: file.ID, ChunkIndex: i, Text: piece}
			vec, err := s.embedder.Embed(ctx, piece)
			if err != nil {
				s.logger.Warn("knowledge: embed chunk", "file_id", file.ID, "chunk", i, "error", err)
				vec = nil
			}
			if err := chunk.SetEmbedding(vec); err != nil {
				return fmt.Errorf("knowledge: encode embedding: %w", err)
			}
			if err := tx.Create(&chunk).Error; err != nil {
				return fmt.Errorf("knowledge: create chunk %d: %w", i, err)
			}
		}
		file.TotalChunks = len(pieces)
		if err := tx.Model(file).Update("total_chunks", file.TotalChunks).Error; err != nil {
			return fmt.Errorf("knowledge: update chunk count: %w", err)
		}
		return audit.Log(tx, audit.Actor(actor), models.ActionUploadKnowledgeFile, audit.Params{
			"file_id":  file.ID,
			"filename": file.FilenameOriginal,
			"chunks":   file.TotalChunks,
		})
	})
	if err != nil {
		if rmErr := os.Remove(storedPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("knowledge: remove stored file", "path", storedPath, "error", rmErr)
		}
		return nil, err
	}

	s.logger.Info("knowledge: file uploaded", "file_id", file.ID, "filename", file.FilenameOriginal, "chunks", file.TotalChunks)
	s.hub.Publish(hub.ChannelSystem, hub.KnowledgeFileUploaded(file))
	return file, nil
}

// List returns all files, newest first.
func (s *Service) List(ctx context.Context) ([]models.KnowledgeFile, error) {
	var files []models.KnowledgeFile
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("knowledge: list: %w", err)
	}
	return files, nil
}

// Get returns the file record with the given id.
func (s *Service) Get(ctx context.Context, id uint) (*models.KnowledgeFile, error) {
	var file models.KnowledgeFile
	err := s.db.WithContext(ctx).First(&file, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("knowledge: file %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: get file %d: %w", id, err)
	}
	return &file, nil
}

// Open returns the file record and the path of its stored bytes. A record
// whose bytes are gone is reported as not found.
func (s *Service) Open(ctx context.Context, id uint) (*models.KnowledgeFile, string, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(file.StoredPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("knowledge: file %d bytes missing: %w", id, models.ErrNotFound)
		}
		return nil, "", fmt.Errorf("knowledge: stat %s: %w", file.StoredPath, err)
	}
	return file, file.StoredPath, nil
}

// Delete removes a file, its chunks and its stored bytes.
func (s *Service) Delete(ctx context.Context, actor *models.Admin, id uint) error {
	var file models.KnowledgeFile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&file, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("knowledge: file %d: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("knowledge: get file %d: %w", id, err)
		}
		if err := tx.Where("file_id = ?", file.ID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return fmt.Errorf("knowledge: delete chunks: %w", err)
		}
		if err := tx.Delete(&file).Error; err != nil {
			return fmt.Errorf("knowledge: delete file: %w", err)
		}
		return audit.Log(tx, audit.Actor(actor), models.ActionDeleteKnowledgeFile, audit.Params{
			"file_id":  file.ID,
			"filename": file.FilenameOriginal,
		})
	})
	if err != nil {
		return err
	}

	if err := os.Remove(file.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("knowledge: remove stored file", "path", file.StoredPath, "error", err)
	}
	s.logger.Info("knowledge: file deleted", "file_id", file.ID)
	s.hub.Publish(hub.ChannelSystem, hub.KnowledgeFileDeleted(&file))
	return nil
}
