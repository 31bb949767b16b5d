// Package services contains the upload pipeline that stitches validation,
// security screening, media transforms, encryption, storage, and versioning
// into ordered stages with fixed failure semantics: policy violations come
// back as structured results, backend and crypto failures as errors, and
// transform problems as warnings that never abort a run.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"file-service/internal/config"
	"file-service/internal/media"
	"file-service/internal/models"
	"file-service/internal/security"
	"file-service/internal/storage"
	"file-service/internal/utils"
	"file-service/internal/versioning"

	"github.com/google/uuid"
)

// UploadRequest is the parsed form of one uploaded file. It lives only for
// the duration of a single pipeline run.
type UploadRequest struct {
	Data     []byte
	Filename string
	MimeType string
	Size     int64
}

// UploadOptions carries the business context attached to an upload.
type UploadOptions struct {
	UploadedBy  string
	CompanyID   string
	QuotationID string
	Tags        []string
	Metadata    map[string]string
	IsPublic    bool
	ExpiresAt   *time.Time
}

// ValidationResult lists every policy rule the upload violated, so the
// caller can render per-rule feedback in one round trip.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// UploadResult is the outcome of one pipeline run. Exactly one of the
// failure payloads is populated when Success is false: Validation for policy
// violations, Security for screening failures, Error for hard faults
// captured during batch processing.
type UploadResult struct {
	Success    bool               `json:"success"`
	File       *models.FileRecord `json:"file,omitempty"`
	Validation *ValidationResult  `json:"validation,omitempty"`
	Security   *security.Report   `json:"security,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// FileService runs the ingestion pipeline against a storage backend.
type FileService struct {
	cfg      *config.Config
	backend  storage.Backend
	versions *versioning.Manager
}

// NewFileService creates a new file service instance
func NewFileService(cfg *config.Config, backend storage.Backend, versions *versioning.Manager) *FileService {
	return &FileService{
		cfg:      cfg,
		backend:  backend,
		versions: versions,
	}
}

// Versions exposes the version manager for version-specific operations.
func (s *FileService) Versions() *versioning.Manager {
	return s.versions
}

// Validate checks the upload against the configured size, mime, extension and
// basic content policy. All rules are evaluated; nothing short-circuits.
func (s *FileService) Validate(req *UploadRequest) *ValidationResult {
	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	if len(req.Data) == 0 {
		result.Errors = append(result.Errors, "file is empty")
	}

	if int64(len(req.Data)) > s.cfg.MaxFileSizeBytes {
		result.Errors = append(result.Errors,
			fmt.Sprintf("file size %s exceeds maximum allowed size of %s",
				utils.FormatFileSize(int64(len(req.Data))), utils.FormatFileSize(s.cfg.MaxFileSizeBytes)))
	}
	if req.Size > 0 && req.Size != int64(len(req.Data)) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("declared size %d differs from actual size %d", req.Size, len(req.Data)))
	}

	if len(s.cfg.Validation.AllowedMimeTypes) > 0 &&
		!utils.IsValidMimeType(req.MimeType, s.cfg.Validation.AllowedMimeTypes) {
		result.Errors = append(result.Errors, fmt.Sprintf("mime type %s is not allowed", req.MimeType))
	}

	ext := utils.GetFileExtension(req.Filename)
	if ext == "" {
		result.Errors = append(result.Errors, "file must have an extension")
	}
	for _, blocked := range s.cfg.Validation.BlockedExtensions {
		if ext == normalizeExt(blocked) {
			result.Errors = append(result.Errors, fmt.Sprintf("file type .%s is not allowed", ext))
			break
		}
	}
	if len(s.cfg.Validation.AllowedExtensions) > 0 {
		allowed := false
		for _, a := range s.cfg.Validation.AllowedExtensions {
			if ext == normalizeExt(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			result.Errors = append(result.Errors, fmt.Sprintf("file type .%s is not allowed", ext))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// Upload runs the full ingestion pipeline over one file. Policy and
// screening failures are reported through the returned UploadResult with a
// nil error; storage and encryption failures abort with an error and nothing
// referenced by a record is persisted.
func (s *FileService) Upload(ctx context.Context, req *UploadRequest, opts *UploadOptions) (*UploadResult, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}
	result := &UploadResult{}

	// Stage 1: policy validation
	validation := s.Validate(req)
	result.Validation = validation
	result.Warnings = append(result.Warnings, validation.Warnings...)
	if !validation.IsValid {
		return result, nil
	}

	// Stage 2: security screening
	report := security.ScreenFile(req.Data, req.MimeType, req.Filename, s.scanPolicy())
	result.Security = report
	result.Warnings = append(result.Warnings, report.Warnings...)
	if !report.Passed {
		return result, nil
	}

	// Stage 3: identity and canonical path
	fileID := uuid.New().String()
	now := time.Now().UTC()
	dotExt := ""
	if ext := utils.GetFileExtension(req.Filename); ext != "" {
		dotExt = "." + ext
	}
	objectPath := storage.ObjectPath(fileID, dotExt, opts.CompanyID, now)

	original := req.Data
	data := req.Data
	isImage := utils.IsImageMimeType(req.MimeType)

	// Stage 4: compression (best-effort)
	if isImage && s.cfg.Processing.CompressImages {
		outcome := media.Compress(data, req.MimeType, media.CompressOptions{
			Quality:   s.cfg.Processing.CompressionQuality,
			MaxWidth:  s.cfg.Processing.MaxWidth,
			MaxHeight: s.cfg.Processing.MaxHeight,
		})
		if outcome.Warning != "" {
			result.Warnings = append(result.Warnings, outcome.Warning)
		}
		data = outcome.Data
	}

	// Stage 5: watermark (best-effort)
	if isImage && s.cfg.Processing.Watermark {
		outcome := media.Watermark(data, req.MimeType, s.cfg.Processing.WatermarkText)
		if outcome.Warning != "" {
			result.Warnings = append(result.Warnings, outcome.Warning)
		}
		data = outcome.Data
	}

	// Stage 6: encryption (hard failure)
	encrypted := false
	if s.cfg.Security.Encryption {
		ciphertext, err := security.Encrypt(data, s.cfg.Security.EncryptionKey, s.cfg.Security.EncryptionAlgorithm)
		if err != nil {
			return nil, err
		}
		data = ciphertext
		encrypted = true
	}

	// Stage 7: persist the blob (hard failure)
	put, err := s.backend.Put(ctx, objectPath, data, req.MimeType, map[string]string{
		"original-name": req.Filename,
		"uploaded-by":   opts.UploadedBy,
	})
	if err != nil {
		return nil, err
	}

	// Stage 8: thumbnail from the pre-compression bytes (best-effort)
	thumbnailPath := ""
	if isImage && s.cfg.Processing.GenerateThumbnails {
		thumbnailPath = s.storeThumbnail(ctx, objectPath, original, req.MimeType, result)
	}

	// Stage 9: assemble the record
	sum := sha256.Sum256(data)
	record := &models.FileRecord{
		ID:            fileID,
		Filename:      fileID + dotExt,
		OriginalName:  req.Filename,
		MimeType:      req.MimeType,
		Size:          int64(len(data)),
		StoragePath:   put.Path,
		URL:           put.URL,
		Checksum:      hex.EncodeToString(sum[:]),
		Encrypted:     encrypted,
		ThumbnailPath: thumbnailPath,
		UploadedBy:    opts.UploadedBy,
		UploadedAt:    now,
		CompanyID:     opts.CompanyID,
		QuotationID:   opts.QuotationID,
		Tags:          opts.Tags,
		Metadata:      opts.Metadata,
		IsPublic:      opts.IsPublic,
		ExpiresAt:     opts.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Stage 10: persist the metadata sidecar (hard failure; a fault here
	// leaves an orphaned blob for the external cleanup sweep)
	sidecar, err := record.EncodeSidecar()
	if err != nil {
		return nil, fmt.Errorf("encode record sidecar: %w", err)
	}
	if _, err := s.backend.Put(ctx, storage.MetadataPath(fileID), sidecar, "application/json", nil); err != nil {
		return nil, err
	}

	result.Success = true
	result.File = record
	return result, nil
}

// UploadMultiple processes files strictly in order and returns one result
// per input. Failures are independent: a hard fault on one file is captured
// in its slot and the remaining files still run.
func (s *FileService) UploadMultiple(ctx context.Context, reqs []*UploadRequest, opts *UploadOptions) []*UploadResult {
	results := make([]*UploadResult, 0, len(reqs))
	for _, req := range reqs {
		result, err := s.Upload(ctx, req, opts)
		if err != nil {
			result = &UploadResult{Error: err.Error()}
		}
		results = append(results, result)
	}
	return results
}

// GetRecord loads a file's metadata sidecar.
func (s *FileService) GetRecord(ctx context.Context, fileID string) (*models.FileRecord, error) {
	data, err := s.backend.Get(ctx, storage.MetadataPath(fileID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("file %s: %w", fileID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("read record sidecar: %w", err)
	}
	record, err := models.DecodeFileRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode record sidecar: %w", err)
	}
	return record, nil
}

// Download returns a file's record and its content, decrypted when the blob
// was stored encrypted.
func (s *FileService) Download(ctx context.Context, fileID string) (*models.FileRecord, []byte, error) {
	record, err := s.GetRecord(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.backend.Get(ctx, record.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	if record.Encrypted {
		plaintext, err := security.Decrypt(data, s.cfg.Security.EncryptionKey, s.cfg.Security.EncryptionAlgorithm)
		if err != nil {
			return nil, nil, err
		}
		data = plaintext
	}
	return record, data, nil
}

// DownloadThumbnail returns the stored thumbnail bytes. Thumbnails are never
// encrypted.
func (s *FileService) DownloadThumbnail(ctx context.Context, fileID string) (*models.FileRecord, []byte, error) {
	record, err := s.GetRecord(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if record.ThumbnailPath == "" {
		return nil, nil, fmt.Errorf("thumbnail for file %s: %w", fileID, storage.ErrNotFound)
	}
	data, err := s.backend.Get(ctx, record.ThumbnailPath)
	if err != nil {
		return nil, nil, err
	}
	return record, data, nil
}

// CreateFileVersion snapshots new content as a named version. Version blobs
// are stored in the same form as the file's current blob, so when the record
// is encrypted the version content is encrypted too and a later rollback
// never mixes plaintext with ciphertext.
func (s *FileService) CreateFileVersion(ctx context.Context, fileID string, data []byte, version, uploadedBy, changes string) (*models.FileVersion, error) {
	record, err := s.GetRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	stored := data
	if record.Encrypted {
		stored, err = security.Encrypt(data, s.cfg.Security.EncryptionKey, s.cfg.Security.EncryptionAlgorithm)
		if err != nil {
			return nil, err
		}
	}
	return s.versions.CreateVersion(ctx, fileID, stored, version, uploadedBy, changes)
}

// GetFileVersion returns a version's metadata and content, decrypted when
// the file is stored encrypted.
func (s *FileService) GetFileVersion(ctx context.Context, fileID, version string) (*models.FileVersion, []byte, error) {
	record, err := s.GetRecord(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	meta, data, err := s.versions.GetVersion(ctx, fileID, version)
	if err != nil {
		return nil, nil, err
	}
	if record.Encrypted {
		plaintext, err := security.Decrypt(data, s.cfg.Security.EncryptionKey, s.cfg.Security.EncryptionAlgorithm)
		if err != nil {
			return nil, nil, err
		}
		data = plaintext
	}
	return meta, data, nil
}

// Delete removes the blob, thumbnail, and metadata sidecar, and optionally
// every stored version.
func (s *FileService) Delete(ctx context.Context, fileID string, includeVersions bool) error {
	record, err := s.GetRecord(ctx, fileID)
	if err != nil {
		return err
	}

	if _, err := s.backend.Delete(ctx, record.StoragePath); err != nil {
		return err
	}
	if record.ThumbnailPath != "" {
		if _, err := s.backend.Delete(ctx, record.ThumbnailPath); err != nil {
			return err
		}
	}

	if includeVersions {
		paths, err := s.backend.List(ctx, storage.VersionPrefix(fileID), "")
		if err != nil {
			return err
		}
		for _, p := range paths {
			if _, err := s.backend.Delete(ctx, p); err != nil {
				return err
			}
		}
	}

	if _, err := s.backend.Delete(ctx, storage.MetadataPath(fileID)); err != nil {
		return err
	}
	return nil
}

// storeThumbnail generates and stores the thumbnail, returning its path or
// "" when anything failed. Thumbnail faults only add warnings.
func (s *FileService) storeThumbnail(ctx context.Context, objectPath string, original []byte, mimeType string, result *UploadResult) string {
	outcome := media.Thumbnail(original, mimeType, s.cfg.Processing.ThumbnailWidth, s.cfg.Processing.ThumbnailHeight)
	if outcome.Warning != "" {
		result.Warnings = append(result.Warnings, outcome.Warning)
		return ""
	}
	thumbPath := storage.ThumbnailPath(objectPath)
	if _, err := s.backend.Put(ctx, thumbPath, outcome.Data, "image/jpeg", nil); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("thumbnail not stored: %v", err))
		return ""
	}
	return thumbPath
}

func (s *FileService) scanPolicy() security.ScanPolicy {
	return security.ScanPolicy{
		MaxFileSize:       s.cfg.MaxFileSizeBytes,
		BlockedExtensions: s.cfg.Validation.BlockedExtensions,
		VirusScanning:     s.cfg.Security.VirusScanning,
		ContentValidation: s.cfg.Security.ContentValidation,
		Encryption:        s.cfg.Security.Encryption,
	}
}

// normalizeExt lowercases a configured extension and strips a leading dot,
// so "PDF", ".pdf" and "pdf" all mean the same thing.
func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}
