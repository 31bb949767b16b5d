package handlers

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"

	"file-service/internal/config"
	"file-service/internal/database"
	"file-service/internal/models"
	"file-service/internal/requests"
	"file-service/internal/services"
	"file-service/internal/storage"
	"file-service/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kerimovok/go-pkg-utils/httpx"
	"github.com/kerimovok/go-pkg-utils/validator"
)

// FileHandler handles file-related HTTP requests
type FileHandler struct {
	fileService *services.FileService
	cfg         *config.Config
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileService *services.FileService, cfg *config.Config) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		cfg:         cfg,
	}
}

// UploadFile handles single file upload requests
func (h *FileHandler) UploadFile(c *fiber.Ctx) error {
	// Parse multipart form
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response := httpx.BadRequest("No file provided", err)
		return httpx.SendResponse(c, response)
	}

	// Parse additional form data
	var input requests.UploadFileRequest
	if err := c.BodyParser(&input); err != nil {
		response := httpx.BadRequest("Invalid request body", err)
		return httpx.SendResponse(c, response)
	}

	// Validate request
	if err := validator.ValidateStruct(&input); err != nil {
		response := httpx.BadRequest("Validation failed", err)
		return httpx.SendResponse(c, response)
	}

	opts, err := buildUploadOptions(&input)
	if err != nil {
		response := httpx.BadRequest("Invalid upload options", err)
		return httpx.SendResponse(c, response)
	}

	req, err := readUploadRequest(fileHeader)
	if err != nil {
		response := httpx.BadRequest("Failed to read file", err)
		return httpx.SendResponse(c, response)
	}

	// Run the ingestion pipeline
	result, err := h.fileService.Upload(c.Context(), req, opts)
	if err != nil {
		response := httpx.InternalServerError("Failed to process file upload", err)
		return httpx.SendResponse(c, response)
	}
	if !result.Success {
		// Policy and screening rejections carry per-rule feedback
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}

	if err := h.mirrorRecord(result.File); err != nil {
		response := httpx.InternalServerError("File stored but registry update failed", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.Created("File uploaded successfully", result)
	return httpx.SendResponse(c, response)
}

// UploadMultipleFiles handles batch upload requests. Files are processed in
// order and each gets its own result slot; one bad file never blocks the rest.
func (h *FileHandler) UploadMultipleFiles(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		response := httpx.BadRequest("Invalid multipart form", err)
		return httpx.SendResponse(c, response)
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		response := httpx.BadRequest("No files provided", nil)
		return httpx.SendResponse(c, response)
	}

	var input requests.UploadFileRequest
	if err := c.BodyParser(&input); err != nil {
		response := httpx.BadRequest("Invalid request body", err)
		return httpx.SendResponse(c, response)
	}
	opts, err := buildUploadOptions(&input)
	if err != nil {
		response := httpx.BadRequest("Invalid upload options", err)
		return httpx.SendResponse(c, response)
	}

	reqs := make([]*services.UploadRequest, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		req, err := readUploadRequest(fh)
		if err != nil {
			response := httpx.BadRequest("Failed to read file", err)
			return httpx.SendResponse(c, response)
		}
		reqs = append(reqs, req)
	}

	results := h.fileService.UploadMultiple(c.Context(), reqs, opts)
	uploaded := 0
	for _, result := range results {
		if !result.Success {
			continue
		}
		if err := h.mirrorRecord(result.File); err != nil {
			response := httpx.InternalServerError("Files stored but registry update failed", err)
			return httpx.SendResponse(c, response)
		}
		uploaded++
	}

	response := httpx.OK("Batch upload processed", fiber.Map{
		"results":  results,
		"uploaded": uploaded,
		"failed":   len(results) - uploaded,
	})
	return httpx.SendResponse(c, response)
}

// GetFile retrieves file metadata
func (h *FileHandler) GetFile(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}

	record, err := h.fileService.GetRecord(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to fetch file", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.OK("File retrieved successfully", record)
	return httpx.SendResponse(c, response)
}

// DownloadFile streams the file content back, decrypted when stored encrypted
func (h *FileHandler) DownloadFile(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}

	record, data, err := h.fileService.Download(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to download file", err)
		return httpx.SendResponse(c, response)
	}

	c.Set(fiber.HeaderContentType, record.MimeType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+record.OriginalName+`"`)
	return c.Send(data)
}

// GetThumbnail streams the stored thumbnail
func (h *FileHandler) GetThumbnail(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}

	_, data, err := h.fileService.DownloadThumbnail(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response := httpx.NotFound("Thumbnail not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to fetch thumbnail", err)
		return httpx.SendResponse(c, response)
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(data)
}

// DeleteFile removes the blob, thumbnail, metadata sidecar, and optionally
// all stored versions
func (h *FileHandler) DeleteFile(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}
	includeVersions := c.QueryBool("versions", false)

	if err := h.fileService.Delete(c.Context(), id, includeVersions); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to delete file", err)
		return httpx.SendResponse(c, response)
	}

	if database.DB != nil {
		if err := database.DB.Delete(&models.FileRecord{}, "id = ?", id).Error; err != nil {
			log.Printf("Warning: Failed to remove file record from registry: %v", err)
		}
	}

	response := httpx.OK("File deleted successfully", nil)
	return httpx.SendResponse(c, response)
}

// SearchFiles lists registry records matching the query filters
func (h *FileHandler) SearchFiles(c *fiber.Ctx) error {
	var input requests.FileSearchRequest
	if err := c.QueryParser(&input); err != nil {
		response := httpx.BadRequest("Invalid query parameters", err)
		return httpx.SendResponse(c, response)
	}

	// Set defaults
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	// Build query
	query := database.DB.Model(&models.FileRecord{})

	// Apply filters
	if input.CompanyID != "" {
		query = query.Where("company_id = ?", input.CompanyID)
	}
	if input.QuotationID != "" {
		query = query.Where("quotation_id = ?", input.QuotationID)
	}
	if input.MimeType != "" {
		query = query.Where("mime_type = ?", input.MimeType)
	}
	if input.UploadedBy != "" {
		query = query.Where("uploaded_by = ?", input.UploadedBy)
	}

	// Get total count
	var total int64
	if err := query.Count(&total).Error; err != nil {
		response := httpx.InternalServerError("Failed to count files", err)
		return httpx.SendResponse(c, response)
	}

	// Apply sorting and pagination
	offset := (input.Page - 1) * input.Limit
	query = query.Order("created_at desc").
		Offset(offset).
		Limit(input.Limit)

	var files []models.FileRecord
	if err := query.Find(&files).Error; err != nil {
		response := httpx.InternalServerError("Failed to fetch files", err)
		return httpx.SendResponse(c, response)
	}

	// Build response
	result := fiber.Map{
		"files": files,
		"pagination": fiber.Map{
			"page":       input.Page,
			"limit":      input.Limit,
			"total":      total,
			"totalPages": (total + int64(input.Limit) - 1) / int64(input.Limit),
		},
	}

	response := httpx.OK("Files retrieved successfully", result)
	return httpx.SendResponse(c, response)
}

// GetFileLimits returns the upload policy the service enforces
func (h *FileHandler) GetFileLimits(c *fiber.Ctx) error {
	limits := fiber.Map{
		"maxFileSize":       h.cfg.MaxFileSizeBytes,
		"maxFileSizeHuman":  utils.FormatFileSize(h.cfg.MaxFileSizeBytes),
		"allowedMimeTypes":  h.cfg.Validation.AllowedMimeTypes,
		"allowedExtensions": h.cfg.Validation.AllowedExtensions,
		"blockedExtensions": h.cfg.Validation.BlockedExtensions,
		"processing": fiber.Map{
			"compressImages":     h.cfg.Processing.CompressImages,
			"generateThumbnails": h.cfg.Processing.GenerateThumbnails,
			"watermark":          h.cfg.Processing.Watermark,
		},
		"security": fiber.Map{
			"virusScanning":     h.cfg.Security.VirusScanning,
			"contentValidation": h.cfg.Security.ContentValidation,
			"encryption":        h.cfg.Security.Encryption,
		},
	}

	response := httpx.OK("File limits retrieved successfully", limits)
	return httpx.SendResponse(c, response)
}

// mirrorRecord upserts a record into the Postgres registry. The metadata
// sidecar stays the source of truth: a failed mirror leaves every stored
// blob and sidecar in place, and the caller surfaces the failure.
func (h *FileHandler) mirrorRecord(record *models.FileRecord) error {
	if database.DB == nil || record == nil {
		return nil
	}
	if err := database.DB.Save(record).Error; err != nil {
		log.Printf("Warning: Failed to mirror file record %s: %v", record.ID, err)
		return err
	}
	return nil
}

// readUploadRequest drains a multipart file into a pipeline request.
func readUploadRequest(fileHeader *multipart.FileHeader) (*services.UploadRequest, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &services.UploadRequest{
		Data:     data,
		Filename: fileHeader.Filename,
		MimeType: mimeType,
		Size:     fileHeader.Size,
	}, nil
}

func buildUploadOptions(input *requests.UploadFileRequest) (*services.UploadOptions, error) {
	tags, err := input.ParseTags()
	if err != nil {
		return nil, err
	}
	metadata, err := input.ParseMetadata()
	if err != nil {
		return nil, err
	}
	expiresAt, err := input.ParseExpiresAt()
	if err != nil {
		return nil, err
	}
	return &services.UploadOptions{
		UploadedBy:  input.UploadedBy,
		CompanyID:   input.CompanyID,
		QuotationID: input.QuotationID,
		Tags:        tags,
		Metadata:    metadata,
		IsPublic:    input.IsPublic,
		ExpiresAt:   expiresAt,
	}, nil
}
