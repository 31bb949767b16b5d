package handlers

import (
	"errors"
	"io"

	"file-service/internal/requests"
	"file-service/internal/storage"
	"file-service/internal/versioning"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kerimovok/go-pkg-utils/httpx"
	"github.com/kerimovok/go-pkg-utils/validator"
)

// CreateVersion stores uploaded content as a named version of the file
func (h *FileHandler) CreateVersion(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response := httpx.BadRequest("No file provided", err)
		return httpx.SendResponse(c, response)
	}

	var input requests.CreateVersionRequest
	if err := c.BodyParser(&input); err != nil {
		response := httpx.BadRequest("Invalid request body", err)
		return httpx.SendResponse(c, response)
	}
	if err := validator.ValidateStruct(&input); err != nil {
		response := httpx.BadRequest("Validation failed", err)
		return httpx.SendResponse(c, response)
	}

	src, err := fileHeader.Open()
	if err != nil {
		response := httpx.BadRequest("Failed to read file", err)
		return httpx.SendResponse(c, response)
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		response := httpx.BadRequest("Failed to read file", err)
		return httpx.SendResponse(c, response)
	}

	version, err := h.fileService.CreateFileVersion(c.Context(), id, data, input.Version, input.UploadedBy, input.Changes)
	if err != nil {
		switch {
		case errors.Is(err, versioning.ErrBadLabel), errors.Is(err, versioning.ErrVersionExists):
			response := httpx.BadRequest("Invalid version", err)
			return httpx.SendResponse(c, response)
		case errors.Is(err, versioning.ErrFileNotFound), errors.Is(err, storage.ErrNotFound):
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to create version", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.Created("Version created successfully", version)
	return httpx.SendResponse(c, response)
}

// ListVersions returns every stored version of the file, newest first
func (h *FileHandler) ListVersions(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}

	versions, err := h.fileService.Versions().ListVersions(c.Context(), id)
	if err != nil {
		response := httpx.InternalServerError("Failed to list versions", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.OK("Versions retrieved successfully", versions)
	return httpx.SendResponse(c, response)
}

// CompareVersions returns a structural diff between two versions
func (h *FileHandler) CompareVersions(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}
	versionA := c.Query("a")
	versionB := c.Query("b")
	if versionA == "" || versionB == "" {
		response := httpx.BadRequest("Both version query parameters a and b are required", nil)
		return httpx.SendResponse(c, response)
	}

	diff, err := h.fileService.Versions().CompareVersions(c.Context(), id, versionA, versionB)
	if err != nil {
		if errors.Is(err, versioning.ErrVersionNotFound) {
			response := httpx.NotFound("Version not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to compare versions", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.OK("Versions compared successfully", diff)
	return httpx.SendResponse(c, response)
}

// DownloadVersion streams a version's content, decrypted when the file is
// stored encrypted
func (h *FileHandler) DownloadVersion(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}
	label := c.Params("version")

	meta, data, err := h.fileService.GetFileVersion(c.Context(), id, label)
	if err != nil {
		switch {
		case errors.Is(err, versioning.ErrVersionNotFound):
			response := httpx.NotFound("Version not found")
			return httpx.SendResponse(c, response)
		case errors.Is(err, versioning.ErrFileNotFound), errors.Is(err, storage.ErrNotFound):
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to download version", err)
		return httpx.SendResponse(c, response)
	}

	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+meta.Filename+`"`)
	return c.Send(data)
}

// RollbackVersion makes a stored version the current content, preserving the
// previously-current content as a new version
func (h *FileHandler) RollbackVersion(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		response := httpx.BadRequest("Invalid file ID", err)
		return httpx.SendResponse(c, response)
	}
	label := c.Params("version")

	// Actor and reason are optional; an empty body is a valid request
	var input requests.RollbackRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			response := httpx.BadRequest("Invalid request body", err)
			return httpx.SendResponse(c, response)
		}
	}

	record, err := h.fileService.Versions().Rollback(c.Context(), id, label, input.Actor, input.Reason)
	if err != nil {
		switch {
		case errors.Is(err, versioning.ErrFileNotFound):
			response := httpx.NotFound("File not found")
			return httpx.SendResponse(c, response)
		case errors.Is(err, versioning.ErrVersionNotFound):
			response := httpx.NotFound("Version not found")
			return httpx.SendResponse(c, response)
		}
		response := httpx.InternalServerError("Failed to roll back", err)
		return httpx.SendResponse(c, response)
	}

	if err := h.mirrorRecord(record); err != nil {
		response := httpx.InternalServerError("Rollback completed but registry update failed", err)
		return httpx.SendResponse(c, response)
	}

	response := httpx.OK("Rollback completed successfully", record)
	return httpx.SendResponse(c, response)
}
