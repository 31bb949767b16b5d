package requests

import (
	"encoding/json"
	"fmt"
	"time"
)

// UploadFileRequest carries the form fields that accompany a multipart
// upload. Tags and Metadata arrive JSON-encoded inside their form values.
type UploadFileRequest struct {
	UploadedBy  string `form:"uploadedBy" json:"uploadedBy"`
	CompanyID   string `form:"companyId" json:"companyId,omitempty"`
	QuotationID string `form:"quotationId" json:"quotationId,omitempty"`
	Tags        string `form:"tags" json:"tags,omitempty"`
	Metadata    string `form:"metadata" json:"metadata,omitempty"`
	IsPublic    bool   `form:"isPublic" json:"isPublic"`
	ExpiresAt   string `form:"expiresAt" json:"expiresAt,omitempty"`
}

// ParseTags decodes the JSON-encoded tags field.
func (r *UploadFileRequest) ParseTags() ([]string, error) {
	if r.Tags == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, fmt.Errorf("invalid tags: %w", err)
	}
	return tags, nil
}

// ParseMetadata decodes the JSON-encoded metadata field.
func (r *UploadFileRequest) ParseMetadata() (map[string]string, error) {
	if r.Metadata == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return metadata, nil
}

// ParseExpiresAt parses the RFC3339 expiry timestamp, if provided.
func (r *UploadFileRequest) ParseExpiresAt() (*time.Time, error) {
	if r.ExpiresAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("invalid expiresAt: %w", err)
	}
	return &t, nil
}

// FileSearchRequest filters the file registry listing
type FileSearchRequest struct {
	CompanyID   string `query:"companyId"`
	QuotationID string `query:"quotationId"`
	MimeType    string `query:"mimeType"`
	UploadedBy  string `query:"uploadedBy"`
	Page        int    `query:"page"`
	Limit       int    `query:"limit"`
}

// CreateVersionRequest carries the form fields of a version-creation upload
type CreateVersionRequest struct {
	Version    string `form:"version" json:"version" validate:"required"`
	UploadedBy string `form:"uploadedBy" json:"uploadedBy"`
	Changes    string `form:"changes" json:"changes,omitempty"`
}

// RollbackRequest carries the audit context of a rollback; the target
// version is named in the URL
type RollbackRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}
