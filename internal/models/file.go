package models

import (
	"encoding/json"
	"time"
)

// FileRecord represents a stored file. The pipeline writes it as a JSON
// sidecar next to the blob (the source of truth); the same struct doubles as
// the Postgres registry row used for search and listing.
type FileRecord struct {
	// ID is assigned once by the pipeline and never changes
	ID            string            `json:"id" gorm:"primaryKey;type:uuid"`
	Filename      string            `json:"filename" gorm:"not null"`
	OriginalName  string            `json:"originalName" gorm:"not null"`
	MimeType      string            `json:"mimeType" gorm:"not null"`
	Size          int64             `json:"size" gorm:"not null"`
	StoragePath   string            `json:"path" gorm:"not null;uniqueIndex"`
	URL           string            `json:"url"`
	Checksum      string            `json:"checksum" gorm:"not null"`
	Encrypted     bool              `json:"encrypted"`
	ThumbnailPath string            `json:"thumbnailPath,omitempty"`
	UploadedBy    string            `json:"uploadedBy"`
	UploadedAt    time.Time         `json:"uploadedAt"`
	CompanyID     string            `json:"companyId,omitempty" gorm:"index"`
	QuotationID   string            `json:"quotationId,omitempty" gorm:"index"`
	Tags          []string          `json:"tags,omitempty" gorm:"serializer:json"`
	Metadata      map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	IsPublic      bool              `json:"isPublic"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// FileVersion is one named, immutable snapshot of a file's content.
// Versions are persisted as blob + JSON sidecar under the file's version
// prefix; they are never stored in the registry.
type FileVersion struct {
	FileID     string    `json:"fileId"`
	Version    string    `json:"version"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
	Changes    string    `json:"changes,omitempty"`
}

// EncodeSidecar renders the record as the JSON metadata sidecar stored next
// to the blob.
func (r *FileRecord) EncodeSidecar() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeFileRecord parses a metadata sidecar back into a FileRecord.
func DecodeFileRecord(data []byte) (*FileRecord, error) {
	var rec FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeSidecar renders the version metadata sidecar.
func (v *FileVersion) EncodeSidecar() ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// DecodeFileVersion parses a version metadata sidecar.
func DecodeFileVersion(data []byte) (*FileVersion, error) {
	var fv FileVersion
	if err := json.Unmarshal(data, &fv); err != nil {
		return nil, err
	}
	return &fv, nil
}
