// Package versioning manages named, immutable snapshots of a file's content
// on top of the storage backend. The version set for a file only grows; a
// rollback preserves the current content as a fresh snapshot before making an
// older version current.
package versioning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"file-service/internal/models"
	"file-service/internal/storage"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrVersionExists   = errors.New("version already exists")
	ErrBadLabel        = errors.New("invalid version label")
)

// Version labels are dot-separated numeric segments ("1", "2.0", "1.10.3").
// Ordering compares segments numerically, left to right; missing segments
// count as zero. The label format is enforced at creation so the ordering is
// total over everything on disk.
var labelPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// Manager stores version blobs and their sidecars through a storage backend.
// Rollbacks are serialized per Manager; concurrent rollbacks of the same file
// through different processes are not coordinated.
type Manager struct {
	backend storage.Backend

	mu sync.Mutex
}

func NewManager(backend storage.Backend) *Manager {
	return &Manager{backend: backend}
}

// CreateVersion snapshots data as the named version of the file. The file's
// record must exist, the label must be numeric, and the label must not be
// taken yet.
func (m *Manager) CreateVersion(ctx context.Context, fileID string, data []byte, version, uploadedBy, changes string) (*models.FileVersion, error) {
	if !labelPattern.MatchString(version) {
		return nil, fmt.Errorf("%w: %q", ErrBadLabel, version)
	}

	record, err := m.loadRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	exists, err := m.backend.Exists(ctx, storage.VersionMetaPath(fileID, version))
	if err != nil {
		return nil, fmt.Errorf("check version %s: %w", version, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrVersionExists, version)
	}

	meta := &models.FileVersion{
		FileID:     fileID,
		Version:    version,
		Filename:   record.Filename,
		Size:       int64(len(data)),
		Checksum:   checksum(data),
		UploadedBy: uploadedBy,
		UploadedAt: time.Now().UTC(),
		Changes:    changes,
	}
	if err := m.writeVersion(ctx, fileID, data, record.MimeType, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// GetVersion returns a version's metadata and content.
func (m *Manager) GetVersion(ctx context.Context, fileID, version string) (*models.FileVersion, []byte, error) {
	meta, err := m.loadVersion(ctx, fileID, version)
	if err != nil {
		return nil, nil, err
	}
	data, err := m.backend.Get(ctx, storage.VersionBlobPath(fileID, version))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
		}
		return nil, nil, fmt.Errorf("read version %s: %w", version, err)
	}
	return meta, data, nil
}

// ListVersions returns every version of the file, newest first.
func (m *Manager) ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	paths, err := m.backend.List(ctx, storage.VersionPrefix(fileID), "metadata.json")
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	versions := make([]models.FileVersion, 0, len(paths))
	for _, p := range paths {
		data, err := m.backend.Get(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read version sidecar %s: %w", p, err)
		}
		meta, err := models.DecodeFileVersion(data)
		if err != nil {
			return nil, fmt.Errorf("decode version sidecar %s: %w", p, err)
		}
		versions = append(versions, *meta)
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return CompareLabels(versions[i].Version, versions[j].Version) > 0
	})
	return versions, nil
}

// Rollback makes the named version's content current. The content that was
// current beforehand is first preserved as a new version above all existing
// ones, so no snapshot is ever destroyed. Returns the updated file record.
func (m *Manager) Rollback(ctx context.Context, fileID, version, actor, reason string) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.loadRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if _, err := m.loadVersion(ctx, fileID, version); err != nil {
		return nil, err
	}
	target, err := m.backend.Get(ctx, storage.VersionBlobPath(fileID, version))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
		}
		return nil, fmt.Errorf("read version %s: %w", version, err)
	}

	current, err := m.backend.Get(ctx, record.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read current content: %w", err)
	}

	versions, err := m.ListVersions(ctx, fileID)
	if err != nil {
		return nil, err
	}

	changes := fmt.Sprintf("snapshot of current content before rollback to %s", version)
	if reason != "" {
		changes += ": " + reason
	}
	snapshot := &models.FileVersion{
		FileID:     fileID,
		Version:    nextMajorLabel(versions),
		Filename:   record.Filename,
		Size:       int64(len(current)),
		Checksum:   checksum(current),
		UploadedBy: actor,
		UploadedAt: time.Now().UTC(),
		Changes:    changes,
	}
	if err := m.writeVersion(ctx, fileID, current, record.MimeType, snapshot); err != nil {
		return nil, err
	}

	if _, err := m.backend.Put(ctx, record.StoragePath, target, record.MimeType, nil); err != nil {
		return nil, fmt.Errorf("write rolled back content: %w", err)
	}

	now := time.Now().UTC()
	record.Size = int64(len(target))
	record.Checksum = checksum(target)
	record.UpdatedAt = now
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	record.Metadata["rolledBackTo"] = version
	record.Metadata["rolledBackBy"] = actor
	record.Metadata["rolledBackAt"] = now.Format(time.RFC3339)
	record.Metadata["preservedAs"] = snapshot.Version
	if reason != "" {
		record.Metadata["rollbackReason"] = reason
	}

	sidecar, err := record.EncodeSidecar()
	if err != nil {
		return nil, fmt.Errorf("encode record sidecar: %w", err)
	}
	if _, err := m.backend.Put(ctx, storage.MetadataPath(fileID), sidecar, "application/json", nil); err != nil {
		return nil, fmt.Errorf("write record sidecar: %w", err)
	}
	return record, nil
}

// VersionDiff is a structural comparison of two versions; content is
// compared by checksum only.
type VersionDiff struct {
	FileID      string             `json:"fileId"`
	A           models.FileVersion `json:"a"`
	B           models.FileVersion `json:"b"`
	SizeDelta   int64              `json:"sizeDelta"`
	SameContent bool               `json:"sameContent"`
}

// CompareVersions diffs two versions of the file by size, checksum, upload
// time, and recorded changes.
func (m *Manager) CompareVersions(ctx context.Context, fileID, versionA, versionB string) (*VersionDiff, error) {
	a, err := m.loadVersion(ctx, fileID, versionA)
	if err != nil {
		return nil, err
	}
	b, err := m.loadVersion(ctx, fileID, versionB)
	if err != nil {
		return nil, err
	}
	return &VersionDiff{
		FileID:      fileID,
		A:           *a,
		B:           *b,
		SizeDelta:   b.Size - a.Size,
		SameContent: a.Checksum == b.Checksum,
	}, nil
}

// CompareLabels orders two numeric version labels: positive when a is newer
// than b, negative when older, zero when equal.
func CompareLabels(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}

// nextMajorLabel returns a label strictly above every existing one: the
// highest major segment plus one, with a zero minor.
func nextMajorLabel(versions []models.FileVersion) string {
	maxMajor := 0
	for _, v := range versions {
		major, _ := strconv.Atoi(strings.Split(v.Version, ".")[0])
		if major > maxMajor {
			maxMajor = major
		}
	}
	return fmt.Sprintf("%d.0", maxMajor+1)
}

func (m *Manager) writeVersion(ctx context.Context, fileID string, data []byte, contentType string, meta *models.FileVersion) error {
	if _, err := m.backend.Put(ctx, storage.VersionBlobPath(fileID, meta.Version), data, contentType, nil); err != nil {
		return fmt.Errorf("write version blob: %w", err)
	}
	sidecar, err := meta.EncodeSidecar()
	if err != nil {
		return fmt.Errorf("encode version sidecar: %w", err)
	}
	if _, err := m.backend.Put(ctx, storage.VersionMetaPath(fileID, meta.Version), sidecar, "application/json", nil); err != nil {
		return fmt.Errorf("write version sidecar: %w", err)
	}
	return nil
}

func (m *Manager) loadRecord(ctx context.Context, fileID string) (*models.FileRecord, error) {
	data, err := m.backend.Get(ctx, storage.MetadataPath(fileID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
		}
		return nil, fmt.Errorf("read record sidecar: %w", err)
	}
	record, err := models.DecodeFileRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode record sidecar: %w", err)
	}
	return record, nil
}

func (m *Manager) loadVersion(ctx context.Context, fileID, version string) (*models.FileVersion, error) {
	data, err := m.backend.Get(ctx, storage.VersionMetaPath(fileID, version))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
		}
		return nil, fmt.Errorf("read version sidecar: %w", err)
	}
	meta, err := models.DecodeFileVersion(data)
	if err != nil {
		return nil, fmt.Errorf("decode version sidecar: %w", err)
	}
	return meta, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
