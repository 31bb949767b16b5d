package versioning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"file-service/internal/models"
	"file-service/internal/storage"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, storage.Backend) {
	t.Helper()
	backend, err := storage.NewLocalBackend(filepath.Join(t.TempDir(), "uploads"), "/static/uploads")
	require.NoError(t, err)
	return NewManager(backend), backend
}

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// seedFile stores a blob and its metadata sidecar the way the upload pipeline
// would, so the manager has a record to version against.
func seedFile(t *testing.T, backend storage.Backend, fileID string, content []byte) *models.FileRecord {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	record := &models.FileRecord{
		ID:           fileID,
		Filename:     fileID + ".txt",
		OriginalName: "document.txt",
		MimeType:     "text/plain",
		Size:         int64(len(content)),
		StoragePath:  storage.ObjectPath(fileID, ".txt", "", now),
		Checksum:     sha256hex(content),
		UploadedAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := backend.Put(ctx, record.StoragePath, content, record.MimeType, nil)
	require.NoError(t, err)

	sidecar, err := record.EncodeSidecar()
	require.NoError(t, err)
	_, err = backend.Put(ctx, storage.MetadataPath(fileID), sidecar, "application/json", nil)
	require.NoError(t, err)

	return record
}

func TestCreateVersionStoresBlobAndSidecar(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	content := []byte("version one content")
	meta, err := m.CreateVersion(ctx, "file-1", content, "1.0", "alice", "initial import")
	require.NoError(t, err)

	require.Equal(t, "file-1", meta.FileID)
	require.Equal(t, "1.0", meta.Version)
	require.Equal(t, "file-1.txt", meta.Filename)
	require.Equal(t, int64(len(content)), meta.Size)
	require.Equal(t, sha256hex(content), meta.Checksum)
	require.Equal(t, "alice", meta.UploadedBy)
	require.Equal(t, "initial import", meta.Changes)

	got, data, err := m.GetVersion(ctx, "file-1", "1.0")
	require.NoError(t, err)
	require.Equal(t, content, data)
	require.Equal(t, meta.Checksum, got.Checksum)
}

func TestCreateVersionValidatesLabel(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	for _, label := range []string{"", "v1", "1.0-beta", "one", "1..0", ".1"} {
		_, err := m.CreateVersion(ctx, "file-1", []byte("x"), label, "", "")
		require.ErrorIs(t, err, ErrBadLabel, "label %q", label)
	}
}

func TestCreateVersionRejectsDuplicateLabel(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	_, err := m.CreateVersion(ctx, "file-1", []byte("a"), "1.0", "", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(ctx, "file-1", []byte("b"), "1.0", "", "")
	require.ErrorIs(t, err, ErrVersionExists)
}

func TestCreateVersionRequiresExistingFile(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateVersion(context.Background(), "ghost", []byte("x"), "1.0", "", "")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestGetVersionMissing(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	_, _, err := m.GetVersion(ctx, "file-1", "9.9")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestListVersionsNewestFirst(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	for _, label := range []string{"2.0", "1.0", "1.10", "1.9"} {
		_, err := m.CreateVersion(ctx, "file-1", []byte("content "+label), label, "", "")
		require.NoError(t, err)
	}

	versions, err := m.ListVersions(ctx, "file-1")
	require.NoError(t, err)

	labels := make([]string, 0, len(versions))
	for _, v := range versions {
		labels = append(labels, v.Version)
	}
	// Numeric segment order, not lexicographic: 1.10 sorts above 1.9
	require.Equal(t, []string{"2.0", "1.10", "1.9", "1.0"}, labels)
}

func TestListVersionsEmpty(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	versions, err := m.ListVersions(ctx, "file-1")
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestCompareLabels(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1", "1.0", 0},
		{"2.0", "1.0", 1},
		{"1.0", "2.0", -1},
		{"1.10", "1.9", 1},
		{"1.0.1", "1.0", 1},
		{"0.9", "1", -1},
		{"10", "9", 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CompareLabels(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestRollbackRestoresVersionAndPreservesCurrent(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()

	currentContent := []byte("current content, about to be replaced")
	record := seedFile(t, backend, "file-1", currentContent)

	oldContent := []byte("the good old content")
	_, err := m.CreateVersion(ctx, "file-1", oldContent, "1.0", "alice", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(ctx, "file-1", []byte("an in-between state"), "2.0", "alice", "")
	require.NoError(t, err)

	updated, err := m.Rollback(ctx, "file-1", "1.0", "ops", "bad deploy")
	require.NoError(t, err)

	// The target version's content is current again
	require.Equal(t, sha256hex(oldContent), updated.Checksum)
	require.Equal(t, int64(len(oldContent)), updated.Size)
	current, err := backend.Get(ctx, record.StoragePath)
	require.NoError(t, err)
	require.Equal(t, oldContent, current)

	// The pre-rollback content is preserved as a new version above all others
	versions, err := m.ListVersions(ctx, "file-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	require.Equal(t, "3.0", versions[0].Version)
	require.Equal(t, sha256hex(currentContent), versions[0].Checksum)
	require.Equal(t, "ops", versions[0].UploadedBy)
	require.Contains(t, versions[0].Changes, "before rollback to 1.0")
	require.Contains(t, versions[0].Changes, "bad deploy")

	_, preserved, err := m.GetVersion(ctx, "file-1", "3.0")
	require.NoError(t, err)
	require.Equal(t, currentContent, preserved)

	// The rollback is recorded on the file's metadata
	require.Equal(t, "1.0", updated.Metadata["rolledBackTo"])
	require.Equal(t, "ops", updated.Metadata["rolledBackBy"])
	require.Equal(t, "3.0", updated.Metadata["preservedAs"])
	require.Equal(t, "bad deploy", updated.Metadata["rollbackReason"])

	// ...and persisted to the sidecar
	sidecar, err := backend.Get(ctx, storage.MetadataPath("file-1"))
	require.NoError(t, err)
	reloaded, err := models.DecodeFileRecord(sidecar)
	require.NoError(t, err)
	require.Equal(t, sha256hex(oldContent), reloaded.Checksum)
	require.Equal(t, "1.0", reloaded.Metadata["rolledBackTo"])
}

func TestRollbackUnknownVersion(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	_, err := m.Rollback(ctx, "file-1", "9.9", "ops", "")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRollbackUnknownFile(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Rollback(context.Background(), "ghost", "1.0", "ops", "")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestCompareVersions(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	_, err := m.CreateVersion(ctx, "file-1", []byte("short"), "1.0", "", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(ctx, "file-1", []byte("a longer body"), "2.0", "", "")
	require.NoError(t, err)

	diff, err := m.CompareVersions(ctx, "file-1", "1.0", "2.0")
	require.NoError(t, err)
	require.Equal(t, "file-1", diff.FileID)
	require.Equal(t, "1.0", diff.A.Version)
	require.Equal(t, "2.0", diff.B.Version)
	require.Equal(t, int64(len("a longer body")-len("short")), diff.SizeDelta)
	require.False(t, diff.SameContent)

	_, err = m.CompareVersions(ctx, "file-1", "1.0", "9.9")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestCompareVersionsSameContent(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	seedFile(t, backend, "file-1", []byte("current"))

	body := []byte("identical body")
	_, err := m.CreateVersion(ctx, "file-1", body, "1.0", "", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(ctx, "file-1", body, "2.0", "", "")
	require.NoError(t, err)

	diff, err := m.CompareVersions(ctx, "file-1", "1.0", "2.0")
	require.NoError(t, err)
	require.True(t, diff.SameContent)
	require.Zero(t, diff.SizeDelta)
}
