package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"file-service/internal/config"
	"file-service/internal/database"
	"file-service/internal/models"
	"file-service/internal/routes"
	"file-service/internal/security"
	"file-service/internal/services"
	"file-service/internal/storage"
	"file-service/internal/versioning"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// setupApp builds the full HTTP surface against a local backend and a
// throwaway sqlite registry. Tests share the package-level database.DB, so
// none of them may run in parallel.
func setupApp(t *testing.T, mutate func(*config.Config)) (*fiber.App, storage.Backend) {
	t.Helper()

	cfg := &config.Config{}
	cfg.MaxFileSizeBytes = 10 * 1024 * 1024
	cfg.Validation.AllowedMimeTypes = []string{"image/*", "text/plain", "application/pdf"}
	cfg.Validation.AllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "txt", "pdf"}
	cfg.Validation.BlockedExtensions = []string{"exe", "sh"}
	cfg.Processing.CompressImages = true
	cfg.Processing.CompressionQuality = 80
	cfg.Processing.MaxWidth = 1920
	cfg.Processing.MaxHeight = 1080
	cfg.Processing.GenerateThumbnails = true
	cfg.Processing.ThumbnailWidth = 200
	cfg.Processing.ThumbnailHeight = 200
	cfg.Security.VirusScanning = true
	cfg.Security.ContentValidation = true
	cfg.Security.EncryptionAlgorithm = security.AlgorithmAES256GCM
	if mutate != nil {
		mutate(cfg)
	}

	backend, err := storage.NewLocalBackend(filepath.Join(t.TempDir(), "uploads"), "/static/uploads")
	require.NoError(t, err)

	db, err := gorm.Open(gormsqlite.New(gormsqlite.Config{
		DriverName: "sqlite",
		DSN:        filepath.Join(t.TempDir(), "registry.db"),
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.FileRecord{}))
	database.DB = db
	t.Cleanup(func() { database.DB = nil })

	svc := services.NewFileService(cfg, backend, versioning.NewManager(backend))
	app := fiber.New()
	routes.SetupRoutes(app, svc, cfg)
	return app, backend
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// multipartBody builds a form with explicit per-part Content-Type headers.
// multipart.Writer.CreateFormFile would hardcode application/octet-stream,
// which the upload policy rejects.
func multipartBody(t *testing.T, parts []filePart, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		fw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postMultipart(t *testing.T, app *fiber.App, url string, parts []filePart, fields map[string]string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, parts, fields)
	req := httptest.NewRequest(fiber.MethodPost, url, body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func uploadFile(t *testing.T, app *fiber.App, filename, contentType string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	return postMultipart(t, app, "/api/v1/files",
		[]filePart{{field: "file", filename: filename, contentType: contentType, data: data}}, fields)
}

func doGet(t *testing.T, app *fiber.App, url string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, url, nil), -1)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func recordByName(t *testing.T, originalName string) *models.FileRecord {
	t.Helper()
	var rec models.FileRecord
	require.NoError(t, database.DB.Where("original_name = ?", originalName).First(&rec).Error)
	return &rec
}

func registryCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, database.DB.Model(&models.FileRecord{}).Count(&count).Error)
	return count
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x + rng.Intn(64)) % 256),
				G: uint8((y + rng.Intn(64)) % 256),
				B: uint8((x * y) % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestUploadEndpointStoresAndMirrors(t *testing.T) {
	app, _ := setupApp(t, nil)

	content := []byte("uploaded through the http surface")
	resp := uploadFile(t, app, "notes.txt", "text/plain", content, map[string]string{
		"uploadedBy": "user-9",
		"tags":       `["docs","handler"]`,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	rec := recordByName(t, "notes.txt")
	_, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "user-9", rec.UploadedBy)
	require.Equal(t, int64(len(content)), rec.Size)
	require.Equal(t, []string{"docs", "handler"}, rec.Tags)

	resp = doGet(t, app, "/api/v1/files/"+rec.ID)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doGet(t, app, "/api/v1/files/"+rec.ID+"/download")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get(fiber.HeaderContentType))
	require.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), `filename="notes.txt"`)
	require.Equal(t, content, readBody(t, resp))
}

func TestUploadEndpointRejectsPolicyViolation(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "run.exe", "text/plain", []byte("MZ"), nil)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var result services.UploadResult
	require.NoError(t, json.Unmarshal(readBody(t, resp), &result))
	require.False(t, result.Success)
	require.NotNil(t, result.Validation)
	require.False(t, result.Validation.IsValid)
	require.Nil(t, result.File)

	require.Zero(t, registryCount(t))
}

func TestUploadEndpointRequiresFilePart(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := postMultipart(t, app, "/api/v1/files", nil, map[string]string{"uploadedBy": "user-9"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadEndpointRejectsBadExpiry(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "notes.txt", "text/plain", []byte("x"), map[string]string{
		"expiresAt": "not-a-timestamp",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	require.Zero(t, registryCount(t))
}

func TestUploadEndpointSurfacesRegistryFailure(t *testing.T) {
	app, backend := setupApp(t, nil)

	// Take the registry down before uploading
	sqlDB, err := database.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	resp := uploadFile(t, app, "notes.txt", "text/plain", []byte("stored either way"), nil)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()

	// The sidecar is canonical: blob and sidecar survive the failed mirror
	blobs, err := backend.List(context.Background(), "uploads", "")
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	sidecars, err := backend.List(context.Background(), "metadata", "")
	require.NoError(t, err)
	require.Len(t, sidecars, 1)
}

func TestGetFileRejectsMalformedID(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := doGet(t, app, "/api/v1/files/not-a-uuid")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetFileMissing(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := doGet(t, app, "/api/v1/files/"+uuid.NewString())
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDownloadDecryptsEncryptedFile(t *testing.T) {
	app, backend := setupApp(t, func(cfg *config.Config) {
		cfg.Security.Encryption = true
		cfg.Security.EncryptionKey = "handler-suite-key"
	})

	content := []byte("ciphertext on disk, plaintext over http")
	resp := uploadFile(t, app, "secret.txt", "text/plain", content, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	rec := recordByName(t, "secret.txt")
	require.True(t, rec.Encrypted)

	stored, err := backend.Get(context.Background(), rec.StoragePath)
	require.NoError(t, err)
	require.NotEqual(t, content, stored)

	resp = doGet(t, app, "/api/v1/files/"+rec.ID+"/download")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, content, readBody(t, resp))
}

func TestBatchUploadPartialFailure(t *testing.T) {
	app, backend := setupApp(t, nil)

	resp := postMultipart(t, app, "/api/v1/files/batch", []filePart{
		{field: "files", filename: "ok.txt", contentType: "text/plain", data: []byte("fine")},
		{field: "files", filename: "bad.exe", contentType: "text/plain", data: []byte("MZ")},
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Only the accepted file reaches the registry and the backend
	require.Equal(t, int64(1), registryCount(t))
	sidecars, err := backend.List(context.Background(), "metadata", "")
	require.NoError(t, err)
	require.Len(t, sidecars, 1)
}

func TestDeleteFileEndpoint(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "notes.txt", "text/plain", []byte("to be removed"), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	rec := recordByName(t, "notes.txt")

	req := httptest.NewRequest(fiber.MethodDelete, "/api/v1/files/"+rec.ID, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Zero(t, registryCount(t))

	resp = doGet(t, app, "/api/v1/files/"+rec.ID)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestThumbnailEndpoint(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "photo.jpg", "image/jpeg", jpegBytes(t, 640, 480), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	rec := recordByName(t, "photo.jpg")

	resp = doGet(t, app, "/api/v1/files/"+rec.ID+"/thumbnail")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get(fiber.HeaderContentType))
	thumb := readBody(t, resp)
	require.True(t, bytes.HasPrefix(thumb, []byte{0xFF, 0xD8}))

	img, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 200, img.Bounds().Dx())
	require.Equal(t, 200, img.Bounds().Dy())

	// Non-image uploads have no thumbnail
	resp = uploadFile(t, app, "notes.txt", "text/plain", []byte("x"), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	txtRec := recordByName(t, "notes.txt")

	resp = doGet(t, app, "/api/v1/files/"+txtRec.ID+"/thumbnail")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVersionLifecycleOverHTTP(t *testing.T) {
	app, backend := setupApp(t, nil)

	v1 := []byte("version one content")
	v2 := []byte("version two content, slightly longer")

	resp := uploadFile(t, app, "doc.txt", "text/plain", v1, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	rec := recordByName(t, "doc.txt")
	base := "/api/v1/files/" + rec.ID

	resp = postMultipart(t, app, base+"/versions",
		[]filePart{{field: "file", filename: "doc.txt", contentType: "text/plain", data: v1}},
		map[string]string{"version": "1.0", "uploadedBy": "alice", "changes": "initial"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postMultipart(t, app, base+"/versions",
		[]filePart{{field: "file", filename: "doc.txt", contentType: "text/plain", data: v2}},
		map[string]string{"version": "2.0", "uploadedBy": "alice", "changes": "rewrite"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doGet(t, app, base+"/versions")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doGet(t, app, base+"/versions/compare?a=1.0&b=2.0")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doGet(t, app, base+"/versions/1.0")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(fiber.HeaderContentDisposition))
	require.Equal(t, v1, readBody(t, resp))

	rollback := httptest.NewRequest(fiber.MethodPost, base+"/versions/1.0/rollback",
		bytes.NewReader([]byte(`{"actor":"ops","reason":"bad deploy"}`)))
	rollback.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(rollback, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Current content is the rolled-back version
	resp = doGet(t, app, base+"/download")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, v1, readBody(t, resp))

	// 1.0, 2.0, plus the preserved pre-rollback content
	sidecars, err := backend.List(context.Background(), storage.VersionPrefix(rec.ID), "metadata.json")
	require.NoError(t, err)
	require.Len(t, sidecars, 3)
}

func TestCreateVersionRejectsBadLabel(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "doc.txt", "text/plain", []byte("content"), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	rec := recordByName(t, "doc.txt")

	resp = postMultipart(t, app, "/api/v1/files/"+rec.ID+"/versions",
		[]filePart{{field: "file", filename: "doc.txt", contentType: "text/plain", data: []byte("next")}},
		map[string]string{"version": "beta"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRollbackUnknownVersion(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "doc.txt", "text/plain", []byte("content"), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	rec := recordByName(t, "doc.txt")

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/files/"+rec.ID+"/versions/9.9/rollback", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSearchFilesFiltersByCompany(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := uploadFile(t, app, "acme-report.txt", "text/plain", []byte("a"), map[string]string{"companyId": "acme"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = uploadFile(t, app, "globex-report.txt", "text/plain", []byte("b"), map[string]string{"companyId": "globex"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doGet(t, app, "/api/v1/files?companyId=acme")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	require.Contains(t, string(body), "acme-report.txt")
	require.NotContains(t, string(body), "globex-report.txt")
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := doGet(t, app, "/health")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(readBody(t, resp), &payload))
	require.Equal(t, "healthy", payload["status"])
	require.Equal(t, "file-service", payload["service"])
}

func TestFileLimitsEndpoint(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp := doGet(t, app, "/api/v1/files/limits")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	require.Contains(t, string(body), "maxFileSize")
	require.Contains(t, string(body), "allowedMimeTypes")
}
