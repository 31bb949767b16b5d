package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	r := &UploadFileRequest{Tags: `["invoice","2025"]`}
	tags, err := r.ParseTags()
	require.NoError(t, err)
	require.Equal(t, []string{"invoice", "2025"}, tags)

	r = &UploadFileRequest{}
	tags, err = r.ParseTags()
	require.NoError(t, err)
	require.Nil(t, tags)

	r = &UploadFileRequest{Tags: "invoice,2025"}
	_, err = r.ParseTags()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid tags")
}

func TestParseMetadata(t *testing.T) {
	r := &UploadFileRequest{Metadata: `{"source":"crm","ticket":"T-42"}`}
	meta, err := r.ParseMetadata()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"source": "crm", "ticket": "T-42"}, meta)

	r = &UploadFileRequest{Metadata: `{"nested":{"not":"flat"}}`}
	_, err = r.ParseMetadata()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid metadata")
}

func TestParseExpiresAt(t *testing.T) {
	r := &UploadFileRequest{ExpiresAt: "2025-06-01T12:00:00Z"}
	expiry, err := r.ParseExpiresAt()
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), expiry.UTC())

	r = &UploadFileRequest{}
	expiry, err = r.ParseExpiresAt()
	require.NoError(t, err)
	require.Nil(t, expiry)

	r = &UploadFileRequest{ExpiresAt: "next tuesday"}
	_, err = r.ParseExpiresAt()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid expiresAt")
}
