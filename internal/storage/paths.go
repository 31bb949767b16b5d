package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Object path layout. All paths are pure functions of their inputs so that
// every component derives the same location for a given file without shared
// state:
//
//	{companies/{companyID}/}uploads/{yyyy}/{mm}/{dd}/{fileID}{ext}
//	{dir}/thumbnails/{name}_thumb.jpg
//	metadata/{fileID}.json
//	versions/{fileID}/{version}/file
//	versions/{fileID}/{version}/metadata.json

// ObjectPath builds the canonical blob path for a file uploaded at the given
// time. ext must include its leading dot (or be empty).
func ObjectPath(fileID, ext, companyID string, uploadedAt time.Time) string {
	datePart := fmt.Sprintf("uploads/%04d/%02d/%02d", uploadedAt.Year(), uploadedAt.Month(), uploadedAt.Day())
	name := fileID + strings.ToLower(ext)
	if companyID != "" {
		return path.Join("companies", companyID, datePart, name)
	}
	return path.Join(datePart, name)
}

// ThumbnailPath derives the thumbnail location from a blob path. Thumbnails
// live in a thumbnails/ directory next to the blob and are always JPEG.
func ThumbnailPath(objectPath string) string {
	dir := path.Dir(objectPath)
	name := path.Base(objectPath)
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return path.Join(dir, "thumbnails", name+"_thumb.jpg")
}

// MetadataPath is the location of a file's JSON metadata sidecar.
func MetadataPath(fileID string) string {
	return path.Join("metadata", fileID+".json")
}

// VersionBlobPath is the location of a named version's content.
func VersionBlobPath(fileID, version string) string {
	return path.Join("versions", fileID, version, "file")
}

// VersionMetaPath is the location of a named version's metadata sidecar.
func VersionMetaPath(fileID, version string) string {
	return path.Join("versions", fileID, version, "metadata.json")
}

// VersionPrefix is the prefix holding every version of a file.
func VersionPrefix(fileID string) string {
	return path.Join("versions", fileID) + "/"
}
