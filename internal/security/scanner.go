// Package security screens uploaded blobs before they reach storage and
// provides symmetric encryption for blobs at rest. Screening is heuristic:
// it catches mislabeled, malformed, and obviously hostile content, not
// signature-grade malware.
package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"file-service/internal/utils"
)

// ScanPolicy is the slice of configuration the scanner acts on.
type ScanPolicy struct {
	MaxFileSize       int64
	BlockedExtensions []string
	VirusScanning     bool
	ContentValidation bool
	Encryption        bool
}

// ScanDetails records which optional checks ran plus the input checksum.
type ScanDetails struct {
	VirusScanned     bool   `json:"virusScanned"`
	ContentValidated bool   `json:"contentValidated"`
	Encrypted        bool   `json:"encrypted"`
	Checksum         string `json:"checksum"`
}

// Report is the outcome of ScreenFile. The checksum is present whether or
// not the file passed, so rejected uploads still leave an audit trail.
type Report struct {
	Passed      bool        `json:"passed"`
	Errors      []string    `json:"errors"`
	Warnings    []string    `json:"warnings"`
	ScanDetails ScanDetails `json:"scanDetails"`
}

const (
	entropyWarnThreshold = 7.5
	minImageSize         = 100              // bytes
	maxTextSize          = 10 * 1024 * 1024 // bytes
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"text/csv":           true,
	"text/html":          true,
	"application/json":   true,
	"application/zip":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/octet-stream": true,
}

// Declared types already compressed or encrypted, where high entropy is
// expected rather than suspicious.
var highEntropyMimes = map[string]bool{
	"image/jpeg":                   true,
	"image/png":                    true,
	"image/gif":                    true,
	"image/webp":                   true,
	"application/zip":              true,
	"application/gzip":             true,
	"application/x-rar-compressed": true,
	"application/x-7z-compressed":  true,
	"application/pdf":              true,
	"video/mp4":                    true,
	"video/webm":                   true,
	"video/mpeg":                   true,
	"application/octet-stream":     true,
}

var executableExtensions = map[string]bool{
	"exe": true,
	"bat": true,
	"cmd": true,
	"com": true,
	"scr": true,
	"msi": true,
	"dll": true,
	"jar": true,
	"sh":  true,
	"ps1": true,
	"vbs": true,
}

var suspiciousNameParts = []string{
	"virus",
	"malware",
	"trojan",
	"backdoor",
	"keylog",
	"ransom",
	"exploit",
	"payload",
}

var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bdocument\.(write|cookie|createElement)`),
	regexp.MustCompile(`(?i)\bwindow\.(location|open)`),
	regexp.MustCompile(`(?i)\bon(error|load|click)\s*=`),
}

// ScreenFile runs every check against the blob and returns the combined
// report. Checks never short-circuit: a file that fails size validation is
// still screened for everything else, so the caller sees all violations at
// once. The report fails iff at least one check recorded an error.
func ScreenFile(data []byte, declaredMime, filename string, policy ScanPolicy) *Report {
	report := &Report{
		Errors:   []string{},
		Warnings: []string{},
		ScanDetails: ScanDetails{
			VirusScanned:     policy.VirusScanning,
			ContentValidated: policy.ContentValidation,
			Encrypted:        policy.Encryption,
		},
	}

	if policy.MaxFileSize > 0 && int64(len(data)) > policy.MaxFileSize {
		report.Errors = append(report.Errors,
			fmt.Sprintf("file size %s exceeds maximum allowed size %s",
				utils.FormatFileSize(int64(len(data))), utils.FormatFileSize(policy.MaxFileSize)))
	}

	ext := utils.GetFileExtension(filename)
	for _, blocked := range policy.BlockedExtensions {
		if ext == strings.TrimPrefix(strings.ToLower(blocked), ".") {
			report.Errors = append(report.Errors, fmt.Sprintf("file extension .%s is blocked", ext))
			break
		}
	}

	if !allowedMimeTypes[declaredMime] {
		report.Errors = append(report.Errors, fmt.Sprintf("mime type %s is not allowed", declaredMime))
	}

	if policy.ContentValidation {
		if !validMagicBytes(declaredMime, data) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("file content does not match declared mime type %s", declaredMime))
		}
		if isTextMime(declaredMime) {
			if bytes.IndexByte(data, 0x00) >= 0 {
				report.Errors = append(report.Errors, "text file contains null bytes")
			}
			for _, pattern := range scriptPatterns {
				if pattern.Match(data) {
					report.Errors = append(report.Errors,
						fmt.Sprintf("file contains suspicious pattern: %s", pattern.String()))
				}
			}
		}
	}

	if policy.VirusScanning {
		lower := strings.ToLower(filename)
		for _, part := range suspiciousNameParts {
			if strings.Contains(lower, part) {
				report.Errors = append(report.Errors,
					fmt.Sprintf("filename contains suspicious term %q", part))
			}
		}

		if exeExt, found := doubleExtension(filename); found {
			report.Errors = append(report.Errors,
				fmt.Sprintf("double extension detected: .%s in %s", exeExt, filename))
		}

		if utils.IsImageMimeType(declaredMime) && len(data) < minImageSize {
			report.Errors = append(report.Errors,
				fmt.Sprintf("image file is suspiciously small: %d bytes", len(data)))
		}
		if isTextMime(declaredMime) && len(data) > maxTextSize {
			report.Errors = append(report.Errors,
				fmt.Sprintf("text file is suspiciously large: %s", utils.FormatFileSize(int64(len(data)))))
		}
	}

	if entropy := ShannonEntropy(data); entropy > entropyWarnThreshold && !highEntropyMimes[declaredMime] {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("high entropy content (%.2f bits/byte) may be encrypted or packed", entropy))
	}

	sum := sha256.Sum256(data)
	report.ScanDetails.Checksum = hex.EncodeToString(sum[:])

	report.Passed = len(report.Errors) == 0
	return report
}

// validMagicBytes checks the leading bytes against the canonical signature
// for the declared type. Types without a known signature pass.
func validMagicBytes(mime string, data []byte) bool {
	switch mime {
	case "image/jpeg":
		return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
	case "image/png":
		return len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47})
	case "application/pdf":
		return len(data) >= 4 && bytes.Equal(data[:4], []byte("%PDF"))
	case "image/gif":
		return len(data) >= 6 &&
			(bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a")))
	case "image/webp":
		return len(data) >= 12 &&
			bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
	default:
		return true
	}
}

// doubleExtension reports whether a filename with stacked extensions hides
// an executable one, e.g. invoice.pdf.exe.
func doubleExtension(filename string) (string, bool) {
	parts := strings.Split(strings.ToLower(filename), ".")
	if len(parts) <= 2 {
		return "", false
	}
	for _, part := range parts[1:] {
		if executableExtensions[part] {
			return part, true
		}
	}
	return "", false
}

func isTextMime(mime string) bool {
	return strings.HasPrefix(mime, "text/") ||
		mime == "application/json" ||
		mime == "application/xml" ||
		mime == "application/javascript"
}

// ShannonEntropy returns the entropy of data in bits per byte: 0 for a
// constant buffer, approaching 8 for uniformly random bytes.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
