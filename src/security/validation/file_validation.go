package validation

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/optionslog/backend/src/logger"
)

// attachmentTypes maps each accepted sniffed content type to the extension it is stored under.
var attachmentTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// sniffContentType reads up to 512 bytes, rewinds file and returns the
// detected media type without parameters.
func sniffContentType(file io.ReadSeeker, what string) (string, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(file, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read %s: %w", what, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind %s: %w", what, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrValidationFailed, what)
	}
	return strings.ToLower(strings.TrimSpace(strings.Split(http.DetectContentType(buffer[:n]), ";")[0])), nil
}

// ValidateAttachment sniffs the first 512 bytes of file and accepts only
// screenshots, PDFs and plain text. The file is rewound before returning.
// It returns the detected content type and the extension to store it under.
func ValidateAttachment(file io.ReadSeeker, filename string) (string, string, error) {
	if file == nil {
		return "", "", fmt.Errorf("%w: attachment is missing", ErrValidationFailed)
	}

	detected, err := sniffContentType(file, "attachment")
	if err != nil {
		return "", "", err
	}
	ext, ok := attachmentTypes[detected]
	if !ok {
		logger.L.Warn("Attachment rejected", "detectedContentType", detected, "filename", filename)
		return detected, "", fmt.Errorf("%w: attachment type '%s' is not allowed", ErrValidationFailed, detected)
	}
	if ext == ".jpg" && strings.EqualFold(filepath.Ext(filename), ".jpeg") {
		ext = ".jpeg"
	}
	return detected, ext, nil
}

// ValidateImportFile accepts a trade log only if it looks like text and
// carries a .csv or .txt name.
func ValidateImportFile(file io.ReadSeeker, filename string) error {
	if file == nil {
		return fmt.Errorf("%w: file is missing", ErrValidationFailed)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
	default:
		return fmt.Errorf("%w: only .csv files can be imported", ErrValidationFailed)
	}
	detected, err := sniffContentType(file, "file")
	if err != nil {
		return err
	}
	if detected != "text/plain" {
		logger.L.Warn("Import file rejected", "detectedContentType", detected, "filename", filename)
		return fmt.Errorf("%w: file type '%s' is not allowed", ErrValidationFailed, detected)
	}
	return nil
}
