package utils

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/mediscan/mediscan-server/cmd/apperr"
)

const MaxImageSize = 10 << 20 // 10 MB

// Image is an uploaded X-ray read fully into memory so it can be sent to
// storage and to the captioning service.
type Image struct {
	Filename    string
	Ext         string
	ContentType string
	Data        []byte
}

func (i Image) Reader() io.Reader { return bytes.NewReader(i.Data) }

// ReadImage validates the extension, size and sniffed content type of an
// uploaded file.
func ReadImage(file multipart.File, header *multipart.FileHeader) (Image, error) {
	if header.Size > MaxImageSize {
		return Image{}, apperr.InvalidInput(fmt.Sprintf("file size exceeds maximum limit of %d MB", MaxImageSize/(1<<20)), nil)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !isValidImageType(ext) {
		return Image{}, apperr.InvalidInput(fmt.Sprintf("invalid file type: %s", ext), nil)
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		return Image{}, apperr.InvalidInput("failed to read upload", err)
	}
	if len(data) == 0 {
		return Image{}, apperr.InvalidInput("uploaded file is empty", nil)
	}
	if len(data) > MaxImageSize {
		return Image{}, apperr.InvalidInput(fmt.Sprintf("file size exceeds maximum limit of %d MB", MaxImageSize/(1<<20)), nil)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, apperr.InvalidInput("uploaded file is not an image", nil)
	}

	return Image{Filename: filepath.Base(header.Filename), Ext: ext, ContentType: contentType, Data: data}, nil
}

func isValidImageType(ext string) bool {
	validTypes := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
	}
	return validTypes[ext]
}
