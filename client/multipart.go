package client

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// File is one file part of a multipart body. Content is used when set;
// otherwise the file at Path is read when the request is built.
type File struct {
	Field    string // form field name
	Name     string // file name, defaults to the base name of Path
	Path     string
	Content  []byte
	MIMEType string // detected from the file name when empty

	field bool // plain form field, see FormField
}

// FormField is a plain text part of a multipart body.
func FormField(name, value string) File {
	return File{Field: name, Content: []byte(value), field: true}
}

// FileFromPath uploads the file at path under field.
func FileFromPath(field, path string) File {
	return File{Field: field, Path: path}
}

// FileFromBytes uploads content under field with the given file name.
func FileFromBytes(field, name string, content []byte) File {
	return File{Field: field, Name: name, Content: content}
}

// encodeMultipart encodes the parts, in order, as multipart/form-data.
// Returns the body bytes and the Content-Type header value (with boundary)
func encodeMultipart(files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, file := range files {
		if file.field {
			if err := writer.WriteField(file.Field, string(file.Content)); err != nil {
				return nil, "", fmt.Errorf("failed to write field %s: %w", file.Field, err)
			}
			continue
		}
		content := file.Content
		name := file.Name
		if content == nil && file.Path != "" {
			data, err := os.ReadFile(file.Path)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read file for %s: %w", file.Field, err)
			}
			content = data
			if name == "" {
				name = filepath.Base(file.Path)
			}
		}
		mimeType := file.MIMEType
		if mimeType == "" {
			mimeType = detectMIMEType(name)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(file.Field), escapeQuotes(name)))
		h.Set("Content-Type", mimeType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part for %s: %w", file.Field, err)
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", fmt.Errorf("failed to write file content for %s: %w", file.Field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"", "\r", "", "\n", "")

// escapeQuotes escapes a value for a quoted Content-Disposition parameter
func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".txt":  "text/plain",
	".csv":  "text/csv",

	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",

	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".mp4": "video/mp4",
	".pdf": "application/pdf",
	".zip": "application/zip",
	".gz":  "application/gzip",
}

// detectMIMEType detects MIME type from filename
func detectMIMEType(filename string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mime
	}
	return "application/octet-stream"
}
