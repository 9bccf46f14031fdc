// Package upload implements the first pipeline stage: deciding
// whether a raw upload may proceed to static analysis (size ceiling,
// extension allow-list, UTF-8 decoding, ZIP structure).
package upload

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// Kind tags the recognized upload shapes.
type Kind string

const (
	KindJS   Kind = "js"
	KindHTML Kind = "html"
	KindZip  Kind = "zip"
)

// Metadata records what the validator learned about an accepted
// upload, consumed by the analyzer and image builder stages.
type Metadata struct {
	Kind          Kind
	FileCount     int
	TotalSize     int64
	IndexHTMLPath string // set only for Kind == KindZip
}

// Result is the validator's verdict.
type Result struct {
	Accepted bool
	Message  string
	Metadata Metadata
}

// Options configures the size ceilings and extension allow-list the
// caller enforces. The usual ceilings are 1 MiB for code uploads and
// 50 MiB for bundles.
type Options struct {
	MaxFileSize       int64
	MaxExtractSize    int64
	AllowedExtensions []string // empty means the default set
}

var defaultExtensions = []string{".js", ".mjs", ".html", ".htm", ".zip"}

func (o Options) extensionAllowed(ext string) bool {
	allowed := o.AllowedExtensions
	if len(allowed) == 0 {
		allowed = defaultExtensions
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func reject(format string, args ...any) Result {
	return Result{Accepted: false, Message: fmt.Sprintf(format, args...)}
}

// Validate runs the ordered upload checks, stopping at the first
// failure.
func Validate(filename string, content []byte, opts Options) Result {
	if len(content) == 0 {
		return reject("uploaded file is empty")
	}

	ext := strings.ToLower(path.Ext(filename))

	maxSize := opts.MaxFileSize
	if ext == ".html" || ext == ".htm" || ext == ".zip" {
		if opts.MaxExtractSize > maxSize {
			maxSize = opts.MaxExtractSize
		}
	}
	if int64(len(content)) > maxSize {
		return reject("file size %d exceeds maximum allowed size %d", len(content), maxSize)
	}

	if !opts.extensionAllowed(ext) {
		return reject("unsupported file extension %q", ext)
	}

	switch ext {
	case ".js", ".mjs":
		return validateJS(content)
	case ".html", ".htm":
		return validateHTML(content)
	case ".zip":
		return validateZip(content, opts.MaxExtractSize)
	default:
		return reject("unsupported file extension %q", ext)
	}
}

func validateJS(content []byte) Result {
	if !utf8.Valid(content) {
		return reject("file is not valid UTF-8 text")
	}
	return Result{
		Accepted: true,
		Message:  "upload accepted",
		Metadata: Metadata{Kind: KindJS, FileCount: 1, TotalSize: int64(len(content))},
	}
}

func validateHTML(content []byte) Result {
	if !utf8.Valid(content) {
		return reject("file is not valid UTF-8 text")
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return reject("HTML file is empty")
	}
	return Result{
		Accepted: true,
		Message:  "upload accepted",
		Metadata: Metadata{Kind: KindHTML, FileCount: 1, TotalSize: int64(len(content))},
	}
}

func validateZip(content []byte, maxExtractSize int64) Result {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return reject("not a valid zip archive: %v", err)
	}

	var totalUncompressed int64
	var indexPath string
	var indexContent []byte

	for _, f := range reader.File {
		totalUncompressed += int64(f.UncompressedSize64)
		if strings.EqualFold(path.Base(f.Name), "index.html") && indexPath == "" {
			indexPath = f.Name
			rc, openErr := f.Open()
			if openErr != nil {
				return reject("failed to read %s from archive: %v", f.Name, openErr)
			}
			buf := new(bytes.Buffer)
			if _, copyErr := buf.ReadFrom(rc); copyErr != nil {
				rc.Close()
				return reject("failed to read %s from archive: %v", f.Name, copyErr)
			}
			rc.Close()
			indexContent = buf.Bytes()
		}
	}

	if indexPath == "" {
		return reject("zip archive does not contain an index.html entry")
	}
	if totalUncompressed > maxExtractSize {
		return reject("zip archive uncompressed size %d exceeds maximum %d", totalUncompressed, maxExtractSize)
	}
	if !utf8.Valid(indexContent) {
		return reject("index.html is not valid UTF-8 text")
	}

	return Result{
		Accepted: true,
		Message:  "upload accepted",
		Metadata: Metadata{
			Kind:          KindZip,
			FileCount:     len(reader.File),
			TotalSize:     totalUncompressed,
			IndexHTMLPath: indexPath,
		},
	}
}
