package upload

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
)

// Extracted holds a validated zip bundle's contents ready for the
// build context: the index.html body plus every other entry verbatim.
type Extracted struct {
	IndexHTML string
	Others    map[string][]byte
}

// ExtractZip re-reads an already-validated zip archive and splits it
// into its index.html body and the remaining files, preserved
// verbatim, for the image builder's game/ directory.
func ExtractZip(content []byte, indexHTMLPath string) (Extracted, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Extracted{}, fmt.Errorf("not a valid zip archive: %w", err)
	}

	out := Extracted{Others: map[string][]byte{}}

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Extracted{}, fmt.Errorf("read %s from archive: %w", f.Name, err)
		}
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return Extracted{}, fmt.Errorf("read %s from archive: %w", f.Name, err)
		}

		if f.Name == indexHTMLPath {
			out.IndexHTML = buf.String()
			continue
		}
		out.Others[strings.TrimPrefix(path.Clean(f.Name), "/")] = buf.Bytes()
	}

	return out, nil
}
