package upload

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() Options {
	return Options{MaxFileSize: 1 << 20, MaxExtractSize: 50 << 20}
}

func TestValidateEmptyRejected(t *testing.T) {
	r := Validate("game.js", []byte{}, defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateSizeBoundary(t *testing.T) {
	exact := bytes.Repeat([]byte("a"), int(defaultOpts().MaxFileSize))
	r := Validate("game.js", exact, defaultOpts())
	assert.True(t, r.Accepted)

	overLimit := append(exact, 'a')
	r = Validate("game.js", overLimit, defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateUnsupportedExtension(t *testing.T) {
	r := Validate("game.exe", []byte("binary"), defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateConfiguredExtensionList(t *testing.T) {
	opts := Options{MaxFileSize: 1 << 20, MaxExtractSize: 50 << 20, AllowedExtensions: []string{".js"}}
	r := Validate("game.js", []byte("module.exports = {};"), opts)
	assert.True(t, r.Accepted)

	r = Validate("index.html", []byte("<html></html>"), opts)
	assert.False(t, r.Accepted)
}

func TestValidateJSRequiresUTF8(t *testing.T) {
	invalid := []byte{0xff, 0xfe, 0xfd}
	r := Validate("game.js", invalid, defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateHTMLRejectsBlank(t *testing.T) {
	r := Validate("index.html", []byte("   \n\t  "), defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateHTMLAccepted(t *testing.T) {
	r := Validate("index.html", []byte("<html></html>"), defaultOpts())
	require.True(t, r.Accepted)
	assert.Equal(t, KindHTML, r.Metadata.Kind)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestValidateZipRequiresIndexHTML(t *testing.T) {
	z := buildZip(t, map[string]string{"styles.css": "body{}"})
	r := Validate("bundle.zip", z, defaultOpts())
	assert.False(t, r.Accepted)
}

func TestValidateZipAcceptedCaseInsensitive(t *testing.T) {
	z := buildZip(t, map[string]string{
		"assets/INDEX.HTML": "<html>hi</html>",
		"assets/style.css":  "body{}",
	})
	r := Validate("bundle.zip", z, defaultOpts())
	require.True(t, r.Accepted)
	assert.Equal(t, KindZip, r.Metadata.Kind)
	assert.True(t, strings.HasSuffix(strings.ToLower(r.Metadata.IndexHTMLPath), "index.html"))
	assert.Equal(t, 2, r.Metadata.FileCount)
}

func TestValidateZipExtractSizeCeiling(t *testing.T) {
	big := strings.Repeat("x", 2048)
	z := buildZip(t, map[string]string{"index.html": big})
	r := Validate("bundle.zip", z, Options{MaxFileSize: 1 << 20, MaxExtractSize: 1024})
	assert.False(t, r.Accepted)
}

func TestValidateZipNotAnArchive(t *testing.T) {
	r := Validate("bundle.zip", []byte("not a zip"), defaultOpts())
	assert.False(t, r.Accepted)
}
