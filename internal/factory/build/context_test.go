package build

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carboon/gameplatform/internal/factory/upload"
)

func readTar(t *testing.T, data []byte) map[string]string {
	t.Helper()
	files := map[string]string{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(content)
	}
	return files
}

func TestMaterializeJSContext(t *testing.T) {
	ctx, err := Materialize(Payload{Kind: upload.KindJS, JSCode: "module.exports = {};"}, "Room", "http://mm:9000")
	require.NoError(t, err)

	files := readTar(t, ctx.Tar)
	require.Contains(t, files, "Dockerfile")
	require.Contains(t, files, "user_game.js")
	assert.NotContains(t, files, "game/index.html")

	// Every COPY source must exist in the context or the build fails.
	assert.Contains(t, files["Dockerfile"], "COPY user_game.js ./user_game.js")
	assert.NotContains(t, files["Dockerfile"], "COPY game")
	assert.Contains(t, files["package.json"], "socket.io")
}

func TestMaterializeHTMLContext(t *testing.T) {
	payload := Payload{
		Kind:      upload.KindHTML,
		IndexHTML: "<html></html>",
	}
	ctx, err := Materialize(payload, "Room", "http://mm:9000")
	require.NoError(t, err)

	files := readTar(t, ctx.Tar)
	require.Contains(t, files, "game/index.html")
	assert.NotContains(t, files, "user_game.js")

	assert.Contains(t, files["Dockerfile"], "COPY game ./game")
	assert.NotContains(t, files["Dockerfile"], "user_game.js")
	assert.NotContains(t, files["package.json"], "socket.io")
}

func TestMaterializeZipPreservesAuxFiles(t *testing.T) {
	payload := Payload{
		Kind:      upload.KindZip,
		IndexHTML: "<html></html>",
		OtherFiles: map[string][]byte{
			"assets/style.css": []byte("body{}"),
		},
	}
	ctx, err := Materialize(payload, "Room", "http://mm:9000")
	require.NoError(t, err)

	files := readTar(t, ctx.Tar)
	assert.Contains(t, files, "game/index.html")
	assert.Equal(t, "body{}", files["game/assets/style.css"])
}

func TestPrepareUserCodeShimsMissingExports(t *testing.T) {
	shimmed := prepareUserCode("function initGame() { return {}; }")
	assert.Contains(t, shimmed, "module.exports")

	raw := "module.exports = { initGame: () => ({}) };"
	assert.Equal(t, raw, prepareUserCode(raw))
}

func TestServerTemplateWiresMatchmaker(t *testing.T) {
	js := serverTemplate(true, "Room", "http://mm:9000")
	assert.Contains(t, js, "user_game.js")
	assert.Contains(t, js, "/register")

	html := serverTemplate(false, "Room", "http://mm:9000")
	assert.False(t, strings.Contains(html, "user_game.js"))
	assert.Contains(t, html, "express.static")
}
