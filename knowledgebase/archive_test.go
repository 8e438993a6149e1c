package knowledgebase

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func TestReadArchiveKeepsTextDocuments(t *testing.T) {
	data := buildZip(t, map[string]string{
		"guides/waste.md":         "# Waste\nCollected weekly.",
		"guides/parking.html":     "<html><body><p>Permits</p></body></html>",
		"logo.png":                "\x89PNG",
		"__MACOSX/guides/._waste": "junk",
		"guides/.DS_Store":        "junk",
		"notes/opening-hours.txt": "Mon-Fri 9-17",
	})

	docs, err := ReadArchive(data, "bundle.zip")
	require.NoError(t, err)

	names := map[string]string{}
	for _, doc := range docs {
		names[doc.Name] = string(doc.Content)
	}
	assert.Len(t, names, 3)
	assert.Contains(t, names, "guides/waste.md")
	assert.Contains(t, names, "guides/parking.html")
	assert.Equal(t, "Mon-Fri 9-17", names["notes/opening-hours.txt"])
}

func TestReadArchiveDetectsByMagic(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "hello"})
	docs, err := ReadArchive(data, "upload")
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestReadArchiveRejects(t *testing.T) {
	_, err := ReadArchive([]byte("plain text"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedArchive)

	_, err = ReadArchive(buildZip(t, map[string]string{"image.png": "x"}), "only-images.zip")
	assert.ErrorIs(t, err, ErrEmptyArchive)

	_, err = ReadArchive(buildZip(t, map[string]string{"../escape.txt": "x"}), "evil.zip")
	assert.Error(t, err)
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "opening-hours", documentTitle("notes/opening-hours.txt"))
	assert.Equal(t, ".md", documentTitle(".md"))
}
