package report

import (
	"archive/zip"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProducesValidPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "deepsearch_1.docx")
	doc := &Document{
		Title: "Deep Search Report: ports & banks",
		Sections: []Section{
			{Heading: "What is A?", Body: "A is the first thing.\n## Detail\nWith <markup> to escape."},
			{Heading: "What is B?", Body: "B follows A."},
		},
		Conclusion: "They are related.",
	}
	require.NoError(t, Write(path, doc))

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	parts := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		parts[f.Name] = string(content)
	}

	require.Contains(t, parts, "[Content_Types].xml")
	require.Contains(t, parts, "_rels/.rels")
	require.Contains(t, parts, "word/styles.xml")
	require.Contains(t, parts, "word/document.xml")

	body := parts["word/document.xml"]
	assert.Contains(t, body, `w:val="Heading1"`)
	assert.Contains(t, body, `w:val="Heading2"`)
	assert.Contains(t, body, "Deep Search Report: ports &amp; banks", "ampersand escaped")
	assert.Contains(t, body, "&lt;markup&gt;", "angle brackets escaped")
	assert.Contains(t, body, "Detail", "markdown heading promoted to a styled paragraph")
	assert.Contains(t, body, "Conclusion")
	assert.NotContains(t, body, "## Detail", "markdown prefix stripped once styled")
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "report.docx")
	require.NoError(t, Write(path, &Document{Title: "t"}))

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	r.Close()
}
