package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Document is the ingest unit handed to the engine. It is transient: only
// its chunks are persisted, linked back through RID as their full_doc_id,
// with Source carried as each chunk's file_path.
type Document struct {
	RID     uuid.UUID `json:"rid"`
	Title   string    `json:"title"`
	Source  string    `json:"source,omitempty"`
	Content string    `json:"content"`
}

// NewDocumentFromFile reads filePath into a Document. The title defaults to
// the filename without its extension, the source to the path itself.
func NewDocumentFromFile(filePath string) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if title == "" {
		title = filename
	}

	return &Document{
		Title:   title,
		Source:  filePath,
		Content: string(content),
	}, nil
}
