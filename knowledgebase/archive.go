package knowledgebase

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	rardecode "github.com/nwaples/rardecode/v2"
)

const (
	maxArchiveBytes  int64 = 200 << 20
	maxDocumentBytes int64 = 5 << 20
	maxArchiveFiles        = 500

	archiveZip = "zip"
	archiveRar = "rar"
)

var (
	ErrUnsupportedArchive = errors.New("knowledgebase: only .zip and .rar archives are accepted")
	ErrEmptyArchive       = errors.New("knowledgebase: archive contains no .txt, .md or .html documents")
)

// ArchiveDocument is one text document read from an import archive.
type ArchiveDocument struct {
	Name    string
	Content []byte
}

// ReadArchive extracts the text documents of a zip or rar archive. Other
// entries are skipped.
func ReadArchive(data []byte, filename string) ([]ArchiveDocument, error) {
	if int64(len(data)) > maxArchiveBytes {
		return nil, fmt.Errorf("knowledgebase: archive size exceeds %d bytes", maxArchiveBytes)
	}
	var (
		docs []ArchiveDocument
		err  error
	)
	switch detectArchive(data, filename) {
	case archiveZip:
		docs, err = readZip(data)
	case archiveRar:
		docs, err = readRar(data)
	default:
		return nil, ErrUnsupportedArchive
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyArchive
	}
	return docs, nil
}

func readZip(data []byte) ([]ArchiveDocument, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: parse zip archive: %w", err)
	}
	var docs []ArchiveDocument
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		name, err := archiveEntryName(file.Name)
		if err != nil {
			return nil, err
		}
		if name == "" || !isTextDocument(name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("knowledgebase: open entry %s: %w", name, err)
		}
		content, err := readLimited(rc, name)
		rc.Close()
		if err != nil {
			return nil, err
		}
		docs = append(docs, ArchiveDocument{Name: name, Content: content})
		if len(docs) > maxArchiveFiles {
			return nil, fmt.Errorf("knowledgebase: archive holds more than %d documents", maxArchiveFiles)
		}
	}
	return docs, nil
}

func readRar(data []byte) ([]ArchiveDocument, error) {
	reader, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: parse rar archive: %w", err)
	}
	var docs []ArchiveDocument
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("knowledgebase: read rar entry: %w", err)
		}
		if header.IsDir {
			continue
		}
		name, err := archiveEntryName(header.Name)
		if err != nil {
			return nil, err
		}
		if name == "" || !isTextDocument(name) {
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return nil, fmt.Errorf("knowledgebase: skip rar entry: %w", err)
			}
			continue
		}
		content, err := readLimited(reader, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, ArchiveDocument{Name: name, Content: content})
		if len(docs) > maxArchiveFiles {
			return nil, fmt.Errorf("knowledgebase: archive holds more than %d documents", maxArchiveFiles)
		}
	}
	return docs, nil
}

func readLimited(r io.Reader, name string) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: read entry %s: %w", name, err)
	}
	if int64(len(content)) > maxDocumentBytes {
		return nil, fmt.Errorf("knowledgebase: entry %s exceeds %d bytes", name, maxDocumentBytes)
	}
	return content, nil
}

func detectArchive(data []byte, filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".zip":
		return archiveZip
	case ".rar":
		return archiveRar
	}
	switch {
	case bytes.HasPrefix(data, []byte{0x50, 0x4b, 0x03, 0x04}):
		return archiveZip
	case bytes.HasPrefix(data, []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}):
		return archiveRar
	}
	return ""
}

// archiveEntryName cleans an entry path. Traversal is an error; macOS
// resource forks and dotfiles yield "".
func archiveEntryName(name string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if normalized == "" {
		return "", nil
	}
	normalized = strings.TrimPrefix(path.Clean(normalized), "./")
	if normalized == "." {
		return "", nil
	}
	if normalized == ".." || strings.HasPrefix(normalized, "../") || strings.HasPrefix(normalized, "/") {
		return "", fmt.Errorf("knowledgebase: archive entry %q escapes the archive", name)
	}
	if strings.HasPrefix(strings.ToLower(normalized), "__macosx/") || strings.HasPrefix(path.Base(normalized), ".") {
		return "", nil
	}
	return normalized, nil
}

func isTextDocument(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".md", ".markdown", ".html", ".htm":
		return true
	}
	return false
}

func isHTMLDocument(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// documentTitle derives an item title from an archive path.
func documentTitle(name string) string {
	base := path.Base(name)
	if title := strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base))); title != "" {
		return title
	}
	return base
}
