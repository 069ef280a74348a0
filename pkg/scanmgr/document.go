package scanmgr

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nik9play/scanmgr/pkg/scanmgr/util"
)

const (
	manifestFilename    = "document.toml"
	pageFilenamePattern = "page-%03d.jpg"
	maxDirectoryTries   = 100
)

var (
	// ErrNoPages is returned when saving a document without pages
	ErrNoPages = errors.New("document has no pages")

	// ErrNoDirectory is returned when no unused document directory could be created
	ErrNoDirectory = errors.New("cannot create a new document directory")
)

// Document describes a scanned document
type Document struct {
	Person   string
	Title    string
	Received time.Time
	Type     string
}

type documentManifest struct {
	Person   string    `toml:"person"`
	Title    string    `toml:"title"`
	Received string    `toml:"received"`
	Type     string    `toml:"type"`
	Created  time.Time `toml:"created"`
	Pages    []string  `toml:"pages"`
}

// DocumentWriter stores documents as a directory of JPEG pages plus a manifest
type DocumentWriter struct {
	logger  *zap.SugaredLogger
	root    string
	quality int

	newID func() string
	now   func() time.Time
}

// NewDocumentWriter creates a DocumentWriter that writes below root
func NewDocumentWriter(logger *zap.SugaredLogger, root string, quality int) *DocumentWriter {
	logger = logger.Named("document")

	dw := &DocumentWriter{
		logger:  logger,
		root:    root,
		quality: quality,
		newID:   uuid.NewString,
		now:     time.Now,
	}

	logger.Debugw("Created document writer instance", "root", root, "quality", quality)

	return dw
}

// Write stores doc with its pages and returns the document directory. On failure
// nothing is left behind.
func (dw *DocumentWriter) Write(doc Document, pages []image.Image) (_ string, err error) {
	if len(pages) == 0 {
		return "", ErrNoPages
	}

	if err := util.EnsureDirExists(dw.root); err != nil {
		return "", fmt.Errorf("create output root: %w", err)
	}

	dir, err := dw.createDirectory()
	if err != nil {
		return "", err
	}

	defer func() {
		if err == nil {
			return
		}

		if removeErr := os.RemoveAll(dir); removeErr != nil {
			dw.logger.Warnw("Failed to remove incomplete document", "path", dir, "error", removeErr)
		}
	}()

	manifest := documentManifest{
		Person:   doc.Person,
		Title:    doc.Title,
		Received: doc.Received.Format(jobDateLayout),
		Type:     doc.Type,
		Created:  dw.now().UTC().Truncate(time.Second),
	}

	for idx, page := range pages {
		name := fmt.Sprintf(pageFilenamePattern, idx+1)

		if err := dw.writePage(filepath.Join(dir, name), page); err != nil {
			return "", fmt.Errorf("write page %d: %w", idx+1, err)
		}

		manifest.Pages = append(manifest.Pages, name)
	}

	err = util.WriteFileAtomic(filepath.Join(dir, manifestFilename), func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(manifest)
	})
	if err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	dw.logger.Infow("Document written", "path", dir, "pages", len(pages))

	return dir, nil
}

func (dw *DocumentWriter) createDirectory() (string, error) {
	for attempt := 0; attempt < maxDirectoryTries; attempt++ {
		path := filepath.Join(dw.root, dw.newID())

		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create document directory: %w", err)
		}

		dw.logger.Debugw("Document directory exists, retrying", "path", path)
	}

	return "", ErrNoDirectory
}

func (dw *DocumentWriter) writePage(path string, page image.Image) error {
	err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return jpeg.Encode(w, page, &jpeg.Options{Quality: dw.quality})
	})
	if err != nil {
		return fmt.Errorf("write jpeg: %w", err)
	}

	return nil
}

// ReadManifest loads the manifest of a saved document
func ReadManifest(dir string) (Document, []string, error) {
	var manifest documentManifest
	if _, err := toml.DecodeFile(filepath.Join(dir, manifestFilename), &manifest); err != nil {
		return Document{}, nil, fmt.Errorf("read manifest: %w", err)
	}

	received, err := time.Parse(jobDateLayout, manifest.Received)
	if err != nil {
		return Document{}, nil, fmt.Errorf("parse received date: %w", err)
	}

	doc := Document{
		Person:   manifest.Person,
		Title:    manifest.Title,
		Received: received,
		Type:     manifest.Type,
	}

	return doc, manifest.Pages, nil
}
