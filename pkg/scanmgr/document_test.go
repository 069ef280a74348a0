package scanmgr

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testPage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}

	return img
}

func testDocument() Document {
	return Document{
		Person:   "Jane Doe",
		Title:    "Lease agreement",
		Received: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		Type:     "Contract",
	}
}

func TestDocumentWriterWrite(t *testing.T) {
	root := filepath.Join(t.TempDir(), "documents")
	dw := NewDocumentWriter(zaptest.NewLogger(t).Sugar(), root, 90)

	dir, err := dw.Write(testDocument(), []image.Image{
		testPage(color.White),
		testPage(color.Black),
	})
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(dir))

	doc, pages, err := ReadManifest(dir)
	require.NoError(t, err)

	if diff := cmp.Diff(testDocument(), doc); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"page-001.jpg", "page-002.jpg"}, pages)

	for _, name := range pages {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err)

		cfg, err := jpeg.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)

		assert.Equal(t, 16, cfg.Width)
		assert.Equal(t, 8, cfg.Height)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestDocumentWriterRefusesEmpty(t *testing.T) {
	root := t.TempDir()
	dw := NewDocumentWriter(zaptest.NewLogger(t).Sugar(), root, 90)

	_, err := dw.Write(testDocument(), nil)
	assert.ErrorIs(t, err, ErrNoPages)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDocumentWriterRetriesCollisions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "taken"), 0o755))

	dw := NewDocumentWriter(zaptest.NewLogger(t).Sugar(), root, 90)

	ids := []string{"taken", "taken", "fresh"}
	dw.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	dir, err := dw.Write(testDocument(), []image.Image{testPage(color.White)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "fresh"), dir)

	t.Run("gives up", func(t *testing.T) {
		dw.newID = func() string { return "taken" }

		_, err := dw.Write(testDocument(), []image.Image{testPage(color.White)})
		assert.ErrorIs(t, err, ErrNoDirectory)
	})
}

func TestDocumentWriterCleansUpOnFailure(t *testing.T) {
	root := t.TempDir()
	dw := NewDocumentWriter(zaptest.NewLogger(t).Sugar(), root, 90)

	// too wide for the JPEG encoder
	tooLarge := image.NewRGBA(image.Rect(0, 0, 1<<16, 1))

	_, err := dw.Write(testDocument(), []image.Image{testPage(color.White), tooLarge})
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadManifestMissing(t *testing.T) {
	_, _, err := ReadManifest(t.TempDir())
	assert.Error(t, err)
}
