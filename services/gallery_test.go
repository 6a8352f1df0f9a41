package services

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nemezkarl-source/DD5KA/config"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestGallery(t *testing.T) (*GalleryService, string) {
	t.Helper()
	root := t.TempDir()
	snaps := filepath.Join(root, "snaps")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}

	storage, err := NewStorage(filepath.Join(root, "panel.db"))
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	cfg := config.GallerySettings{
		SnapsDir:  snaps,
		ThumbDir:  filepath.Join(root, "thumbs"),
		ThumbSide: 160,
	}
	g, err := NewGalleryService(cfg, storage)
	if err != nil {
		t.Fatalf("creating gallery: %v", err)
	}
	return g, snaps
}

func writeSnap(t *testing.T, snaps string, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(snaps, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGalleryRescanAndIndex(t *testing.T) {
	g, snaps := newTestGallery(t)
	data := testJPEG(t)

	for i := 0; i < 5; i++ {
		writeSnap(t, snaps, fmt.Sprintf("2025/08/30/%d_abc%d.jpg", 1756500000+i, i), data)
	}
	writeSnap(t, snaps, "2025/08/30/notes.txt", []byte("not a snapshot"))

	n, err := g.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if n != 5 {
		t.Fatalf("indexed %d files, want 5", n)
	}

	page, err := g.Index(0, 3)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if page.Total != 5 || len(page.Files) != 3 {
		t.Fatalf("page = total %d, files %d; want 5 and 3", page.Total, len(page.Files))
	}
	// Newest first by embedded timestamp.
	if page.Files[0].TS < page.Files[1].TS {
		t.Fatalf("page not sorted newest first: %d before %d", page.Files[0].TS, page.Files[1].TS)
	}

	rest, err := g.Index(3, 3)
	if err != nil {
		t.Fatalf("Index offset: %v", err)
	}
	if len(rest.Files) != 2 {
		t.Fatalf("second page = %d files, want 2", len(rest.Files))
	}
}

func TestGalleryRescanReplacesIndex(t *testing.T) {
	g, snaps := newTestGallery(t)
	data := testJPEG(t)

	writeSnap(t, snaps, "2025/08/30/1756500000_aaa.jpg", data)
	if _, err := g.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	if err := os.Remove(filepath.Join(snaps, "2025", "08", "30", "1756500000_aaa.jpg")); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Rescan(); err != nil {
		t.Fatalf("second Rescan: %v", err)
	}

	page, err := g.Index(0, 10)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("total = %d after removing the only file", page.Total)
	}
}

func TestGalleryResolveRejectsTraversal(t *testing.T) {
	g, _ := newTestGallery(t)

	if _, err := g.Resolve("../panel.db"); err == nil {
		t.Fatal("traversal path resolved")
	}
	if _, err := g.Resolve("2025/../../etc/passwd"); err == nil {
		t.Fatal("nested traversal path resolved")
	}
	if _, err := g.Resolve("2025/08/30/1756500000_aaa.jpg"); err != nil {
		t.Fatalf("legitimate path rejected: %v", err)
	}
}

func TestGalleryThumbGeneratedAndCached(t *testing.T) {
	g, snaps := newTestGallery(t)
	rel := "2025/08/30/1756500000_aaa.jpg"
	writeSnap(t, snaps, rel, testJPEG(t))

	thumb, err := g.Thumb(rel)
	if err != nil {
		t.Fatalf("Thumb: %v", err)
	}
	fi, err := os.Stat(thumb)
	if err != nil {
		t.Fatalf("thumb not written: %v", err)
	}

	again, err := g.Thumb(rel)
	if err != nil {
		t.Fatalf("second Thumb: %v", err)
	}
	if again != thumb {
		t.Fatalf("thumb path changed: %s then %s", thumb, again)
	}
	fi2, err := os.Stat(again)
	if err != nil {
		t.Fatal(err)
	}
	if !fi2.ModTime().Equal(fi.ModTime()) {
		t.Fatal("cached thumb regenerated")
	}
}

func TestGalleryAddWithoutRescan(t *testing.T) {
	g, _ := newTestGallery(t)

	if err := g.Add("2025/08/31/1756600000_bbb.jpg", 1756600000, 12345, "bbb"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	page, err := g.Index(0, 10)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if page.Total != 1 || page.Files[0].File != "2025/08/31/1756600000_bbb.jpg" {
		t.Fatalf("page = %+v", page)
	}
}

func TestParseSnapName(t *testing.T) {
	mtime := time.Unix(1000, 0)

	ts, sha := parseSnapName("1756500000_abcdef.jpg", mtime)
	if ts != 1756500000 || sha != "abcdef" {
		t.Fatalf("parsed (%d, %q)", ts, sha)
	}

	ts, sha = parseSnapName("holiday.jpg", mtime)
	if ts != 1000 || sha != "" {
		t.Fatalf("foreign file parsed (%d, %q), want mtime fallback", ts, sha)
	}
}
