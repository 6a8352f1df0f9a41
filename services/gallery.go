package services

import (
	"database/sql"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nfnt/resize"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/models"
)

// GalleryService maintains a sqlite index over the snapshot tree the detector
// writes (YYYY/MM/DD/ts_sha1.jpg) and serves paginated listings and thumbnails.
type GalleryService struct {
	cfg config.GallerySettings
	db  *sql.DB

	snapsAbs string
	thumbAbs string
}

func NewGalleryService(cfg config.GallerySettings, storage *Storage) (*GalleryService, error) {
	snapsAbs, err := filepath.Abs(cfg.SnapsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving snaps dir: %w", err)
	}
	thumbAbs, err := filepath.Abs(cfg.ThumbDir)
	if err != nil {
		return nil, fmt.Errorf("resolving thumb dir: %w", err)
	}
	return &GalleryService{
		cfg:      cfg,
		db:       storage.DB(),
		snapsAbs: snapsAbs,
		thumbAbs: thumbAbs,
	}, nil
}

// Rescan walks the snapshot tree and refreshes the index. Returns the number
// of files indexed.
func (g *GalleryService) Rescan() (int, error) {
	start := time.Now()
	count := 0
	var totalBytes int64

	tx, err := g.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM gallery_files"); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}

	err = filepath.WalkDir(g.snapsAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".jpg") {
			return nil
		}

		rel, err := filepath.Rel(g.snapsAbs, path)
		if err != nil {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		ts, sha1 := parseSnapName(d.Name(), fi.ModTime())
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO gallery_files (file, ts, size, sha1) VALUES (?, ?, ?, ?)",
			filepath.ToSlash(rel), ts, fi.Size(), sha1,
		); err != nil {
			return err
		}
		count++
		totalBytes += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", g.snapsAbs, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	log.Printf("gallery: indexed %d file(s), %s in %s",
		count, humanize.Bytes(uint64(totalBytes)), time.Since(start).Round(time.Millisecond))
	return count, nil
}

// parseSnapName extracts the capture timestamp and sha1 from a ts_sha1.jpg
// name, falling back to file mtime for foreign files.
func parseSnapName(name string, mtime time.Time) (int64, string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	tsStr, sha1, ok := strings.Cut(base, "_")
	if !ok {
		return mtime.Unix(), ""
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return mtime.Unix(), ""
	}
	return ts, sha1
}

// Index returns one page of the gallery, newest first.
func (g *GalleryService) Index(offset, limit int) (models.GalleryIndex, error) {
	out := models.GalleryIndex{Files: []models.GalleryEntry{}, Offset: offset}

	if err := g.db.QueryRow("SELECT COUNT(*) FROM gallery_files").Scan(&out.Total); err != nil {
		return out, fmt.Errorf("counting gallery files: %w", err)
	}

	rows, err := g.db.Query(
		"SELECT file, ts, size FROM gallery_files ORDER BY ts DESC, file DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return out, fmt.Errorf("querying gallery files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.GalleryEntry
		if err := rows.Scan(&e.File, &e.TS, &e.Size); err != nil {
			return out, err
		}
		e.Human = humanize.Bytes(uint64(e.Size))
		out.Files = append(out.Files, e)
	}
	return out, rows.Err()
}

// Add registers a freshly saved snapshot without a full rescan.
func (g *GalleryService) Add(relPath string, ts, size int64, sha1 string) error {
	_, err := g.db.Exec(
		"INSERT OR REPLACE INTO gallery_files (file, ts, size, sha1) VALUES (?, ?, ?, ?)",
		filepath.ToSlash(relPath), ts, size, sha1,
	)
	return err
}

// Resolve maps a gallery-relative file to an absolute path under the snaps
// root, rejecting traversal attempts.
func (g *GalleryService) Resolve(file string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(g.snapsAbs, filepath.FromSlash(file)))
	if err != nil || !strings.HasPrefix(abs, g.snapsAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid gallery path: %s", file)
	}
	return abs, nil
}

// Thumb returns the path of a cached thumbnail, generating it on first use.
func (g *GalleryService) Thumb(file string) (string, error) {
	src, err := g.Resolve(file)
	if err != nil {
		return "", err
	}

	thumbPath := filepath.Join(g.thumbAbs, filepath.FromSlash(file))
	if _, err := os.Stat(thumbPath); err == nil {
		return thumbPath, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", src, err)
	}

	side := uint(g.cfg.ThumbSide)
	thumb := resize.Thumbnail(side, side, img, resize.Lanczos3)

	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		return "", fmt.Errorf("creating thumb directory: %w", err)
	}
	out, err := os.Create(thumbPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", thumbPath, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 80}); err != nil {
		os.Remove(thumbPath)
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return thumbPath, nil
}
