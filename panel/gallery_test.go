package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nemezkarl-source/DD5KA/models"
)

// galleryServer serves a synthetic index of total files with the real
// offset/limit semantics.
func galleryServer(total int, requests *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var files []models.GalleryEntry
		for i := offset; i < total && i < offset+n; i++ {
			files = append(files, models.GalleryEntry{File: fmt.Sprintf("2025/08/30/%d_x.jpg", i)})
		}
		json.NewEncoder(w).Encode(models.GalleryIndex{Files: files, Total: total, Offset: offset})
	}))
}

type galleryRecorder struct {
	mu      sync.Mutex
	loaded  []models.GalleryEntry
	empty   bool
	errs    []error
	visible []bool
}

func (r *galleryRecorder) hooks() GalleryHooks {
	return GalleryHooks{
		OnAppend: func(entries []models.GalleryEntry) {
			r.mu.Lock()
			r.loaded = append(r.loaded, entries...)
			r.mu.Unlock()
		},
		OnEmpty: func() {
			r.mu.Lock()
			r.empty = true
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnMoreVisible: func(v bool) {
			r.mu.Lock()
			r.visible = append(r.visible, v)
			r.mu.Unlock()
		},
	}
}

func (r *galleryRecorder) lastVisible(t *testing.T) bool {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.visible) == 0 {
		t.Fatal("load-more visibility never set")
	}
	return r.visible[len(r.visible)-1]
}

func TestGalleryPagination(t *testing.T) {
	srv := galleryServer(7, nil)
	defer srv.Close()

	rec := &galleryRecorder{}
	g := NewGalleryController(NewClient(srv.URL), 3, rec.hooks())

	g.LoadInitial(context.Background())
	if got := g.Offset(); got != 3 {
		t.Fatalf("offset after first page = %d, want 3", got)
	}
	if rec.lastVisible(t) != true {
		t.Fatal("load-more hidden with pages remaining")
	}

	g.LoadMore(context.Background())
	g.LoadMore(context.Background())

	rec.mu.Lock()
	loaded := len(rec.loaded)
	rec.mu.Unlock()
	if loaded != 7 {
		t.Fatalf("loaded %d entries, want 7", loaded)
	}
	if !g.Exhausted() {
		t.Fatal("not exhausted after loading every file")
	}
	if rec.lastVisible(t) {
		t.Fatal("load-more still visible after exhaustion")
	}
}

func TestGalleryLoadMoreAfterExhaustionIssuesNoRequest(t *testing.T) {
	var requests atomic.Int64
	srv := galleryServer(2, &requests)
	defer srv.Close()

	rec := &galleryRecorder{}
	g := NewGalleryController(NewClient(srv.URL), 5, rec.hooks())

	g.LoadInitial(context.Background())
	before := requests.Load()

	g.LoadMore(context.Background())
	g.LoadMore(context.Background())

	if got := requests.Load(); got != before {
		t.Fatalf("exhausted LoadMore issued %d request(s)", got-before)
	}
}

func TestGalleryEmptyIndex(t *testing.T) {
	srv := galleryServer(0, nil)
	defer srv.Close()

	rec := &galleryRecorder{}
	g := NewGalleryController(NewClient(srv.URL), 60, rec.hooks())
	g.LoadInitial(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.empty {
		t.Fatal("empty state not signalled")
	}
	if len(rec.loaded) != 0 {
		t.Fatalf("entries appended for an empty index: %d", len(rec.loaded))
	}
	if len(rec.visible) == 0 || rec.visible[len(rec.visible)-1] {
		t.Fatal("load-more visible for an empty index")
	}
}

func TestGalleryErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &galleryRecorder{}
	g := NewGalleryController(NewClient(srv.URL), 60, rec.hooks())
	g.LoadInitial(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 {
		t.Fatalf("errors surfaced = %d, want 1", len(rec.errs))
	}
	if len(rec.loaded) != 0 {
		t.Fatal("entries appended despite the error")
	}
}

func TestGalleryLoadInitialResetsCursor(t *testing.T) {
	srv := galleryServer(4, nil)
	defer srv.Close()

	rec := &galleryRecorder{}
	g := NewGalleryController(NewClient(srv.URL), 2, rec.hooks())

	g.LoadInitial(context.Background())
	g.LoadMore(context.Background())
	if !g.Exhausted() {
		t.Fatal("not exhausted after both pages")
	}

	g.LoadInitial(context.Background())
	if got := g.Offset(); got != 2 {
		t.Fatalf("offset after reload = %d, want 2", got)
	}
	if g.Exhausted() {
		t.Fatal("exhausted carried over through LoadInitial")
	}
}
