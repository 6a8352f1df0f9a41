package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nemezkarl-source/DD5KA/services"
)

const (
	defaultGalleryPage = 60
	maxGalleryPage     = 500
)

type GalleryHandler struct {
	gallery *services.GalleryService
}

func NewGalleryHandler(gallery *services.GalleryService) *GalleryHandler {
	return &GalleryHandler{gallery: gallery}
}

// Index serves one offset/limit page of the snapshot listing, newest first.
func (h *GalleryHandler) Index(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", defaultGalleryPage)
	offset := queryInt(r, "offset", 0)
	if n < 1 || offset < 0 {
		http.Error(w, `{"error":"invalid n or offset"}`, http.StatusBadRequest)
		return
	}
	if n > maxGalleryPage {
		n = maxGalleryPage
	}

	page, err := h.gallery.Index(offset, n)
	if err != nil {
		log.Printf("api: gallery index: %v", err)
		http.Error(w, `{"error":"gallery index failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// File serves a full-resolution snapshot.
func (h *GalleryHandler) File(w http.ResponseWriter, r *http.Request) {
	path, err := h.gallery.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "invalid gallery path", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, path)
}

// Thumb serves a cached thumbnail, generating it on first access.
func (h *GalleryHandler) Thumb(w http.ResponseWriter, r *http.Request) {
	path, err := h.gallery.Thumb(chi.URLParam(r, "*"))
	if err != nil {
		log.Printf("api: gallery thumb: %v", err)
		http.Error(w, "thumbnail unavailable", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

// Rescan triggers a full re-index of the snapshot tree.
func (h *GalleryHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	count, err := h.gallery.Rescan()
	if err != nil {
		writeActionError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "indexed": count})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
