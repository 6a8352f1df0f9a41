package panel

import (
	"context"
	"sync"

	"github.com/nemezkarl-source/DD5KA/models"
)

// GalleryHooks are the view callbacks for the gallery grid. Any may be nil.
type GalleryHooks struct {
	OnAppend func(entries []models.GalleryEntry)
	OnEmpty  func()
	OnError  func(err error)
	// OnMoreVisible shows or hides the "load more" control.
	OnMoreVisible func(visible bool)
}

// GalleryController loads the snapshot gallery with offset-based "load more"
// pagination. It shares no state with the other controllers.
type GalleryController struct {
	client   *Client
	pageSize int
	hooks    GalleryHooks

	mu        sync.Mutex
	offset    int
	total     int
	loaded    bool
	exhausted bool
	loading   bool
}

func NewGalleryController(client *Client, pageSize int, hooks GalleryHooks) *GalleryController {
	if pageSize <= 0 {
		pageSize = 60
	}
	return &GalleryController{client: client, pageSize: pageSize, hooks: hooks}
}

// Offset returns the current pagination cursor.
func (g *GalleryController) Offset() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offset
}

// Exhausted reports whether every indexed file has been loaded.
func (g *GalleryController) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhausted
}

// LoadInitial fetches the first page. Resets the cursor.
func (g *GalleryController) LoadInitial(ctx context.Context) {
	g.mu.Lock()
	g.offset = 0
	g.total = 0
	g.loaded = false
	g.exhausted = false
	g.mu.Unlock()

	g.load(ctx)
}

// LoadMore appends the next page. Once the cumulative count reaches the
// server-reported total the call is a no-op and no request is issued.
func (g *GalleryController) LoadMore(ctx context.Context) {
	g.mu.Lock()
	if g.exhausted || g.loading {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.load(ctx)
}

func (g *GalleryController) load(ctx context.Context) {
	g.mu.Lock()
	if g.loading {
		g.mu.Unlock()
		return
	}
	g.loading = true
	offset := g.offset
	g.mu.Unlock()

	page, err := g.client.GalleryIndex(ctx, g.pageSize, offset)

	g.mu.Lock()
	g.loading = false
	if err != nil {
		g.mu.Unlock()
		if g.hooks.OnError != nil {
			g.hooks.OnError(err)
		}
		return
	}

	first := !g.loaded
	g.loaded = true
	g.total = page.Total
	g.offset = offset + len(page.Files)
	g.exhausted = g.offset >= page.Total
	exhausted := g.exhausted
	g.mu.Unlock()

	if first && page.Total == 0 {
		if g.hooks.OnEmpty != nil {
			g.hooks.OnEmpty()
		}
		if g.hooks.OnMoreVisible != nil {
			g.hooks.OnMoreVisible(false)
		}
		return
	}

	if g.hooks.OnAppend != nil {
		g.hooks.OnAppend(page.Files)
	}
	if g.hooks.OnMoreVisible != nil {
		g.hooks.OnMoreVisible(!exhausted)
	}
}
