package scanmgr

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/nik9play/scanmgr/pkg/twain"
)

// PageList holds the acquired pages of the document being built. It owns every
// native handle delivered to it until Clear.
type PageList struct {
	logger *zap.SugaredLogger
	mem    twain.Memory

	lock    sync.Mutex
	pages   []twain.NativeImage
	current int

	batchConsumers []func(delivered int, err error)
}

// NewPageList creates an empty PageList that releases handles through mem
func NewPageList(logger *zap.SugaredLogger, mem twain.Memory) *PageList {
	logger = logger.Named("pages")

	pl := &PageList{
		logger:  logger,
		mem:     mem,
		current: -1,
	}

	logger.Debug("Created page list instance")

	return pl
}

// Deliver adds an acquired image
func (pl *PageList) Deliver(img twain.NativeImage) {
	pl.Add(img)
}

// BatchComplete forwards the end of a batch to every subscriber
func (pl *PageList) BatchComplete(delivered int, err error) {
	pl.logger.Debugw("Batch complete", "delivered", delivered, "pages", pl.Len(), "error", err)

	pl.lock.Lock()
	consumers := pl.batchConsumers
	pl.lock.Unlock()

	for _, consumer := range consumers {
		consumer(delivered, err)
	}
}

// OnBatchComplete registers fn to run after every batch, on the loop thread
func (pl *PageList) OnBatchComplete(fn func(delivered int, err error)) {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	pl.batchConsumers = append(pl.batchConsumers, fn)
}

// Add appends a page and makes it current
func (pl *PageList) Add(img twain.NativeImage) {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	pl.pages = append(pl.pages, img)
	pl.current = len(pl.pages) - 1

	pl.logger.Debugw("Page added", "index", pl.current, "handle", img)
}

// Len returns the number of pages
func (pl *PageList) Len() int {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	return len(pl.pages)
}

// Current returns the current page and its index
func (pl *PageList) Current() (twain.NativeImage, int, bool) {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	if pl.current < 0 {
		return 0, -1, false
	}

	return pl.pages[pl.current], pl.current, true
}

// Next moves to the following page, reporting false at the end of the list
func (pl *PageList) Next() bool {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	if pl.current+1 >= len(pl.pages) {
		return false
	}

	pl.current++

	return true
}

// Previous moves to the preceding page, reporting false at the start of the list
func (pl *PageList) Previous() bool {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	if pl.current <= 0 {
		return false
	}

	pl.current--

	return true
}

// Snapshot returns a copy of the page handles in order
func (pl *PageList) Snapshot() []twain.NativeImage {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	return append([]twain.NativeImage(nil), pl.pages...)
}

// Images decodes every page in order
func (pl *PageList) Images() ([]image.Image, error) {
	pages := pl.Snapshot()
	images := make([]image.Image, 0, len(pages))

	for idx, page := range pages {
		img, err := DecodeNative(pl.mem, page)
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", idx+1, err)
		}

		images = append(images, img)
	}

	return images, nil
}

// Clear drops every page and releases its handle. Each distinct handle is freed
// once even if a driver handed it over twice.
func (pl *PageList) Clear() error {
	pl.lock.Lock()
	pages := pl.pages
	pl.pages = nil
	pl.current = -1
	pl.lock.Unlock()

	if len(pages) == 0 {
		return nil
	}

	unique := funk.Uniq(pages).([]twain.NativeImage)
	if len(unique) != len(pages) {
		pl.logger.Warnw("Duplicate page handles", "pages", len(pages), "unique", len(unique))
	}

	var errs []error
	for _, page := range unique {
		if page == 0 {
			continue
		}

		if err := pl.mem.Free(twain.MemHandle(page)); err != nil {
			errs = append(errs, fmt.Errorf("free page handle %#x: %w", uintptr(page), err))
		}
	}

	pl.logger.Debugw("Cleared pages", "count", len(pages))

	return errors.Join(errs...)
}
