// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type cacheEntry[R any] struct {
	items []*R
	used  int
}

// resourceCache pools allocations per key. Within a frame every Get hands
// out a distinct allocation; Release makes all of them available again
// without freeing anything.
type resourceCache[K comparable, R any] struct {
	name    string
	entries map[K]*cacheEntry[R]
	create  func(K) (*R, error)
	destroy func(*R)
	log     log.FieldLogger
}

func newResourceCache[K comparable, R any](name string, create func(K) (*R, error), destroy func(*R), logger log.FieldLogger) resourceCache[K, R] {
	return resourceCache[K, R]{
		name:    name,
		entries: make(map[K]*cacheEntry[R]),
		create:  create,
		destroy: destroy,
		log:     logger,
	}
}

// Get returns an allocation for key that has not been handed out since the
// last Release, allocating one if the pool for key is exhausted.
func (c *resourceCache[K, R]) Get(key K) (*R, error) {
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry[R]{}
		c.entries[key] = entry
	}
	if entry.used+1 > len(entry.items) {
		res, err := c.create(key)
		if err != nil {
			return nil, errors.Wrapf(err, "%s cache: %v", c.name, key)
		}
		entry.items = append(entry.items, res)
		c.log.WithFields(log.Fields{
			"cache": c.name,
			"key":   fmt.Sprint(key),
			"size":  len(entry.items),
		}).Debug("cache grown")
	}
	res := entry.items[entry.used]
	entry.used++
	return res, nil
}

// Release marks every allocation idle.
func (c *resourceCache[K, R]) Release() {
	for _, entry := range c.entries {
		entry.used = 0
	}
}

// Destroy frees every pooled allocation.
func (c *resourceCache[K, R]) Destroy() {
	for key, entry := range c.entries {
		for _, res := range entry.items {
			c.destroy(res)
		}
		delete(c.entries, key)
	}
}

// Stats returns the number of pooled allocations per key.
func (c *resourceCache[K, R]) Stats() map[K]int {
	stats := make(map[K]int, len(c.entries))
	for key, entry := range c.entries {
		stats[key] = len(entry.items)
	}
	return stats
}

// Allocations returns the total number of pooled allocations.
func (c *resourceCache[K, R]) Allocations() int {
	var n int
	for _, entry := range c.entries {
		n += len(entry.items)
	}
	return n
}

// ImageCache pools transient images by ImageKey.
type ImageCache struct {
	resourceCache[ImageKey, Image]
}

// NewImageCache creates an image cache allocating from dev.
func NewImageCache(dev Device, logger log.FieldLogger) *ImageCache {
	return &ImageCache{
		resourceCache: newResourceCache("image", dev.CreateImage, (*Image).Release, logger),
	}
}

// BufferCache pools transient buffers by BufferKey.
type BufferCache struct {
	resourceCache[BufferKey, Buffer]
}

// NewBufferCache creates a buffer cache allocating from dev.
func NewBufferCache(dev Device, logger log.FieldLogger) *BufferCache {
	return &BufferCache{
		resourceCache: newResourceCache("buffer", dev.CreateBuffer, (*Buffer).Release, logger),
	}
}

type viewKey struct {
	image *Image
	rng   SubresourceRange
}

// ImageViewCache deduplicates views: the same image and range always
// yield the same view.
type ImageViewCache struct {
	dev   Device
	views map[viewKey]*ImageView
	log   log.FieldLogger
}

// NewImageViewCache creates a view cache allocating from dev.
func NewImageViewCache(dev Device, logger log.FieldLogger) *ImageViewCache {
	return &ImageViewCache{
		dev:   dev,
		views: make(map[viewKey]*ImageView),
		log:   logger,
	}
}

// Get returns the view of rng on image, creating it on first request.
func (c *ImageViewCache) Get(image *Image, rng SubresourceRange) (*ImageView, error) {
	key := viewKey{image: image, rng: rng}
	if view, ok := c.views[key]; ok {
		return view, nil
	}
	view, err := c.dev.CreateImageView(image, rng)
	if err != nil {
		return nil, errors.Wrapf(err, "image view cache: %s %v", image.Label, rng)
	}
	c.views[key] = view
	c.log.WithFields(log.Fields{
		"cache": "image view",
		"image": image.Label,
		"range": rng.String(),
	}).Debug("view created")
	return view, nil
}

// Evict destroys every view of image. Used when an externally owned image
// goes away, e.g. on swapchain recreation.
func (c *ImageViewCache) Evict(image *Image) {
	for key, view := range c.views {
		if key.image == image {
			view.Release()
			delete(c.views, key)
		}
	}
}

// Len returns the number of cached views.
func (c *ImageViewCache) Len() int {
	return len(c.views)
}

// Destroy frees every cached view.
func (c *ImageViewCache) Destroy() {
	for key, view := range c.views {
		view.Release()
		delete(c.views, key)
	}
}

// Caches groups the resource caches a Graph resolves transient proxies from.
// They outlive any single frame.
type Caches struct {
	Images  *ImageCache
	Views   *ImageViewCache
	Buffers *BufferCache
}

// NewCaches creates empty caches allocating from dev.
func NewCaches(dev Device, logger log.FieldLogger) *Caches {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Caches{
		Images:  NewImageCache(dev, logger),
		Views:   NewImageViewCache(dev, logger),
		Buffers: NewBufferCache(dev, logger),
	}
}

// Release marks every pooled image and buffer idle. It must be called
// once before resolving a new frame.
func (c *Caches) Release() {
	c.Images.Release()
	c.Buffers.Release()
}

// Destroy frees everything. Views go first since they reference images.
func (c *Caches) Destroy() {
	c.Views.Destroy()
	c.Images.Destroy()
	c.Buffers.Destroy()
}
