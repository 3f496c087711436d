package vrt

import (
	"sync"
)

var globalCache = &cache{}

// cache holds images fetched over HTTP for the life of the process, so
// repeated captures compare against one download of each baseline.
type cache struct {
	m sync.Map
}

func LoadImageCache(key string) (*Image, bool) {
	if v, ok := globalCache.m.Load(key); ok {
		if i, ok := v.(*Image); ok {
			c := *i
			return &c, true
		}
	}
	return nil, false
}

func StoreImageCache(key string, i *Image) {
	if i == nil {
		return
	}
	c := *i
	globalCache.m.Store(key, &c)
}
