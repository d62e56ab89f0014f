package cache

import (
	"errors"
	"net/http"
	"time"
)

// ErrNotCacheable marks a response the store rules refuse: non-2xx status or
// an opaque (unreadable) body. Callers treat it as a silent skip, never a
// failure of the request itself.
var ErrNotCacheable = errors.New("cache: response is not cacheable")

// CachedAsset is one captured response, keyed by the full request URL
// including the query string.
type CachedAsset struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// assetMeta is the sidecar record persisted next to the compressed body.
type assetMeta struct {
	URL      string              `json:"url"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	StoredAt int64               `json:"stored_at"`
	BodySize int64               `json:"body_size"`
}
