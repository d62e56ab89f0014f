package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

const lockStripes = 64

// diskStore persists captured responses under one generation directory.
// Bodies are zstd-compressed; a JSON sidecar carries status and headers.
// Writes are temp-file-plus-rename, serialized per key by a striped lock so
// two contexts writing the same URL never interleave partial files.
type diskStore struct {
	dir     string
	locks   [lockStripes]sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &diskStore{dir: dir, encoder: encoder, decoder: decoder}, nil
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func (d *diskStore) lock(key string) *sync.Mutex {
	// Key is hex, so the first byte is uniformly distributed.
	return &d.locks[key[0]%lockStripes]
}

func (d *diskStore) metaPath(key string) string {
	return filepath.Join(d.dir, key+".meta.json")
}

func (d *diskStore) bodyPath(key string) string {
	return filepath.Join(d.dir, key+".body.zst")
}

// put upserts one asset. Last writer wins per key.
func (d *diskStore) put(asset *CachedAsset) error {
	key := cacheKey(asset.URL)

	meta := assetMeta{
		URL:      asset.URL,
		Status:   asset.Status,
		Header:   asset.Header,
		StoredAt: asset.StoredAt.UTC().UnixMilli(),
		BodySize: int64(len(asset.Body)),
	}
	metaData, err := sonic.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode asset meta: %w", err)
	}
	bodyData := d.encoder.EncodeAll(asset.Body, nil)

	mu := d.lock(key)
	mu.Lock()
	defer mu.Unlock()

	// Body lands before meta: a reader that sees the sidecar always finds a
	// complete body.
	if err := writeAtomic(d.bodyPath(key), bodyData); err != nil {
		return fmt.Errorf("write asset body: %w", err)
	}
	if err := writeAtomic(d.metaPath(key), metaData); err != nil {
		return fmt.Errorf("write asset meta: %w", err)
	}
	return nil
}

// get reads one asset. The second return is false when the key is absent.
func (d *diskStore) get(rawURL string) (*CachedAsset, bool, error) {
	key := cacheKey(rawURL)

	metaData, err := os.ReadFile(d.metaPath(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read asset meta: %w", err)
	}

	var meta assetMeta
	if err := sonic.Unmarshal(metaData, &meta); err != nil {
		return nil, false, fmt.Errorf("decode asset meta: %w", err)
	}

	bodyData, err := os.ReadFile(d.bodyPath(key))
	if err != nil {
		return nil, false, fmt.Errorf("read asset body: %w", err)
	}
	body, err := d.decoder.DecodeAll(bodyData, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress asset body: %w", err)
	}

	return &CachedAsset{
		URL:      meta.URL,
		Status:   meta.Status,
		Header:   http.Header(meta.Header),
		Body:     body,
		StoredAt: time.UnixMilli(meta.StoredAt).UTC(),
	}, true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
