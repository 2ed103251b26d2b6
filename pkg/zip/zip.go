package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs assets into an in-memory zip. Media that is already
// compressed (video and images) is stored as-is.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		name := strings.TrimLeft(strings.ReplaceAll(asset.Filename, "\\", "/"), "/")
		if name == "" {
			return nil, fmt.Errorf("zip: asset without filename")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("zip: duplicate entry %q", name)
		}
		seen[name] = struct{}{}

		header := &zip.FileHeader{
			Name:     name,
			Method:   methodFor(asset.MIME),
			Modified: time.Now().UTC(),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func methodFor(mime string) uint16 {
	mime = strings.ToLower(mime)
	if strings.HasPrefix(mime, "video/") || strings.HasPrefix(mime, "image/") {
		return zip.Store
	}
	return zip.Deflate
}
