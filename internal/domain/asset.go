package domain

import "strings"

// Variant selects one of the binary outputs of a completed job.
type Variant string

const (
	VariantVideo       Variant = "video"
	VariantThumbnail   Variant = "thumbnail"
	VariantSpritesheet Variant = "spritesheet"
)

// Variants lists every downloadable variant, primary first.
var Variants = []Variant{VariantVideo, VariantThumbnail, VariantSpritesheet}

// ParseVariant defaults an empty value to VariantVideo.
func ParseVariant(raw string) (Variant, bool) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case "", VariantVideo:
		return VariantVideo, true
	case VariantThumbnail:
		return VariantThumbnail, true
	case VariantSpritesheet:
		return VariantSpritesheet, true
	default:
		return "", false
	}
}

// ContentType is the media type served for the variant.
func (v Variant) ContentType() string {
	switch v {
	case VariantThumbnail:
		return "image/webp"
	case VariantSpritesheet:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// Extension is the file extension, without the dot.
func (v Variant) Extension() string {
	switch v {
	case VariantThumbnail:
		return "webp"
	case VariantSpritesheet:
		return "jpg"
	default:
		return "mp4"
	}
}

// Asset is a downloaded variant. Assets are never cached; the owner drops
// the bytes once they are no longer needed.
type Asset struct {
	JobID       string
	Variant     Variant
	ContentType string
	Data        []byte
}

// Filename is the attachment name suggested to the browser.
func (a *Asset) Filename() string {
	return a.JobID + "." + a.Variant.Extension()
}
