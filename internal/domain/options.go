package domain

import "strings"

// Supported generation parameters. The provider owns the real limits; these
// sets mirror what the create form offers.
const (
	ModelSora2    = "sora-2"
	ModelSora2Pro = "sora-2-pro"

	DefaultModel   = ModelSora2
	DefaultSize    = "1280x720"
	DefaultSeconds = "8"
)

var (
	Models  = []string{ModelSora2, ModelSora2Pro}
	Sizes   = []string{"480x480", "1280x720", "1920x1080", "720x1280", "1080x1920"}
	Seconds = []string{"4", "8", "12", "16"}

	// ReferenceContentTypes lists the image types accepted as input_reference.
	ReferenceContentTypes = []string{"image/jpeg", "image/png", "image/webp"}
)

// ValidModel reports whether model is one of Models.
func ValidModel(model string) bool { return contains(Models, model) }

// ValidSize reports whether size is one of Sizes.
func ValidSize(size string) bool { return contains(Sizes, size) }

// ValidSeconds reports whether seconds is one of Seconds.
func ValidSeconds(seconds string) bool { return contains(Seconds, seconds) }

// CanonicalReferenceType maps a declared content type to one of
// ReferenceContentTypes, tolerating parameters and common aliases.
func CanonicalReferenceType(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch ct {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "image/jpeg", true
	case "image/png", "image/x-png":
		return "image/png", true
	case "image/webp":
		return "image/webp", true
	default:
		return "", false
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
