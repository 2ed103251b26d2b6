package handlers

import (
	"context"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"sorastudio/internal/middleware"
)

const (
	msgIDRequired        = "Video ID is required"
	msgPromptRequired    = "Prompt is required"
	msgRemixRequired     = "Video ID and prompt are required"
	msgInvalidForm       = "Invalid form data"
	msgInvalidJSON       = "Invalid JSON body"
	msgUploadTooLarge    = "Reference image is too large"
	msgInvalidModel      = "Unsupported model"
	msgInvalidSize       = "Unsupported size"
	msgInvalidSeconds    = "Unsupported duration"
	msgInvalidReference  = "Reference image must be JPEG, PNG or WebP"
	msgInvalidVariant    = "Unsupported variant"
	msgInvalidOrder      = "Order must be asc or desc"
	msgInvalidLimit      = "Limit must be between 1 and 100"
	msgDeleted           = "Video deleted successfully"
	msgCreateFailed      = "Failed to create video"
	msgRetrieveFailed    = "Failed to retrieve video"
	msgListFailed        = "Failed to list videos"
	msgDeleteFailed      = "Failed to delete video"
	msgDownloadFailed    = "Failed to download video"
	msgRemixFailed       = "Failed to remix video"
	msgNoAssetsAvailable = "No assets available for this video"
)

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	id := map[string]string{
		msgIDRequired:        "ID video wajib diisi",
		msgPromptRequired:    "Prompt wajib diisi",
		msgRemixRequired:     "ID video dan prompt wajib diisi",
		msgInvalidForm:       "Data formulir tidak valid",
		msgInvalidJSON:       "Body JSON tidak valid",
		msgUploadTooLarge:    "Gambar referensi terlalu besar",
		msgInvalidModel:      "Model tidak didukung",
		msgInvalidSize:       "Ukuran tidak didukung",
		msgInvalidSeconds:    "Durasi tidak didukung",
		msgInvalidReference:  "Gambar referensi harus JPEG, PNG, atau WebP",
		msgInvalidVariant:    "Varian tidak didukung",
		msgInvalidOrder:      "Urutan harus asc atau desc",
		msgInvalidLimit:      "Limit harus antara 1 dan 100",
		msgDeleted:           "Video berhasil dihapus",
		msgCreateFailed:      "Gagal membuat video",
		msgRetrieveFailed:    "Gagal mengambil video",
		msgListFailed:        "Gagal memuat daftar video",
		msgDeleteFailed:      "Gagal menghapus video",
		msgDownloadFailed:    "Gagal mengunduh video",
		msgRemixFailed:       "Gagal me-remix video",
		msgNoAssetsAvailable: "Tidak ada aset untuk video ini",
	}
	for key, text := range id {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Indonesian, key, text)
	}
	return b
}()

// localize renders key in the locale chosen by the I18N middleware.
func localize(ctx context.Context, key string) string {
	tag := language.Make(middleware.LocaleFromContext(ctx))
	return message.NewPrinter(tag, message.Catalog(messages)).Sprintf(key)
}
