package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/video"
	"sorastudio/pkg/zip"
)

const (
	defaultMaxUploadBytes = 20 << 20
	defaultListLimit      = 20
	maxListLimit          = 100

	// variantBundle asks the download endpoint for every available variant
	// packed in one zip.
	variantBundle = "bundle"
)

type remixRequest struct {
	VideoID string `json:"videoId"`
	Prompt  string `json:"prompt"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *App) VideosCreate(w http.ResponseWriter, r *http.Request) {
	limit := a.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, http.StatusRequestEntityTooLarge, msgUploadTooLarge)
			return
		}
		a.fail(w, r, http.StatusBadRequest, msgInvalidForm)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req := video.CreateRequest{
		Prompt:  strings.TrimSpace(r.FormValue("prompt")),
		Model:   formValue(r, "model", domain.DefaultModel),
		Size:    formValue(r, "size", domain.DefaultSize),
		Seconds: formValue(r, "seconds", domain.DefaultSeconds),
	}
	switch {
	case req.Prompt == "":
		a.fail(w, r, http.StatusBadRequest, msgPromptRequired)
		return
	case !domain.ValidModel(req.Model):
		a.fail(w, r, http.StatusBadRequest, msgInvalidModel)
		return
	case !domain.ValidSize(req.Size):
		a.fail(w, r, http.StatusBadRequest, msgInvalidSize)
		return
	case !domain.ValidSeconds(req.Seconds):
		a.fail(w, r, http.StatusBadRequest, msgInvalidSeconds)
		return
	}

	file, header, err := r.FormFile("input_reference")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		a.fail(w, r, http.StatusBadRequest, msgInvalidForm)
		return
	default:
		defer func() {
			_ = file.Close()
		}()
		contentType, ok := domain.CanonicalReferenceType(header.Header.Get("Content-Type"))
		if !ok {
			a.fail(w, r, http.StatusBadRequest, msgInvalidReference)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			a.fail(w, r, http.StatusBadRequest, msgInvalidForm)
			return
		}
		if len(data) > 0 {
			req.Reference = &video.Reference{Filename: header.Filename, ContentType: contentType, Data: data}
		}
	}

	job, err := a.Videos.Create(r.Context(), req)
	if err != nil {
		a.upstreamError(w, r, "create", err, msgCreateFailed)
		return
	}
	a.Logger.Info().Str("video_id", job.ID).Str("model", job.Model).Msg("video job created")
	a.json(w, http.StatusOK, job)
}

func (a *App) VideosRetrieve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		a.fail(w, r, http.StatusBadRequest, msgIDRequired)
		return
	}
	job, err := a.Videos.Retrieve(r.Context(), id)
	if err != nil {
		a.upstreamError(w, r, "retrieve", err, msgRetrieveFailed)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := video.ListParams{Limit: defaultListLimit, After: strings.TrimSpace(q.Get("after"))}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			a.fail(w, r, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		params.Limit = limit
	}
	order, ok := domain.ParseOrder(q.Get("order"))
	if !ok {
		a.fail(w, r, http.StatusBadRequest, msgInvalidOrder)
		return
	}
	params.Order = order

	page, err := a.Videos.List(r.Context(), params)
	if err != nil {
		a.upstreamError(w, r, "list", err, msgListFailed)
		return
	}
	a.json(w, http.StatusOK, page)
}

func (a *App) VideosDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		a.fail(w, r, http.StatusBadRequest, msgIDRequired)
		return
	}
	if err := a.Videos.Delete(r.Context(), id); err != nil {
		a.upstreamError(w, r, "delete", err, msgDeleteFailed)
		return
	}
	a.Logger.Info().Str("video_id", id).Msg("video deleted")
	a.json(w, http.StatusOK, deleteResponse{Success: true, Message: localize(r.Context(), msgDeleted)})
}

// VideosDownload streams one variant as an attachment. The job status is not
// checked first; the provider's answer for an unfinished job is relayed.
func (a *App) VideosDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		a.fail(w, r, http.StatusBadRequest, msgIDRequired)
		return
	}
	if strings.EqualFold(strings.TrimSpace(q.Get("variant")), variantBundle) {
		a.downloadBundle(w, r, id)
		return
	}
	variant, ok := domain.ParseVariant(q.Get("variant"))
	if !ok {
		a.fail(w, r, http.StatusBadRequest, msgInvalidVariant)
		return
	}

	asset, err := a.Videos.Download(r.Context(), id, variant)
	if err != nil {
		a.upstreamError(w, r, "download", err, msgDownloadFailed)
		return
	}
	writeAttachment(w, variant.ContentType(), asset.Filename(), asset.Data)
}

// downloadBundle zips every variant the provider has. The primary video is
// required; the other variants are skipped when missing.
func (a *App) downloadBundle(w http.ResponseWriter, r *http.Request, id string) {
	var files []zip.Asset
	for _, variant := range domain.Variants {
		asset, err := a.Videos.Download(r.Context(), id, variant)
		if err != nil {
			if variant == domain.VariantVideo {
				a.upstreamError(w, r, "download", err, msgDownloadFailed)
				return
			}
			a.Logger.Debug().Err(err).Str("video_id", id).Str("variant", string(variant)).Msg("bundle variant skipped")
			continue
		}
		files = append(files, zip.Asset{Filename: asset.Filename(), MIME: asset.ContentType, Data: asset.Data})
	}
	if len(files) == 0 {
		a.fail(w, r, http.StatusNotFound, msgNoAssetsAvailable)
		return
	}
	archive, err := zip.ArchiveAssets(files)
	if err != nil {
		a.Logger.Error().Err(err).Str("video_id", id).Msg("bundle archive failed")
		a.fail(w, r, http.StatusInternalServerError, msgDownloadFailed)
		return
	}
	writeAttachment(w, "application/zip", id+".zip", archive)
}

func (a *App) VideosRemix(w http.ResponseWriter, r *http.Request) {
	var req remixRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		a.fail(w, r, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.VideoID == "" || req.Prompt == "" {
		a.fail(w, r, http.StatusBadRequest, msgRemixRequired)
		return
	}
	job, err := a.Videos.Remix(r.Context(), req.VideoID, req.Prompt)
	if err != nil {
		a.upstreamError(w, r, "remix", err, msgRemixFailed)
		return
	}
	a.Logger.Info().Str("video_id", job.ID).Str("source_id", req.VideoID).Msg("video remix created")
	a.json(w, http.StatusOK, job)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func formValue(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}
