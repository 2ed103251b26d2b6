// Package videotest provides an in-memory stand-in for the provider's
// /v1/videos API for use in tests.
package videotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"sorastudio/internal/domain"
)

// APIKey is the bearer token the fake accepts.
const APIKey = "test-key"

// Server is a fake provider. Jobs advance only through Script; every
// retrieve pops the next scripted status.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	seq       int
	jobs      map[string]*domain.Job
	order     []string
	scripts   map[string][]domain.Status
	errors    map[string]*domain.JobError
	assets    map[string]map[domain.Variant][]byte
	failures  []int
	downloads map[string]int
	retrieves map[string]int
	refs      map[string]string
}

// NewServer starts a fake provider. Close it when done.
func NewServer() *Server {
	s := &Server{
		jobs:      make(map[string]*domain.Job),
		scripts:   make(map[string][]domain.Status),
		errors:    make(map[string]*domain.JobError),
		assets:    make(map[string]map[domain.Variant][]byte),
		downloads: make(map[string]int),
		retrieves: make(map[string]int),
		refs:      make(map[string]string),
	}
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/", s.create)
		r.Get("/", s.list)
		r.Get("/{id}", s.retrieve)
		r.Delete("/{id}", s.delete)
		r.Get("/{id}/content", s.content)
		r.Post("/{id}/remix", s.remix)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the value to pass as the client's BaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

// Put seeds a job. Completed jobs get default asset bytes for every variant.
func (s *Server) Put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	if job.CreatedAt == 0 {
		s.seq++
		job.CreatedAt = int64(1_700_000_000 + s.seq)
	}
	if job.Object == "" {
		job.Object = "video"
	}
	copied := job
	s.jobs[job.ID] = &copied
	if job.Status == domain.StatusCompleted {
		s.defaultAssetsLocked(job.ID)
	}
}

// Script queues statuses returned by successive retrieves of id. Once the
// script is exhausted the last status sticks.
func (s *Server) Script(id string, statuses ...domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = append(s.scripts[id], statuses...)
}

// FailWith sets the error attached when a scripted job turns failed.
func (s *Server) FailWith(id string, jobErr domain.JobError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = &jobErr
}

// FailNext makes the next len(statuses) requests answer with those HTTP
// statuses before reaching any handler.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// SetAsset overrides the bytes of one variant. Nil data removes it.
func (s *Server) SetAsset(id string, variant domain.Variant, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assets[id] == nil {
		s.assets[id] = make(map[domain.Variant][]byte)
	}
	if data == nil {
		delete(s.assets[id], variant)
		return
	}
	s.assets[id][variant] = data
}

// Job returns a copy of the stored job.
func (s *Server) Job(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// Downloads counts content requests for id and variant, including failed ones.
func (s *Server) Downloads(id string, variant domain.Variant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[id+"/"+string(variant)]
}

// TotalDownloads counts content requests for id across variants.
func (s *Server) TotalDownloads(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, v := range domain.Variants {
		total += s.downloads[id+"/"+string(v)]
	}
	return total
}

// Retrieves counts status checks for id.
func (s *Server) Retrieves(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrieves[id]
}

// ReferenceType returns the content type of the input_reference sent with id.
func (s *Server) ReferenceType(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id]
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+APIKey {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Incorrect API key provided")
			return
		}
		s.mu.Lock()
		if len(s.failures) > 0 {
			status := s.failures[0]
			s.failures = s.failures[1:]
			s.mu.Unlock()
			writeError(w, status, "server_error", "injected failure")
			return
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected multipart form")
		return
	}
	prompt := r.FormValue("prompt")
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "missing_prompt", "prompt is required")
		return
	}
	job := domain.Job{
		Status:  domain.StatusQueued,
		Prompt:  prompt,
		Model:   orDefault(r.FormValue("model"), domain.DefaultModel),
		Size:    orDefault(r.FormValue("size"), domain.DefaultSize),
		Seconds: orDefault(r.FormValue("seconds"), domain.DefaultSeconds),
	}
	refType := ""
	if file, header, err := r.FormFile("input_reference"); err == nil {
		_, _ = io.Copy(io.Discard, file)
		_ = file.Close()
		refType = header.Header.Get("Content-Type")
	}

	s.mu.Lock()
	job.ID = s.nextIDLocked()
	job.CreatedAt = int64(1_700_000_000 + s.seq)
	job.Object = "video"
	stored := job
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	if refType != "" {
		s.refs[job.ID] = refType
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, toWire(job))
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "video_not_found", fmt.Sprintf("Video with id '%s' not found.", id))
		return
	}
	s.retrieves[id]++
	if script := s.scripts[id]; len(script) > 0 {
		next := script[0]
		if len(script) > 1 {
			s.scripts[id] = script[1:]
		}
		s.applyLocked(job, next)
	}
	out := *job
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, toWire(out))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	after := q.Get("after")
	order := q.Get("order")

	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	if order != "asc" {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	start := 0
	if after != "" {
		for i, id := range ids {
			if id == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := wireList{Object: "list", Data: []wireJob{}, HasMore: end < len(ids)}
	for _, id := range ids[start:end] {
		page.Data = append(page.Data, toWire(*s.jobs[id]))
	}
	s.mu.Unlock()

	if len(page.Data) > 0 {
		page.FirstID = page.Data[0].ID
		page.LastID = page.Data[len(page.Data)-1].ID
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
		delete(s.assets, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "video_not_found", fmt.Sprintf("Video with id '%s' not found.", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "video.deleted", "deleted": true})
}

func (s *Server) content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	variant, ok := domain.ParseVariant(r.URL.Query().Get("variant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_variant", "unknown variant")
		return
	}
	s.mu.Lock()
	s.downloads[id+"/"+string(variant)]++
	job, found := s.jobs[id]
	var status domain.Status
	var data []byte
	if found {
		status = job.Status
		data = s.assets[id][variant]
	}
	s.mu.Unlock()

	switch {
	case !found:
		writeError(w, http.StatusNotFound, "video_not_found", fmt.Sprintf("Video with id '%s' not found.", id))
	case status != domain.StatusCompleted:
		writeError(w, http.StatusBadRequest, "video_not_ready", "Video is not ready yet, use GET /v1/videos/{video_id} to check status.")
	case data == nil:
		writeError(w, http.StatusNotFound, "variant_not_found", fmt.Sprintf("Variant '%s' is not available.", variant))
	default:
		w.Header().Set("Content-Type", variant.ContentType())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (s *Server) remix(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "missing_prompt", "prompt is required")
		return
	}
	s.mu.Lock()
	source, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "video_not_found", fmt.Sprintf("Video with id '%s' not found.", id))
		return
	}
	if source.Status != domain.StatusCompleted {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "video_not_ready", "Only completed videos can be remixed.")
		return
	}
	job := domain.Job{
		ID:                 s.nextIDLocked(),
		Object:             "video",
		Status:             domain.StatusQueued,
		Model:              source.Model,
		Size:               source.Size,
		Seconds:            source.Seconds,
		Prompt:             body.Prompt,
		RemixedFromVideoID: source.ID,
	}
	job.CreatedAt = int64(1_700_000_000 + s.seq)
	stored := job
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, toWire(job))
}

func (s *Server) applyLocked(job *domain.Job, status domain.Status) {
	job.Status = status
	job.Progress = nil
	job.Error = nil
	switch status {
	case domain.StatusRunning:
		p := 50
		job.Progress = &p
	case domain.StatusCompleted:
		p := 100
		job.Progress = &p
		job.CompletedAt = job.CreatedAt + 60
		if _, ok := s.assets[job.ID]; !ok {
			s.defaultAssetsLocked(job.ID)
		}
	case domain.StatusFailed:
		jobErr := domain.JobError{Code: "generation_failed", Message: "The video could not be generated."}
		if custom := s.errors[job.ID]; custom != nil {
			jobErr = *custom
		}
		job.Error = &jobErr
	}
}

func (s *Server) defaultAssetsLocked(id string) {
	s.assets[id] = map[domain.Variant][]byte{
		domain.VariantVideo:       []byte("mp4:" + id),
		domain.VariantThumbnail:   []byte("webp:" + id),
		domain.VariantSpritesheet: []byte("jpg:" + id),
	}
}

func (s *Server) nextIDLocked() string {
	s.seq++
	return fmt.Sprintf("video_%04d", s.seq)
}

// wireJob renders a job the way the provider does, with "in_progress" for
// running jobs.
type wireJob struct {
	domain.Job
	Status string `json:"status"`
}

type wireList struct {
	Object  string    `json:"object"`
	Data    []wireJob `json:"data"`
	HasMore bool      `json:"has_more"`
	FirstID string    `json:"first_id,omitempty"`
	LastID  string    `json:"last_id,omitempty"`
}

func toWire(job domain.Job) wireJob {
	status := string(job.Status)
	if job.Status == domain.StatusRunning {
		status = "in_progress"
	}
	return wireJob{Job: job, Status: status}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	})
}
