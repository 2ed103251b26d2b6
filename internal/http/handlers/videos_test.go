package handlers_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
	"sorastudio/internal/http/handlers"
	"sorastudio/internal/http/httpapi"
	"sorastudio/internal/infra"
	"sorastudio/internal/providers/video"
	"sorastudio/internal/providers/video/videotest"
)

func newTestAPI(t *testing.T) (*videotest.Server, http.Handler) {
	t.Helper()
	upstream := videotest.NewServer()
	t.Cleanup(upstream.Close)
	client, err := video.NewClient(video.Options{APIKey: videotest.APIKey, BaseURL: upstream.BaseURL()})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	cfg := &infra.Config{DefaultLocale: "en", MaxUploadBytes: 1 << 20}
	app := handlers.NewApp(cfg, zerolog.Nop(), client)
	router := httpapi.NewRouter(app, httpapi.OptionsFromConfig(cfg, zerolog.Nop(), nil))
	return upstream, router
}

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, file *formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input_reference"; filename=%q`, file.name))
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(file.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/videos/create", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rr)["error"]
}

func TestCreateThenRetrieveEchoesParameters(t *testing.T) {
	upstream, api := newTestAPI(t)

	rr := serve(api, multipartRequest(t, map[string]string{
		"prompt":  "a paper boat in the rain",
		"size":    "720x1280",
		"seconds": "4",
		"model":   "sora-2-pro",
	}, &formFile{name: "ref.png", contentType: "image/png", data: []byte("\x89PNG")}))
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[domain.Job](t, rr)
	if created.ID == "" || created.Status != domain.StatusQueued {
		t.Fatalf("created job = %+v", created)
	}
	if got := upstream.ReferenceType(created.ID); got != "image/png" {
		t.Fatalf("reference type = %q", got)
	}

	upstream.Script(created.ID, domain.StatusRunning)
	rr = serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/retrieve?id="+created.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d", rr.Code)
	}
	job := decode[domain.Job](t, rr)
	if job.Size != "720x1280" || job.Seconds != "4" || job.Model != "sora-2-pro" {
		t.Fatalf("retrieved job = %+v", job)
	}
	if job.Status != domain.StatusRunning {
		t.Fatalf("status = %q, want running", job.Status)
	}
	if !strings.Contains(rr.Body.String(), `"status":"running"`) {
		t.Fatalf("expected normalised status in body: %s", rr.Body.String())
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	_, api := newTestAPI(t)
	rr := serve(api, multipartRequest(t, map[string]string{"prompt": "a lighthouse"}, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	job := decode[domain.Job](t, rr)
	if job.Model != domain.DefaultModel || job.Size != domain.DefaultSize || job.Seconds != domain.DefaultSeconds {
		t.Fatalf("defaults not applied: %+v", job)
	}
}

func TestCreateValidation(t *testing.T) {
	_, api := newTestAPI(t)

	tests := []struct {
		name    string
		fields  map[string]string
		file    *formFile
		locale  string
		wantMsg string
	}{
		{name: "missing prompt", fields: map[string]string{"prompt": "  "}, wantMsg: "Prompt is required"},
		{name: "missing prompt id", fields: map[string]string{}, locale: "id", wantMsg: "Prompt wajib diisi"},
		{name: "bad size", fields: map[string]string{"prompt": "x", "size": "640x480"}, wantMsg: "Unsupported size"},
		{name: "bad seconds", fields: map[string]string{"prompt": "x", "seconds": "9"}, wantMsg: "Unsupported duration"},
		{name: "bad model", fields: map[string]string{"prompt": "x", "model": "sora-1"}, wantMsg: "Unsupported model"},
		{
			name:    "bad reference type",
			fields:  map[string]string{"prompt": "x"},
			file:    &formFile{name: "ref.gif", contentType: "image/gif", data: []byte("GIF89a")},
			wantMsg: "Reference image must be JPEG, PNG or WebP",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := multipartRequest(t, tc.fields, tc.file)
			if tc.locale != "" {
				req.Header.Set("X-Locale", tc.locale)
			}
			rr := serve(api, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if got := errorMessage(t, rr); got != tc.wantMsg {
				t.Fatalf("error = %q, want %q", got, tc.wantMsg)
			}
		})
	}
}

func TestCreateRejectsOversizedUpload(t *testing.T) {
	_, api := newTestAPI(t)
	big := bytes.Repeat([]byte{0xff}, 3<<20)
	rr := serve(api, multipartRequest(t, map[string]string{"prompt": "x"}, &formFile{name: "big.jpg", contentType: "image/jpeg", data: big}))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestRetrieveErrors(t *testing.T) {
	_, api := newTestAPI(t)

	rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/retrieve", nil))
	if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "Video ID is required" {
		t.Fatalf("missing id: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/retrieve?id=video_nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rr.Code)
	}
	if got := errorMessage(t, rr); got != "Video with id 'video_nope' not found." {
		t.Fatalf("error = %q", got)
	}
}

func TestUpstreamFailuresMapToBadGateway(t *testing.T) {
	upstream, api := newTestAPI(t)
	upstream.Put(domain.Job{ID: "video_1", Status: domain.StatusQueued})

	upstream.FailNext(http.StatusInternalServerError)
	rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/retrieve?id=video_1", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("upstream 500 status = %d, want 502", rr.Code)
	}

	upstream.Close()
	req := httptest.NewRequest(http.MethodGet, "/api/videos/retrieve?id=video_1", nil)
	req.Header.Set("Accept-Language", "id-ID,id;q=0.9")
	rr = serve(api, req)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("network failure status = %d, want 502", rr.Code)
	}
	if got := errorMessage(t, rr); got != "Gagal mengambil video" {
		t.Fatalf("error = %q, want localised fallback", got)
	}
}

func TestListPagination(t *testing.T) {
	upstream, api := newTestAPI(t)
	for _, id := range []string{"video_a", "video_b", "video_c"} {
		upstream.Put(domain.Job{ID: id, Status: domain.StatusCompleted})
	}

	rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/list?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	first := decode[domain.JobList](t, rr)
	if len(first.Data) != 2 || !first.HasMore {
		t.Fatalf("first page = %d items has_more=%v", len(first.Data), first.HasMore)
	}

	rr = serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/list?limit=2&after="+first.LastID, nil))
	second := decode[domain.JobList](t, rr)
	if len(second.Data) != 1 || second.HasMore {
		t.Fatalf("second page = %d items has_more=%v", len(second.Data), second.HasMore)
	}
	if second.Data[0].ID != "video_a" {
		t.Fatalf("remaining id = %s", second.Data[0].ID)
	}
}

func TestListValidation(t *testing.T) {
	_, api := newTestAPI(t)
	for _, query := range []string{"order=sideways", "limit=0", "limit=101", "limit=abc"} {
		t.Run(query, func(t *testing.T) {
			rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/list?"+query, nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	upstream, api := newTestAPI(t)
	upstream.Put(domain.Job{ID: "video_d", Status: domain.StatusCompleted})

	rr := serve(api, httptest.NewRequest(http.MethodDelete, "/api/videos/delete?id=video_d", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["success"] != true || body["message"] != "Video deleted successfully" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := upstream.Job("video_d"); ok {
		t.Fatal("job still present upstream")
	}
}

func TestDownload(t *testing.T) {
	upstream, api := newTestAPI(t)
	upstream.Put(domain.Job{ID: "video_done", Status: domain.StatusCompleted})
	upstream.Put(domain.Job{ID: "video_busy", Status: domain.StatusRunning})

	tests := []struct {
		name            string
		query           string
		wantStatus      int
		wantType        string
		wantDisposition string
		wantBody        string
	}{
		{
			name:            "default variant",
			query:           "id=video_done",
			wantStatus:      http.StatusOK,
			wantType:        "video/mp4",
			wantDisposition: `attachment; filename="video_done.mp4"`,
			wantBody:        "mp4:video_done",
		},
		{
			name:            "thumbnail",
			query:           "id=video_done&variant=thumbnail",
			wantStatus:      http.StatusOK,
			wantType:        "image/webp",
			wantDisposition: `attachment; filename="video_done.webp"`,
			wantBody:        "webp:video_done",
		},
		{
			name:            "spritesheet",
			query:           "id=video_done&variant=spritesheet",
			wantStatus:      http.StatusOK,
			wantType:        "image/jpeg",
			wantDisposition: `attachment; filename="video_done.jpg"`,
			wantBody:        "jpg:video_done",
		},
		{
			name:       "not completed",
			query:      "id=video_busy",
			wantStatus: http.StatusBadRequest,
			wantType:   "application/json",
		},
		{
			name:       "unknown variant",
			query:      "id=video_done&variant=poster",
			wantStatus: http.StatusBadRequest,
			wantType:   "application/json",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/download?"+tc.query, nil))
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if got := rr.Header().Get("Content-Type"); got != tc.wantType {
				t.Fatalf("content type = %q, want %q", got, tc.wantType)
			}
			if got := rr.Header().Get("Content-Disposition"); got != tc.wantDisposition {
				t.Fatalf("disposition = %q, want %q", got, tc.wantDisposition)
			}
			if tc.wantBody != "" && rr.Body.String() != tc.wantBody {
				t.Fatalf("body = %q, want %q", rr.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestDownloadBundle(t *testing.T) {
	upstream, api := newTestAPI(t)
	upstream.Put(domain.Job{ID: "video_z", Status: domain.StatusCompleted})
	upstream.SetAsset("video_z", domain.VariantSpritesheet, nil)

	rr := serve(api, httptest.NewRequest(http.MethodGet, "/api/videos/download?id=video_z&variant=bundle", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="video_z.zip"` {
		t.Fatalf("disposition = %q", got)
	}
	zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "video_z.mp4,video_z.webp" {
		t.Fatalf("entries = %v", names)
	}
}

func TestRemix(t *testing.T) {
	upstream, api := newTestAPI(t)
	upstream.Put(domain.Job{ID: "video_src", Status: domain.StatusCompleted, Model: "sora-2", Size: "1280x720", Seconds: "8", Prompt: "original"})

	rr := serve(api, httptest.NewRequest(http.MethodPost, "/api/videos/remix", strings.NewReader(`{"videoId":"video_src","prompt":"at night"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	job := decode[domain.Job](t, rr)
	if job.ID == "" || job.ID == "video_src" || job.RemixedFromVideoID != "video_src" {
		t.Fatalf("remix job = %+v", job)
	}
	source, _ := upstream.Job("video_src")
	if source.Prompt != "original" || source.Status != domain.StatusCompleted {
		t.Fatalf("source changed: %+v", source)
	}

	for _, body := range []string{`{"videoId":"video_src"}`, `{"prompt":"x"}`, `not json`} {
		rr := serve(api, httptest.NewRequest(http.MethodPost, "/api/videos/remix", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestHealthAndDocs(t *testing.T) {
	_, api := newTestAPI(t)

	rr := serve(api, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK || decode[map[string]string](t, rr)["status"] != "ok" {
		t.Fatalf("healthz = %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(api, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	doc := decode[map[string]any](t, rr)
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/videos/create", "/api/videos/retrieve", "/api/videos/list", "/api/videos/delete", "/api/videos/download", "/api/videos/remix"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}

	rr = serve(api, httptest.NewRequest(http.MethodGet, "/v1/docs", nil))
	if !strings.Contains(rr.Body.String(), "/v1/openapi.json") {
		t.Fatal("docs page does not reference the openapi document")
	}
}
