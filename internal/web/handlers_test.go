package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/recordcheck/internal/config"
	"github.com/JonMunkholm/recordcheck/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, v core.Validator) (*Server, *core.Service) {
	t.Helper()
	if v == nil {
		v = core.FormatValidator{}
	}
	svc, err := core.NewService(core.NewMemoryStore(), v, core.Options{Concurrency: 2})
	require.NoError(t, err)
	return NewServer(svc, cfg), svc
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, s *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func getStatus(t *testing.T, s *Server, id string) (*httptest.ResponseRecorder, core.Snapshot) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status/"+id, nil))
	var snap core.Snapshot
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	}
	return rec, snap
}

func waitForJobs(t *testing.T, svc *core.Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))
}

const mixedCSV = "name,email\nJohn,john@example.com\nJane,jane@example.com\nInvalid,invalid-email\n"

func TestUpload_AcceptsAndCompletes(t *testing.T) {
	s, svc := newTestServer(t, testConfig(), nil)

	rec := upload(t, s, "people.csv", []byte(mixedCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res core.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.UploadID)
	assert.Equal(t, 3, res.TotalRecords)

	waitForJobs(t, svc)

	statusRec, snap := getStatus(t, s, res.UploadID)
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Equal(t, core.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.ProcessedRecords)
	assert.Equal(t, "100%", snap.Progress)
	require.Len(t, snap.FailedRecords, 1)
	assert.Equal(t, "Invalid email format", snap.FailedRecords[0].Error)
}

func TestUpload_StatusWireFormat(t *testing.T) {
	s, svc := newTestServer(t, testConfig(), nil)

	rec := upload(t, s, "people.csv", []byte(mixedCSV))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uploadId"`)
	assert.Contains(t, rec.Body.String(), `"totalRecords":3`)

	var res core.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	waitForJobs(t, svc)

	statusRec, _ := getStatus(t, s, res.UploadID)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &raw))
	for _, key := range []string{"uploadId", "status", "totalRecords", "processedRecords", "failedRecords", "progress", "createdAt", "completedAt"} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "error")
	assert.Equal(t, "application/json", statusRec.Header().Get("Content-Type"))
}

func TestUpload_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"name", "email"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"John", "john@example.com"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, svc := newTestServer(t, testConfig(), nil)
	rec := upload(t, s, "people.xlsx", buf.Bytes())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res core.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.TotalRecords)
	waitForJobs(t, svc)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		wantCode string
	}{
		{"missing email", "bad.csv", []byte("name,email\nJohn,\n"), "FILE002"},
		{"header only", "empty.csv", []byte("name,email\n"), "FILE005"},
		{"empty file", "empty.csv", []byte{}, "FILE005"},
		{"binary", "image.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "FILE003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, testConfig(), nil)
			rec := upload(t, s, tt.filename, tt.content)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Action)
		})
	}
}

func TestUpload_NoFile(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), nil)

	body, contentType := multipartBody(t, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE004", resp.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 256
	s, _ := newTestServer(t, cfg, nil)

	big := "name,email\n" + strings.Repeat("John,john@example.com\n", 100)
	rec := upload(t, s, "big.csv", []byte(big))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE001", resp.Code)
}

func TestStatus_UnknownID(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), nil)

	rec, _ := getStatus(t, s, "does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "JOB001", resp.Code)
}

func TestStatus_ProcessingThenCompleted(t *testing.T) {
	release := make(chan struct{})
	v := core.ValidatorFunc(func(ctx context.Context, rec core.Record) (core.Verdict, error) {
		<-release
		return core.FormatValidator{}.Validate(ctx, rec)
	})
	s, svc := newTestServer(t, testConfig(), v)

	rec := upload(t, s, "people.csv", []byte(mixedCSV))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var res core.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	_, snap := getStatus(t, s, res.UploadID)
	assert.Equal(t, core.StatusProcessing, snap.Status)
	assert.Equal(t, "0%", snap.Progress)
	assert.Nil(t, snap.CompletedAt)

	close(release)
	waitForJobs(t, svc)

	_, snap = getStatus(t, s, res.UploadID)
	assert.Equal(t, core.StatusCompleted, snap.Status)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Limiter.MaxConcurrent)
	assert.Equal(t, 2, resp.Limiter.Available)
}

func TestUpload_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	s, svc := newTestServer(t, cfg, nil)

	first := upload(t, s, "people.csv", []byte(mixedCSV))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := upload(t, s, "people.csv", []byte(mixedCSV))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE001")

	// Status polling has its own, larger budget.
	var res core.SubmitResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &res))
	rec, _ := getStatus(t, s, res.UploadID)
	assert.Equal(t, http.StatusOK, rec.Code)

	waitForJobs(t, svc)
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
