package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"hearing-transcripts-go/internal/brief"
	"hearing-transcripts-go/internal/logger"
	"hearing-transcripts-go/internal/pipeline"
	"hearing-transcripts-go/internal/storage"
	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/types"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (d *recordingDispatcher) Post(ev pipeline.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

type stubBriefs struct {
	in  brief.Input
	err error
}

func (s *stubBriefs) Generate(_ context.Context, in brief.Input) (brief.CaseBrief, error) {
	s.in = in
	if s.err != nil {
		return brief.CaseBrief{}, s.err
	}
	b := brief.CaseBrief{CaseTitle: in.CaseName}
	b.FillDefaults()
	return b, nil
}

type env struct {
	app        *fiber.App
	store      *store.Store
	dispatcher *recordingDispatcher
	briefs     *stubBriefs
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	d := &recordingDispatcher{}
	b := &stubBriefs{}
	app := NewApp(&Handler{
		Store:      st,
		Blobs:      blobs,
		Dispatcher: d,
		Briefs:     b,
		Logger:     logger.New(logger.Options{Environment: "test", Output: io.Discard}),
		Language:   "en",
	})
	return &env{app: app, store: st, dispatcher: d, briefs: b}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

func (e *env) do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out envelope
	if resp.Header.Get(fiber.HeaderContentType) == fiber.MIMEApplicationJSON {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp, out
}

func upload(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("audio", filename)
		require.NoError(t, err)
		fw.Write([]byte("RIFF....WAVEfmt "))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recordings", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body.Status)
	assert.NotEmpty(t, resp.Header.Get(logger.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(logger.RequestIDHeader, "req-123")
	resp, _ := e.do(t, req)
	assert.Equal(t, "req-123", resp.Header.Get(logger.RequestIDHeader))
}

func TestCreateRecording(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, upload(t, "hearing.WAV", map[string]string{
		"case_name":   "State v. Doe",
		"case_number": "CR-2024-17",
	}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var rec types.Recording
	require.NoError(t, json.Unmarshal(body.Data, &rec))
	assert.Equal(t, types.RecordingPending, rec.Status)
	assert.Equal(t, "en", rec.Language)
	assert.FileExists(t, rec.AudioRef)

	stored, err := e.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "State v. Doe", stored.CaseName)

	require.Len(t, e.dispatcher.events, 1)
	assert.Equal(t, pipeline.Event{Kind: pipeline.RecordingCreated, RecordingID: rec.ID}, e.dispatcher.events[0])
}

func TestCreateRecordingValidation(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, upload(t, "", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "audio file is required", body.Message)

	resp, _ = e.do(t, upload(t, "notes.txt", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, body = e.do(t, upload(t, "a.wav", map[string]string{"language": "e"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Len(t, body.Errors, 1)
	assert.Contains(t, body.Errors[0], "Language")

	assert.Empty(t, e.dispatcher.events)
}

func seed(t *testing.T, e *env, status types.ChunkStatus) (*types.Recording, []types.Chunk) {
	t.Helper()
	ctx := context.Background()
	rec := &types.Recording{AudioRef: "x.wav", CaseName: "State v. Doe", CaseNumber: "CR-1"}
	require.NoError(t, e.store.CreateRecording(ctx, rec))
	require.NoError(t, e.store.CreateChunks(ctx, rec.ID, []types.Chunk{{ChunkIndex: 0}, {ChunkIndex: 1}}))
	chunks, err := e.store.ListChunks(ctx, store.ChunkFilter{RecordingID: rec.ID})
	require.NoError(t, err)
	if status == types.ChunkDiarized {
		text, diar := "all rise", "Speaker 1: all rise"
		for _, c := range chunks {
			_, err := e.store.TransitionChunk(ctx, c.ID, types.ChunkPending, store.ChunkUpdate{To: types.ChunkProcessing})
			require.NoError(t, err)
			_, err = e.store.TransitionChunk(ctx, c.ID, types.ChunkProcessing, store.ChunkUpdate{To: types.ChunkCompleted, TranscriptText: &text})
			require.NoError(t, err)
			_, err = e.store.TransitionChunk(ctx, c.ID, types.ChunkCompleted, store.ChunkUpdate{To: types.ChunkDiarized, DiarizationText: &diar})
			require.NoError(t, err)
		}
		require.NoError(t, e.store.UpdateRecording(ctx, rec.ID, map[string]any{
			"status":           types.RecordingCompleted,
			"transcript_text":  "all rise\nall rise",
			"diarization_text": "Speaker 1: all rise\nSpeaker 1: all rise",
		}))
	}
	chunks, err = e.store.ListChunks(ctx, store.ChunkFilter{RecordingID: rec.ID})
	require.NoError(t, err)
	return rec, chunks
}

func TestGetRecordingAndChunks(t *testing.T) {
	e := newEnv(t)
	rec, chunks := seed(t, e, types.ChunkPending)

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings/"+rec.ID, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got types.Recording
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.True(t, got.Segmented)
	assert.Equal(t, 2, got.TotalChunks)

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings/"+rec.ID+"/chunks", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []types.Chunk
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Len(t, list, 2)

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chunks/"+chunks[1].ID, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var one types.Chunk
	require.NoError(t, json.Unmarshal(body.Data, &one))
	assert.Equal(t, 1, one.ChunkIndex)

	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chunks/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListChunksByStatus(t *testing.T) {
	e := newEnv(t)
	seed(t, e, types.ChunkPending)
	seed(t, e, types.ChunkDiarized)

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chunks?status=diarized,failed", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []types.Chunk
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Len(t, list, 2)
	for _, c := range list {
		assert.Equal(t, types.ChunkDiarized, c.Status)
	}
}

func TestListRecordings(t *testing.T) {
	e := newEnv(t)
	seed(t, e, types.ChunkPending)
	seed(t, e, types.ChunkDiarized)

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings?status=completed", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []types.Recording
	require.NoError(t, json.Unmarshal(body.Data, &recs))
	assert.Len(t, recs, 1)

	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDiarization(t *testing.T) {
	e := newEnv(t)
	pending, _ := seed(t, e, types.ChunkPending)
	resp, _ := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings/"+pending.ID+"/diarization", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	done, _ := seed(t, e, types.ChunkDiarized)
	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/recordings/"+done.ID+"/diarization", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Text     string            `json:"text"`
		Segments []diarizedSegment `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Equal(t, "Speaker 1: all rise\nSpeaker 1: all rise", out.Text)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, 1, out.Segments[1].ChunkIndex)
}

func TestGetReport(t *testing.T) {
	e := newEnv(t)
	rec, _ := seed(t, e, types.ChunkDiarized)

	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/recordings/"+rec.ID+"/report.xlsx", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), rec.ID+".xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Chunks")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCreateBrief(t *testing.T) {
	e := newEnv(t)
	pending, _ := seed(t, e, types.ChunkPending)
	resp, _ := e.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/recordings/"+pending.ID+"/brief", nil))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	done, _ := seed(t, e, types.ChunkDiarized)
	resp, body := e.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/recordings/"+done.ID+"/brief", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b brief.CaseBrief
	require.NoError(t, json.Unmarshal(body.Data, &b))
	assert.Equal(t, "State v. Doe", b.CaseTitle)
	assert.Equal(t, brief.Placeholder, b.Verdict)
	assert.Equal(t, "Speaker 1: all rise\nSpeaker 1: all rise", e.briefs.in.Transcript)

	e.briefs.err = brief.ErrNotConfigured
	resp, _ = e.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/recordings/"+done.ID+"/brief", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	e.briefs.err = errors.New("gateway down")
	resp, _ = e.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/recordings/"+done.ID+"/brief", nil))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
}
