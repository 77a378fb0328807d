package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"hearing-transcripts-go/internal/brief"
	"hearing-transcripts-go/internal/logger"
	"hearing-transcripts-go/internal/pipeline"
	"hearing-transcripts-go/internal/report"
	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/types"
)

type Store interface {
	CreateRecording(ctx context.Context, rec *types.Recording) error
	GetRecording(ctx context.Context, id string) (*types.Recording, error)
	ListRecordings(ctx context.Context, f store.RecordingFilter) ([]types.Recording, error)
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
	ListChunks(ctx context.Context, f store.ChunkFilter) ([]types.Chunk, error)
}

type Blobs interface {
	Put(name string, r io.Reader) (string, error)
	Remove(name string) error
}

type Dispatcher interface {
	Post(ev pipeline.Event) error
}

type BriefGenerator interface {
	Generate(ctx context.Context, in brief.Input) (brief.CaseBrief, error)
}

// Handler holds the dependencies of the HTTP surface.
type Handler struct {
	Store      Store
	Blobs      Blobs
	Dispatcher Dispatcher
	Briefs     BriefGenerator
	Logger     *logger.Logger
	Language   string

	validate *validator.Validate
}

type createRecordingForm struct {
	CaseName   string `validate:"max=255"`
	CaseNumber string `validate:"max=100"`
	Language   string `validate:"omitempty,min=2,max=16,alpha"`
}

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true, ".aac": true, ".webm": true,
}

// NewApp builds the fiber app with all routes mounted under /api/v1.
func NewApp(h *Handler) *fiber.App {
	h.validate = validator.New()

	app := fiber.New(fiber.Config{
		AppName:      "hearing-transcripts",
		BodyLimit:    1 << 30,
		ErrorHandler: errorHandler,
	})
	app.Use(RequestLogger(h.Logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return RespondWithJSON(c, fiber.StatusOK, fiber.Map{"ok": true})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/recordings", h.CreateRecording)
	v1.Get("/recordings", h.ListRecordings)
	v1.Get("/recordings/:id", h.GetRecording)
	v1.Get("/recordings/:id/chunks", h.ListRecordingChunks)
	v1.Get("/recordings/:id/diarization", h.GetDiarization)
	v1.Get("/recordings/:id/report.xlsx", h.GetReport)
	v1.Post("/recordings/:id/brief", h.CreateBrief)
	v1.Get("/chunks", h.ListChunks)
	v1.Get("/chunks/:id", h.GetChunk)
	return app
}

func (h *Handler) notFoundOr500(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return RespondWithError(c, fiber.StatusNotFound, err.Error())
	}
	h.Logger.WithError(err).Error("store error")
	return RespondWithError(c, fiber.StatusInternalServerError, "internal error")
}

// CreateRecording accepts a multipart upload with an "audio" file and
// queues the recording for segmentation.
func (h *Handler) CreateRecording(c *fiber.Ctx) error {
	form := createRecordingForm{
		CaseName:   strings.TrimSpace(c.FormValue("case_name")),
		CaseNumber: strings.TrimSpace(c.FormValue("case_number")),
		Language:   strings.TrimSpace(c.FormValue("language")),
	}
	if err := h.validate.Struct(form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "invalid form",
			"errors":  FormatValidationErrors(err),
		})
	}

	file, err := c.FormFile("audio")
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, "audio file is required")
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !audioExts[ext] {
		return RespondWithError(c, fiber.StatusUnsupportedMediaType, fmt.Sprintf("unsupported audio type %q", ext))
	}

	src, err := file.Open()
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, "could not read upload")
	}
	defer src.Close()

	id := uuid.New().String()
	name := id + ext
	path, err := h.Blobs.Put(name, src)
	if err != nil {
		h.Logger.WithError(err).Error("store upload failed")
		return RespondWithError(c, fiber.StatusInternalServerError, "could not store audio")
	}

	language := form.Language
	if language == "" {
		language = h.Language
	}
	rec := &types.Recording{
		ID:         id,
		AudioRef:   path,
		CaseName:   form.CaseName,
		CaseNumber: form.CaseNumber,
		Language:   language,
	}
	if err := h.Store.CreateRecording(c.UserContext(), rec); err != nil {
		_ = h.Blobs.Remove(name)
		h.Logger.WithError(err).Error("create recording failed")
		return RespondWithError(c, fiber.StatusInternalServerError, "could not create recording")
	}

	if err := h.Dispatcher.Post(pipeline.Event{Kind: pipeline.RecordingCreated, RecordingID: rec.ID}); err != nil {
		// stays pending; picked up by resume
		h.Logger.WithError(err).WithField("recording_id", rec.ID).Warn("recording not queued")
	}

	h.Logger.WithField("recording_id", rec.ID).WithField("bytes", file.Size).Info("recording accepted")
	return RespondWithJSON(c, fiber.StatusAccepted, rec)
}

func (h *Handler) ListRecordings(c *fiber.Ctx) error {
	f := store.RecordingFilter{
		Status: types.RecordingStatus(c.Query("status")),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	if f.Limit < 1 || f.Limit > 500 || f.Offset < 0 {
		return RespondWithError(c, fiber.StatusBadRequest, "limit must be 1-500 and offset non-negative")
	}
	recs, err := h.Store.ListRecordings(c.UserContext(), f)
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	return RespondWithJSON(c, fiber.StatusOK, recs)
}

func (h *Handler) GetRecording(c *fiber.Ctx) error {
	rec, err := h.Store.GetRecording(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	return RespondWithJSON(c, fiber.StatusOK, rec)
}

func (h *Handler) ListRecordingChunks(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.Store.GetRecording(c.UserContext(), id); err != nil {
		return h.notFoundOr500(c, err)
	}
	chunks, err := h.Store.ListChunks(c.UserContext(), store.ChunkFilter{RecordingID: id})
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	return RespondWithJSON(c, fiber.StatusOK, chunks)
}

// ListChunks filters by ?recording_id= and a comma separated ?status=.
func (h *Handler) ListChunks(c *fiber.Ctx) error {
	f := store.ChunkFilter{RecordingID: c.Query("recording_id")}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, types.ChunkStatus(strings.TrimSpace(s)))
		}
	}
	chunks, err := h.Store.ListChunks(c.UserContext(), f)
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	return RespondWithJSON(c, fiber.StatusOK, chunks)
}

func (h *Handler) GetChunk(c *fiber.Ctx) error {
	chunk, err := h.Store.GetChunk(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	return RespondWithJSON(c, fiber.StatusOK, chunk)
}

type diarizedSegment struct {
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// GetDiarization returns the recording's speaker-labelled text and the
// diarized chunks it was assembled from.
func (h *Handler) GetDiarization(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rec, err := h.Store.GetRecording(ctx, c.Params("id"))
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	if rec.DiarizationText == "" {
		return RespondWithError(c, fiber.StatusNotFound, "no diarization available yet")
	}
	chunks, err := h.Store.ListChunks(ctx, store.ChunkFilter{RecordingID: rec.ID, Statuses: []types.ChunkStatus{types.ChunkDiarized}})
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	segments := make([]diarizedSegment, 0, len(chunks))
	for _, ch := range chunks {
		segments = append(segments, diarizedSegment{ChunkID: ch.ID, ChunkIndex: ch.ChunkIndex, Text: ch.Diarization()})
	}
	return RespondWithJSON(c, fiber.StatusOK, fiber.Map{
		"recording_id": rec.ID,
		"status":       rec.Status,
		"text":         rec.DiarizationText,
		"segments":     segments,
	})
}

func (h *Handler) GetReport(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rec, err := h.Store.GetRecording(ctx, c.Params("id"))
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	chunks, err := h.Store.ListChunks(ctx, store.ChunkFilter{RecordingID: rec.ID})
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	buf, err := report.Build(rec, chunks)
	if err != nil {
		h.Logger.WithError(err).Error("build report failed")
		return RespondWithError(c, fiber.StatusInternalServerError, "could not build report")
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+rec.ID+`.xlsx"`)
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

// CreateBrief generates a case brief from a completed recording.
func (h *Handler) CreateBrief(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rec, err := h.Store.GetRecording(ctx, c.Params("id"))
	if err != nil {
		return h.notFoundOr500(c, err)
	}
	if rec.Status != types.RecordingCompleted || rec.TranscriptText == "" {
		return RespondWithError(c, fiber.StatusConflict, "recording has no completed transcript")
	}

	transcript := rec.DiarizationText
	if transcript == "" {
		transcript = rec.TranscriptText
	}
	b, err := h.Briefs.Generate(ctx, brief.Input{
		CaseName:   rec.CaseName,
		CaseNumber: rec.CaseNumber,
		Transcript: transcript,
	})
	if errors.Is(err, brief.ErrNotConfigured) {
		return RespondWithError(c, fiber.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		h.Logger.WithError(err).WithField("recording_id", rec.ID).Error("case brief failed")
		return RespondWithError(c, fiber.StatusBadGateway, "case brief generation failed")
	}
	return RespondWithJSON(c, fiber.StatusOK, b)
}
