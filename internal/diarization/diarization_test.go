package diarization

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearing-transcripts-go/internal/align"
	"hearing-transcripts-go/internal/retry"
	"hearing-transcripts-go/internal/transcription"
)

type fakeDiarizer struct {
	calls int
	errs  []error
	turns []align.Turn
}

func (f *fakeDiarizer) Diarize(context.Context, string) ([]align.Turn, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.turns, nil
}

type fakeTranscriber struct {
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func newClient(d Engine, tr transcription.Engine) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(d, tr, retry.Policy{MaxAttempts: 5, Base: 2}, logger.WithField("test", true))
}

var twoSpeakers = []align.Turn{
	{Start: 0, End: 2, Speaker: "SPEAKER_01"},
	{Start: 2, End: 4, Speaker: "SPEAKER_00"},
}

func TestDiarizeAlignsAndFormats(t *testing.T) {
	d := &fakeDiarizer{turns: twoSpeakers}
	tr := &fakeTranscriber{text: "please be seated thank you"}

	res, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []align.Block{
		{Speaker: "SPEAKER_01", Text: "please be"},
		{Speaker: "SPEAKER_00", Text: "seated thank"},
	}, res.Blocks)
	assert.Equal(t, "Speaker 1: please be\n\nSpeaker 2: seated thank", res.Text)
}

func TestDiarizeRetriesWholeOperation(t *testing.T) {
	d := &fakeDiarizer{turns: twoSpeakers, errs: []error{errors.New("503"), errors.New("timeout")}}
	tr := &fakeTranscriber{text: "one two"}

	res, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, 1, tr.calls)
}

func TestDiarizeExhaustsBudget(t *testing.T) {
	d := &fakeDiarizer{turns: twoSpeakers}
	tr := &fakeTranscriber{err: errors.New("connection refused")}

	res, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	require.Error(t, err)
	assert.Equal(t, 5, tr.calls)
	assert.Equal(t, 5, res.Attempts)
	assert.Empty(t, res.Blocks)
	assert.Empty(t, res.Text)
}

func TestDiarizeNoTurnsIsPermanent(t *testing.T) {
	d := &fakeDiarizer{}
	tr := &fakeTranscriber{text: "words"}
	_, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Equal(t, 1, d.calls)
	assert.Zero(t, tr.calls)
}

func TestDiarizeEmptyAlignmentIsPermanent(t *testing.T) {
	d := &fakeDiarizer{turns: []align.Turn{{Start: 1, End: 1, Speaker: "A"}}}
	tr := &fakeTranscriber{text: "words that cannot be placed"}
	_, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Equal(t, 1, d.calls)

	var re *retry.Error
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Permanent)
}

func TestDiarizeEmptyTranscript(t *testing.T) {
	d := &fakeDiarizer{turns: twoSpeakers}
	tr := &fakeTranscriber{text: " "}
	_, err := newClient(d, tr).Diarize(context.Background(), "seg.wav", "en")
	assert.ErrorIs(t, err, transcription.ErrEmptyTranscript)
}

func segment(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec_chunk_1.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func TestHTTPEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diarize", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		file, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			file.Close()
			assert.Equal(t, "rec_chunk_1.wav", hdr.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duration":4,"turns":[{"start":0,"end":2,"speaker":"SPEAKER_00"},{"start":2,"end":4,"speaker":"SPEAKER_01"}]}`))
	}))
	defer srv.Close()

	turns, err := NewHTTPEngine(srv.URL+"/", "secret", 0).Diarize(context.Background(), segment(t))
	require.NoError(t, err)
	assert.Equal(t, []align.Turn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 4, Speaker: "SPEAKER_01"},
	}, turns)
}

func TestHTTPEngineClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"server error", http.StatusServiceUnavailable, `busy`, false},
		{"rate limited", http.StatusTooManyRequests, `slow down`, false},
		{"bad request", http.StatusBadRequest, `bad audio`, true},
		{"error field", http.StatusOK, `{"error":"model not loaded"}`, true},
		{"malformed", http.StatusOK, `<html>`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			}))
			defer srv.Close()

			_, err := NewHTTPEngine(srv.URL, "", 0).Diarize(context.Background(), segment(t))
			require.Error(t, err)
			assert.Equal(t, c.permanent, retry.IsPermanent(err))
		})
	}
}

func TestHTTPEngineMissingFile(t *testing.T) {
	_, err := NewHTTPEngine("http://127.0.0.1:1", "", 0).Diarize(context.Background(), "/nonexistent/seg.wav")
	assert.True(t, retry.IsPermanent(err))
}

func TestHTTPEngineTimelineIsTurnExtent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duration":120,"turns":[{"start":2,"end":3,"speaker":"A"},{"start":3,"end":4,"speaker":"B"}]}`))
	}))
	defer srv.Close()

	tr := &fakeTranscriber{text: "objection sustained"}
	res, err := newClient(NewHTTPEngine(srv.URL, "", 0), tr).Diarize(context.Background(), segment(t), "en")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: objection\n\nSpeaker 2: sustained", res.Text)
}
