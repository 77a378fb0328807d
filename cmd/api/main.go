package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hearing-transcripts-go/internal/api"
	"hearing-transcripts-go/internal/config"
	"hearing-transcripts-go/internal/logger"
	"hearing-transcripts-go/internal/pipeline"
	"hearing-transcripts-go/internal/types"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hearings",
		Short:        "Chunked transcription and diarization of court hearing audio",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newProcessCmd(os.Stdout), newResumeCmd())
	return root
}

// setup loads configuration and wires the app. Callers must Close it.
func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log = &logger.Logger{Entry: log.WithField("service", "hearing-transcripts")}
	return newApp(cfg, log)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pipeline workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := a.runner.Resume(ctx); err != nil {
				a.log.WithError(err).Warn("resume failed")
			}
			a.runner.Start(context.WithoutCancel(ctx))

			server := api.NewApp(a.handler())
			errc := make(chan error, 1)
			go func() {
				addr := ":" + a.cfg.Port
				a.log.WithField("addr", addr).Info("starting server")
				errc <- server.Listen(addr)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
				a.log.WithError(err).Warn("server shutdown")
			}
			return nil
		},
	}
}

func newProcessCmd(out io.Writer) *cobra.Command {
	var caseName, caseNumber, language string
	var diarized bool

	cmd := &cobra.Command{
		Use:   "process <audio-file>",
		Short: "Process one recording to completion and print its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := ingest(cmd.Context(), a, args[0], caseName, caseNumber, language)
			if err != nil {
				return err
			}
			if err := a.runner.Post(pipeline.Event{Kind: pipeline.RecordingCreated, RecordingID: rec.ID}); err != nil {
				return err
			}
			a.runner.Start(cmd.Context())
			a.runner.Wait()

			rec, err = a.store.GetRecording(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}
			a.log.WithField("recording_id", rec.ID).WithField("status", rec.Status).Info("recording processed")
			if rec.Status == types.RecordingFailed {
				return fmt.Errorf("recording %s failed: %s", rec.ID, rec.FailureReason)
			}
			text := rec.TranscriptText
			if diarized {
				text = rec.DiarizationText
			}
			_, err = fmt.Fprintln(out, text)
			return err
		},
	}
	cmd.Flags().StringVar(&caseName, "case-name", "", "case name stored with the recording")
	cmd.Flags().StringVar(&caseNumber, "case-number", "", "case number stored with the recording")
	cmd.Flags().StringVar(&language, "language", "", "spoken language, defaults to TRANSCRIBE_LANGUAGE")
	cmd.Flags().BoolVar(&diarized, "diarized", false, "print speaker-labelled text instead of the plain transcript")
	return cmd
}

// ingest copies a local audio file into blob storage and records it.
func ingest(ctx context.Context, a *app, path, caseName, caseNumber, language string) (*types.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	id := uuid.New().String()
	name := id + strings.ToLower(filepath.Ext(path))
	ref, err := a.blobs.Put(name, f)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = a.cfg.TranscribeLanguage
	}
	rec := &types.Recording{
		ID:         id,
		AudioRef:   ref,
		CaseName:   caseName,
		CaseNumber: caseNumber,
		Language:   language,
	}
	if err := a.store.CreateRecording(ctx, rec); err != nil {
		return nil, errors.Join(err, a.blobs.Remove(name))
	}
	return rec, nil
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Finish work left behind by a previous run, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.runner.Resume(cmd.Context())
			if err != nil {
				return err
			}
			a.runner.Start(cmd.Context())
			a.runner.Wait()
			a.log.WithField("events", n).Info("resume finished")
			return nil
		},
	}
}
