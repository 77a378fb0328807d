package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"hearing-transcripts-go/internal/types"
)

const (
	RecordingSheet = "Recording"
	ChunksSheet    = "Chunks"
)

var chunkHeader = []string{
	"Index", "Start (s)", "Length (s)", "Status", "Attempts",
	"Failure Stage", "Failure Reason", "Transcript", "Diarization",
}

// Build renders a recording and its chunks as an xlsx workbook.
func Build(rec *types.Recording, chunks []types.Chunk) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RecordingSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	summary := [][2]any{
		{"Recording ID", rec.ID},
		{"Case Name", rec.CaseName},
		{"Case Number", rec.CaseNumber},
		{"Language", rec.Language},
		{"Status", string(rec.Status)},
		{"Total Chunks", rec.TotalChunks},
		{"Failed Chunks", rec.FailedChunks},
		{"Failure Reason", rec.FailureReason},
		{"Created", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Transcript", rec.TranscriptText},
		{"Diarization", rec.DiarizationText},
	}
	for i, kv := range summary {
		if err := setRow(f, RecordingSheet, i+1, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(ChunksSheet); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	header := make([]any, len(chunkHeader))
	for i, h := range chunkHeader {
		header[i] = h
	}
	if err := setRow(f, ChunksSheet, 1, header...); err != nil {
		return nil, err
	}
	for i, c := range chunks {
		err := setRow(f, ChunksSheet, i+2,
			c.ChunkIndex,
			c.Start.Seconds(),
			c.Length.Seconds(),
			string(c.Status),
			c.Attempts,
			c.FailureStage,
			c.FailureReason,
			c.Transcript(),
			c.Diarization(),
		)
		if err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
