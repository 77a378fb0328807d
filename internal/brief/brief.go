package brief

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Placeholder fills every field the model could not determine.
const Placeholder = "......."

var ErrNotConfigured = errors.New("llm gateway not configured")

// CaseBrief is the structured summary of one hearing.
type CaseBrief struct {
	CaseTitle           string `json:"case_title"`
	CaseNumber          string `json:"case_number"`
	JudgeName           string `json:"judge_name"`
	AccusedName         string `json:"accused_name"`
	FilteredTranscript  string `json:"filtered_transcript"`
	CourtType           string `json:"court_type"`
	Country             string `json:"country"`
	CourtLocation       string `json:"court_location"`
	Date                string `json:"date"`
	ProsecutorName      string `json:"prosecutor_name"`
	DefenseCounselName  string `json:"defense_counsel_name"`
	Charges             string `json:"charges"`
	Plea                string `json:"plea"`
	Verdict             string `json:"verdict"`
	Sentence            string `json:"sentence"`
	MitigatingFactors   string `json:"mitigating_factors"`
	AggravatingFactors  string `json:"aggravating_factors"`
	LegalPrinciples     string `json:"legal_principles"`
	PrecedentsCited     string `json:"precedents_cited"`
}

// fields lists every brief field for defaulting.
func (b *CaseBrief) fields() []*string {
	return []*string{
		&b.CaseTitle, &b.CaseNumber, &b.JudgeName, &b.AccusedName, &b.FilteredTranscript,
		&b.CourtType, &b.Country, &b.CourtLocation, &b.Date, &b.ProsecutorName,
		&b.DefenseCounselName, &b.Charges, &b.Plea, &b.Verdict, &b.Sentence,
		&b.MitigatingFactors, &b.AggravatingFactors, &b.LegalPrinciples, &b.PrecedentsCited,
	}
}

// FillDefaults replaces blank fields with Placeholder.
func (b *CaseBrief) FillDefaults() {
	for _, f := range b.fields() {
		*f = strings.TrimSpace(*f)
		if *f == "" {
			*f = Placeholder
		}
	}
}

type Input struct {
	CaseName   string
	CaseNumber string
	Transcript string
}

type Config struct {
	GatewayURL      string
	Model           string
	APIKey          string
	Mock            bool
	Timeout         time.Duration
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

// Generator asks an OpenAI-compatible chat gateway for a CaseBrief.
type Generator struct {
	cfg    Config
	client *http.Client
	log    *logrus.Entry
}

func NewGenerator(cfg Config, log *logrus.Entry) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 45 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = backoff.DefaultInitialInterval
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.WithField("component", "case-brief"),
	}
}

func BuildPrompt(in Input) string {
	prompt := `You are a court clerk preparing a case brief from a hearing transcript.

Return ONLY a JSON object with exactly these string fields:
{
  "case_title": "",
  "case_number": "",
  "judge_name": "",
  "accused_name": "",
  "filtered_transcript": "",
  "court_type": "",
  "country": "",
  "court_location": "",
  "date": "",
  "prosecutor_name": "",
  "defense_counsel_name": "",
  "charges": "",
  "plea": "",
  "verdict": "",
  "sentence": "",
  "mitigating_factors": "",
  "aggravating_factors": "",
  "legal_principles": "",
  "precedents_cited": ""
}

Rules:
- Use only what is said in the transcript. Leave a field empty when it is not stated.
- "filtered_transcript" is the transcript with filler words and false starts removed.
- Do not wrap the JSON in backticks and do not add commentary.

CASE NAME: %s
CASE NUMBER: %s

TRANSCRIPT:
%s
`
	return fmt.Sprintf(prompt, in.CaseName, in.CaseNumber, in.Transcript)
}

func (g *Generator) Generate(ctx context.Context, in Input) (CaseBrief, error) {
	log := g.log.WithField("case_number", in.CaseNumber)

	if g.cfg.Mock {
		log.Info("mock LLM mode ON - returning deterministic brief")
		return mockBrief(in), nil
	}
	if g.cfg.GatewayURL == "" || g.cfg.APIKey == "" {
		return CaseBrief{}, ErrNotConfigured
	}

	reqBody := map[string]any{
		"model": g.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": BuildPrompt(in)},
		},
		"temperature": 0.0,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return CaseBrief{}, err
	}

	var parsed CaseBrief
	var lastErr error

	op := func() error {
		parsed = CaseBrief{}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.GatewayURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

		if resp.StatusCode < 400 {
			if b, ok := decodeBrief(chatContent(body)); ok {
				parsed, lastErr = b, nil
				return nil
			}
			// Fallback: first balanced JSON object in the body
			if b, ok := decodeBrief(extractJSON(string(body))); ok {
				parsed, lastErr = b, nil
				return nil
			}
		}

		lastErr = fmt.Errorf("no brief JSON in LLM output (status %d)", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxElapsedTime = g.cfg.MaxElapsed

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return CaseBrief{}, fmt.Errorf("case brief failed: %w", lastErr)
	}

	parsed.FillDefaults()
	log.Info("case brief generated")
	return parsed, nil
}

// decodeBrief parses raw into a fresh brief. An empty object does not count.
func decodeBrief(raw string) (CaseBrief, bool) {
	var b CaseBrief
	if raw == "" || json.Unmarshal([]byte(raw), &b) != nil || b == (CaseBrief{}) {
		return CaseBrief{}, false
	}
	return b, true
}

func mockBrief(in Input) CaseBrief {
	b := CaseBrief{
		CaseTitle:          in.CaseName,
		CaseNumber:         in.CaseNumber,
		FilteredTranscript: in.Transcript,
		CourtType:          "Magistrate Court",
		Plea:               "Not guilty",
	}
	b.FillDefaults()
	return b
}
