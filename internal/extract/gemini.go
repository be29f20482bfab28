package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"finboard/internal/daily"
	"finboard/internal/log"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Generator is the part of the genai client the extractor calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ Extractor = (*Gemini)(nil)

// Gemini extracts drafts with a Gemini model.
type Gemini struct {
	gen    Generator
	model  string
	zone   daily.Zone
	logger *log.Logger
	now    func() time.Time
}

// NewGemini creates an extractor backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, zone daily.Zone, logger *log.Logger) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiWithGenerator(client.Models, model, zone, logger), nil
}

// NewGeminiWithGenerator wires an existing generator.
func NewGeminiWithGenerator(gen Generator, model string, zone daily.Zone, logger *log.Logger) *Gemini {
	if logger == nil {
		logger = log.Discard()
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Gemini{
		gen:    gen,
		model:  model,
		zone:   zone,
		logger: logger.WithComponent(log.ComponentExtract),
		now:    time.Now,
	}
}

// FromImage reads drafts from a receipt photo or a payment screenshot.
func (g *Gemini) FromImage(ctx context.Context, data []byte, mimeType string) ([]Draft, error) {
	if err := checkImage(data, mimeType); err != nil {
		return nil, err
	}
	parts := []*genai.Part{
		{Text: g.prompt("the attached receipt or payment screenshot")},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
	}
	return g.extract(ctx, "image", parts)
}

// FromEmail reads drafts from the text of a bank or shop notification email.
func (g *Gemini) FromEmail(ctx context.Context, text string) ([]Draft, error) {
	if err := checkEmail(text); err != nil {
		return nil, err
	}
	parts := []*genai.Part{
		{Text: g.prompt("the email below")},
		{Text: "Email:\n" + text},
	}
	return g.extract(ctx, "email", parts)
}

func (g *Gemini) prompt(source string) string {
	today := g.zone.LocalDay(g.now())
	return "You extract personal finance transactions from " + source + ".\n\n" +
		"Output a JSON array of objects with these fields:\n" +
		"- \"type\": \"expense\" for money spent, \"income\" for money received or refunded\n" +
		"- \"amount\": positive decimal string with two decimals, e.g. \"12.50\"\n" +
		"- \"description\": merchant or short description, at most 200 characters\n" +
		"- \"date\": local date \"YYYY-MM-DD\", empty if unknown\n" +
		"- \"time\": local time \"HH:MM\", empty if unknown\n" +
		"- \"category\": short category guess such as \"Food\" or \"Transport\", empty if unsure\n\n" +
		"Rules:\n" +
		"- Today is " + today + " (" + g.zone.String() + ").\n" +
		"- One object per charge or refund; a receipt is a single expense for its total.\n" +
		"- Return [] when there is no transaction.\n" +
		"- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n"
}

func (g *Gemini) extract(ctx context.Context, source string, parts []*genai.Part) ([]Draft, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	start := time.Now()
	resp, err := g.gen.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var candidates []modelDraft
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &candidates); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}

	now := g.now()
	drafts := make([]Draft, 0, len(candidates))
	for i, c := range candidates {
		d, err := c.toDraft(g.zone, now)
		if err != nil {
			g.logger.WarnContext(ctx, "Dropping invalid draft",
				"source", source,
				"index", i,
				log.FieldError, err)
			continue
		}
		drafts = append(drafts, d)
	}

	g.logger.InfoContext(ctx, "Extracted drafts",
		log.FieldOperation, log.OpExtract,
		"source", source,
		"model", g.model,
		"candidates", len(candidates),
		"drafts", len(drafts),
		log.FieldDuration, time.Since(start).Milliseconds())

	if len(drafts) == 0 {
		return nil, ErrNoDrafts
	}
	return drafts, nil
}

// cleanModelJSON strips code fences and text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
