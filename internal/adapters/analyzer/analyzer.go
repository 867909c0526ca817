// Package analyzer scores answer directness with a Gemini model.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"google.golang.org/genai"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
)

const defaultModel = "gemini-2.0-flash"

var promptTemplate = template.Must(template.New("directness").Parse(`You are analyzing political accountability.

Rate how directly the official's answer addresses the citizen's question.

QUESTION TITLE: {{.Title}}

QUESTION BODY: {{.Body}}

OFFICIAL'S ANSWER: {{.Answer}}

Respond with a JSON object:
{"directness_score": <0-100, 100 perfectly direct, 0 completely evasive>,
 "summary": "<one sentence>",
 "flags": [<zero or more of "political_fluff", "off_topic", "vague_promises", "blame_shifting">]}

Scoring guidelines:
- 80-100: addresses the specific issue with concrete details
- 60-79: relevant but lacks specifics
- 40-59: vague or only tangentially related
- 20-39: mostly platitudes
- 0-19: ignores the question`))

// generator produces raw model text for a prompt.
type generator interface {
	generate(ctx context.Context, prompt string) (string, error)
}

// Gemini implements questions.Analyzer.
type Gemini struct {
	gen generator
}

var _ questions.Analyzer = (*Gemini)(nil)

// NewGemini creates an analyzer. An empty apiKey yields an analyzer that
// always reports the signal as unavailable.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return &Gemini{}, nil
	}
	if modelName == "" {
		modelName = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{gen: &genaiGenerator{client: client, model: modelName}}, nil
}

// Analyze implements questions.Analyzer.
func (g *Gemini) Analyze(ctx context.Context, q model.Question, answer string) (model.AIAnalysis, error) {
	if g.gen == nil {
		return model.AIAnalysis{}, fmt.Errorf("no api key: %w", questions.ErrSignalUnavailable)
	}
	var prompt strings.Builder
	if err := promptTemplate.Execute(&prompt, struct{ Title, Body, Answer string }{q.Title, q.Body, answer}); err != nil {
		return model.AIAnalysis{}, fmt.Errorf("render prompt: %w", err)
	}
	text, err := g.gen.generate(ctx, prompt.String())
	if err != nil {
		return model.AIAnalysis{}, fmt.Errorf("%w: %w", questions.ErrSignalUnavailable, err)
	}
	return parse(text)
}

type verdict struct {
	DirectnessScore *float64 `json:"directness_score"`
	Summary         string   `json:"summary"`
	Flags           []string `json:"flags"`
}

// parse accepts bare JSON or JSON inside a markdown fence.
func parse(text string) (model.AIAnalysis, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return model.AIAnalysis{}, fmt.Errorf("%w: decode verdict: %w", questions.ErrSignalUnavailable, err)
	}
	if v.DirectnessScore == nil {
		return model.AIAnalysis{}, fmt.Errorf("%w: %w", questions.ErrSignalUnavailable, errMissingScore)
	}
	if v.Flags == nil {
		v.Flags = []string{}
	}
	return model.AIAnalysis{DirectnessScore: *v.DirectnessScore, Summary: v.Summary, Flags: v.Flags}.Clamped(), nil
}

var errMissingScore = errors.New("verdict has no directness_score")

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0),
		})
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("genai returned no text")
	}
	return text, nil
}
