package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

const (
	geminiAPIURL         = "https://generativelanguage.googleapis.com/v1beta"
	geminiClientTimeout  = 4 * time.Second
	geminiMaxOutputChars = 2048
)

// Outcome describes how an LLM classification attempt ended.
type Outcome int

const (
	// OutcomeOK means the model returned a schema-valid classification.
	OutcomeOK Outcome = iota
	// OutcomeInvalidSchema means the model answered but the payload failed
	// validation; the rules result stands.
	OutcomeInvalidSchema
	// OutcomeUnavailable means the model could not be reached in time.
	OutcomeUnavailable
)

// GeminiClient calls Google's Gemini API for classification overlays.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiClient creates a Gemini API client. An empty apiKey produces a
// client whose calls always report OutcomeUnavailable, which keeps the
// rules fallback on the only path.
func NewGeminiClient(apiKey, model, baseURL string) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiAPIURL
	}
	model = strings.TrimPrefix(model, "gemini:")
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: geminiClientTimeout,
		},
	}
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// classification is the JSON shape the prompt instructs the model to emit.
type classification struct {
	Category       string   `json:"category"`
	Priority       int      `json:"priority"`
	PeopleCount    int      `json:"people_count"`
	RequiredSkills []string `json:"required_skills"`
	Division       string   `json:"division"`
	Confidence     float64  `json:"confidence"`
}

var validCategories = map[string]bool{
	models.CategoryFloodRescue:    true,
	models.CategoryMedical:        true,
	models.CategoryFire:           true,
	models.CategoryFoodShelter:    true,
	models.CategoryInfrastructure: true,
}

const classifyPrompt = `You are an emergency triage classifier for a disaster response service in Telangana, India.
Classify the report below. Respond with ONLY a JSON object, no prose, exactly this shape:
{"category": one of ["Flood Rescue","Medical Emergency","Fire Emergency","Food and Shelter","Power and Infrastructure"],
 "priority": integer 1-5 (5 = life threatening),
 "people_count": integer, 0 if unknown,
 "required_skills": array of short skill strings,
 "division": one of ["Rescue","Medical","Logistics","Communication"],
 "confidence": float 0-1}

Report: %s`

// Classify asks the model for a classification overlay.
func (c *GeminiClient) Classify(ctx context.Context, text string) (*models.Triage, Outcome, error) {
	if c.apiKey == "" {
		return nil, OutcomeUnavailable, apperrors.Upstream("gemini_classify", "", fmt.Errorf("no api key configured"), 0)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: fmt.Sprintf(classifyPrompt, text)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens:  512,
			Temperature:      0,
			ResponseMimeType: "application/json",
		},
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, OutcomeUnavailable, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, OutcomeUnavailable, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, OutcomeUnavailable, apperrors.UpstreamTimeout("gemini_classify", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, OutcomeUnavailable, fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr geminiErrorBody
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, OutcomeUnavailable, apperrors.Upstream("gemini_classify", "",
				fmt.Errorf("gemini: %s", apiErr.Error.Message), resp.StatusCode)
		}
		return nil, OutcomeUnavailable, apperrors.Upstream("gemini_classify", "",
			fmt.Errorf("gemini returned status %d", resp.StatusCode), resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, OutcomeInvalidSchema, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, OutcomeInvalidSchema, fmt.Errorf("gemini returned no candidates")
	}

	answer := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	answer = stripCodeFence(answer)
	if len(answer) > geminiMaxOutputChars {
		answer = answer[:geminiMaxOutputChars]
	}

	var cls classification
	if err := json.Unmarshal([]byte(answer), &cls); err != nil {
		return nil, OutcomeInvalidSchema, fmt.Errorf("gemini answer is not valid JSON: %w", err)
	}
	if err := validateClassification(&cls); err != nil {
		return nil, OutcomeInvalidSchema, err
	}

	result := &models.Triage{
		Category:       cls.Category,
		Priority:       cls.Priority,
		Urgency:        models.UrgencyFor(cls.Priority),
		PeopleCount:    cls.PeopleCount,
		RequiredSkills: cls.RequiredSkills,
		Division:       cls.Division,
		Confidence:     cls.Confidence,
		Source:         "gemini",
	}
	return result, OutcomeOK, nil
}

func validateClassification(cls *classification) error {
	if !validCategories[cls.Category] {
		return fmt.Errorf("gemini returned unknown category %q", cls.Category)
	}
	if cls.Priority < 1 || cls.Priority > 5 {
		return fmt.Errorf("gemini returned priority %d outside 1..5", cls.Priority)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return fmt.Errorf("gemini returned confidence %f outside 0..1", cls.Confidence)
	}
	if cls.PeopleCount < 0 {
		cls.PeopleCount = 0
	}
	switch cls.Division {
	case "Rescue", "Medical", "Logistics", "Communication":
	default:
		cls.Division = "Rescue"
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
