// Package ai provides agreement summarization and agent nudges backed by the
// Gemini generateContent endpoint. Every call degrades to a local fallback:
// the template's built-in summary sections or an empty string. Failures are
// logged and swallowed; they never block or fail the signing flow.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dwellingly/buyersign/internal/model"
)

const (
	defaultModel    = "gemini-3-flash-preview"
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
)

// Client talks to the generative-language API. The zero-ish client (empty
// API key) is valid and always returns fallbacks.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

// New constructs an AI client. An empty apiKey disables remote calls.
func New(apiKey string, log *zap.Logger) *Client {
	return &Client{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 20 * time.Second},
		log:      log,
	}
}

// WithEndpoint overrides the API base URL (tests).
func (c *Client) WithEndpoint(url string) *Client {
	c.endpoint = strings.TrimRight(url, "/")
	return c
}

// SummarizeAgreement produces three plain-language sections for a template,
// falling back to the template's own summary on any failure.
func (c *Client) SummarizeAgreement(ctx context.Context, tmpl model.AgreementTemplate) []model.SummarySection {
	if c.apiKey == "" {
		return tmpl.SummarySections
	}
	prompt := fmt.Sprintf(`Summarize this real estate representation agreement for a buyer in exactly 3 simple, non-legalistic bullet points. Output ONLY as a JSON array of objects with "title" and "content" fields.

Agreement Name: %s
Compensation: %s
Full Text: %s`, tmpl.Name, tmpl.CompensationDisclosure, tmpl.FullText)

	text, err := c.generate(ctx, prompt, true)
	if err != nil {
		c.log.Warn("ai summarize failed, using template sections", zap.Error(err))
		return tmpl.SummarySections
	}
	var sections []model.SummarySection
	if err := json.Unmarshal([]byte(text), &sections); err != nil || len(sections) == 0 {
		c.log.Warn("ai summarize returned unparseable sections", zap.Error(err))
		return tmpl.SummarySections
	}
	return sections
}

// AgentInsight analyzes an invite's audit trail and returns one short nudge
// for the agent, or "" when unavailable.
func (c *Client) AgentInsight(ctx context.Context, inv *model.BuyerInvite) string {
	if c.apiKey == "" {
		return ""
	}
	var events strings.Builder
	for _, ev := range inv.AuditEvents {
		fmt.Fprintf(&events, "%s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type)
	}
	prompt := fmt.Sprintf(`You are a real estate coach. Analyze this buyer invite's audit history and provide ONE concise "Smart Nudge" (max 15 words) for the agent. If the buyer has viewed the link multiple times but hasn't signed, suggest a follow-up. If it's new, suggest a warm touch.

Buyer: %s
Events:
%s`, inv.BuyerName, events.String())

	text, err := c.generate(ctx, prompt, false)
	if err != nil {
		c.log.Warn("ai insight failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, prompt string, jsonResponse bool) (string, error) {
	reqBody := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}
	if jsonResponse {
		reqBody.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generate: empty response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
