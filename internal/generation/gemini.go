package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"restyle/internal/infra"
)

// GeminiOptions configures the REST provider.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Gemini calls the generative-language REST API, sending the source image as
// inline data together with the variation prompt. The model is chosen per
// request from the tier, so one client serves every capability level.
type Gemini struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

// NewGemini constructs the provider. A nil HTTP client gets a reusable one
// with a conservative timeout.
func NewGemini(opts GeminiOptions) *Gemini {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     opts.Logger,
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ImageConfig        *struct {
		AspectRatio string `json:"aspectRatio,omitempty"`
	} `json:"imageConfig,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate produces one variant from the source image and instruction.
func (g *Gemini) Generate(ctx context.Context, req Request) (Result, error) {
	if len(req.SourceImage) == 0 {
		return Result{}, &FatalError{Err: fmt.Errorf("source image is empty")}
	}
	mime := req.SourceMIME
	if mime == "" {
		mime = "image/jpeg"
	}

	cfg := &geminiGenerationConfig{CandidateCount: 1, ResponseModalities: []string{"IMAGE"}}
	if req.AspectRatio != "" && req.AspectRatio != "original" {
		cfg.ImageConfig = &struct {
			AspectRatio string `json:"aspectRatio,omitempty"`
		}{AspectRatio: req.AspectRatio}
	}
	payload := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(req.SourceImage)}},
				{Text: BuildVariationPrompt(req.Instruction, req.Ordinal)},
			},
		}},
		GenerationConfig: cfg,
	}

	var response geminiGenerateResponse
	endpoint := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(req.Tier.Model))
	if err := g.invoke(ctx, req.Tier.Name, endpoint, payload, &response); err != nil {
		return Result{}, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			description := ""
			for _, p := range candidate.Content.Parts {
				if p.Text != "" {
					description = p.Text
					break
				}
			}
			return Result{Data: data, Format: format, Description: description}, nil
		}
	}
	return Result{}, &TransientError{Err: fmt.Errorf("no image data in response")}
}

func (g *Gemini) invoke(ctx context.Context, tier, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &FatalError{Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return &FatalError{Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr geminiErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return classifyStatus(resp.StatusCode, tier, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyStatus maps HTTP statuses onto the error taxonomy: a missing model
// means the tier is unavailable, throttling and server hiccups are transient,
// anything else about the request itself is fatal.
func classifyStatus(status int, tier, msg string) error {
	err := fmt.Errorf("gemini: status %d: %s", status, msg)
	switch {
	case status == http.StatusNotFound:
		return &TierUnavailableError{Tier: tier, Reason: msg}
	case status == http.StatusTooManyRequests, status >= 500:
		return &TransientError{Err: err}
	default:
		return &FatalError{Err: err}
	}
}

var _ Generator = (*Gemini)(nil)
