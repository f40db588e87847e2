package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GeminiClient talks to a Gemini-compatible generateContent endpoint. The
// endpoint is per-account, so every call carries its own BananaEndpoint.
type GeminiClient struct {
	httpClient *http.Client
}

func NewGeminiClient() *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	Thought    bool              `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// GenerateContent sends the full conversation and returns the model's
// response parts (text and inline images).
func (c *GeminiClient) GenerateContent(ctx context.Context, endpoint BananaEndpoint, turns []BananaTurn, cfg BananaConfig) ([]BananaPart, error) {
	contents := make([]geminiContent, 0, len(turns))
	for _, turn := range turns {
		content := geminiContent{Role: turn.Role}
		for _, part := range turn.Parts {
			if part.Text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: part.Text})
			}
			if part.InlineB64 != "" {
				mime := part.MimeType
				if mime == "" {
					mime = "image/png"
				}
				content.Parts = append(content.Parts, geminiPart{
					InlineData: &geminiInlineData{MimeType: mime, Data: part.InlineB64},
				})
			}
		}
		contents = append(contents, content)
	}

	generationConfig := map[string]interface{}{
		"responseModalities": []string{"TEXT", "IMAGE"},
	}
	// follow-up turns keep the conversation's original image settings
	if cfg.AspectRatio != "" || cfg.Resolution != "" {
		generationConfig["imageConfig"] = map[string]string{
			"aspectRatio": cfg.AspectRatio,
			"imageSize":   cfg.Resolution,
		}
	}

	payload := map[string]interface{}{
		"contents":         contents,
		"generationConfig": generationConfig,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", endpoint.BaseURL, endpoint.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", endpoint.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "generate content", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "generate content", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "generate content", StatusCode: resp.StatusCode, Message: geminiErrorMessage(data)}
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &Error{Op: "generate content", Err: err}
	}
	if len(result.Candidates) == 0 {
		return nil, &Error{Op: "generate content", Message: "no candidates in response"}
	}

	var parts []BananaPart
	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			parts = append(parts, BananaPart{
				InlineB64: part.InlineData.Data,
				MimeType:  part.InlineData.MimeType,
			})
			continue
		}
		// thought parts carry the model's reasoning, not output
		if part.Text != "" && !part.Thought {
			parts = append(parts, BananaPart{Text: part.Text})
		}
	}
	return parts, nil
}

func geminiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
