package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"charla/models"
)

// Shared pieces for the OpenAI-compatible chat completion wire shape, used
// by both the DeepSeek and baseline providers.

type chatCompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// buildChatCompletionBody assembles the request body for a chat completion
// call. Parameters that are unset stay off the wire.
func buildChatCompletionBody(req *UnifiedRequest, providerModelID string) map[string]interface{} {
	body := map[string]interface{}{
		"model":    providerModelID,
		"messages": req.Messages,
		"stream":   req.Stream,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.RepetitionPenalty > 0 {
		body["repetition_penalty"] = req.RepetitionPenalty
	}
	return body
}

// decodeChatCompletion extracts the first choice's message content.
func decodeChatCompletion(body json.RawMessage) (*UnifiedResponse, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: no choices in response", ErrUnexpectedShape)
	}
	return &UnifiedResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

// streamSSE executes the request and forwards SSE delta content chunks to
// the channel until the provider signals [DONE]. The channel is closed on
// return.
func streamSSE(ctx context.Context, client *http.Client, req *ProviderRequest, stream chan<- StreamChunk) error {
	defer close(stream)

	if body, ok := req.Body.(map[string]interface{}); ok {
		body["stream"] = true
	}

	jsonBody, err := json.Marshal(req.Body)
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("stream request returned status %d", resp.StatusCode)
		stream <- StreamChunk{Error: err}
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			stream <- StreamChunk{Done: true}
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks rather than aborting the stream.
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			stream <- StreamChunk{Data: chunk.Choices[0].Delta.Content}
		}
	}
	if err := scanner.Err(); err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}
	return nil
}

// chatAuthHeaders builds the common JSON + bearer header set.
func chatAuthHeaders(deployment *models.Deployment) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if deployment.Endpoint.Auth.Type == models.AuthAPIKey && deployment.Endpoint.Auth.APIKey != "" {
		headers["Authorization"] = "Bearer " + deployment.Endpoint.Auth.APIKey
	}
	return headers
}
