package providers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"charla/models"
	"charla/providers"
)

func chatDeployment(providerType models.ProviderType, baseURL string) *models.Deployment {
	return &models.Deployment{
		ID:              "chat-test",
		ModelID:         "deepseek-chat",
		Provider:        providerType,
		ProviderModelID: "deepseek-chat",
		Endpoint: models.EndpointConfig{
			BaseURL: baseURL,
			Timeout: 10 * time.Second,
			Auth: models.AuthConfig{
				Type:   models.AuthAPIKey,
				APIKey: "sk-test",
			},
		},
	}
}

func TestDeepSeekTranslateRequestAppendsPath(t *testing.T) {
	provider := providers.NewDeepSeekProvider()
	req := &providers.UnifiedRequest{
		Model:       "deepseek-chat",
		Messages:    []providers.Message{{Role: "user", Content: "hi"}},
		MaxTokens:   100,
		Temperature: 0.7,
	}

	for _, base := range []string{"https://api.deepseek.com", "https://api.deepseek.com/"} {
		providerReq, err := provider.TranslateRequest(context.Background(), req, chatDeployment(models.ProviderDeepSeek, base))
		if err != nil {
			t.Fatal(err)
		}
		if want := "https://api.deepseek.com/chat/completions"; providerReq.URL != want {
			t.Errorf("URL for base %q = %q, want %q", base, providerReq.URL, want)
		}
		if got := providerReq.Headers["Authorization"]; got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
	}
}

func TestBaselineUsesURLAsIs(t *testing.T) {
	provider := providers.NewBaselineOpenAIProvider()
	req := &providers.UnifiedRequest{
		Messages:  []providers.Message{{Role: "user", Content: "hi"}},
		MaxTokens: 10,
	}

	depl := chatDeployment(models.ProviderBaselineOpenAI, "https://gateway.local/v1/chat/completions")
	providerReq, err := provider.TranslateRequest(context.Background(), req, depl)
	if err != nil {
		t.Fatal(err)
	}
	if providerReq.URL != depl.Endpoint.BaseURL {
		t.Errorf("URL = %q, want base URL unchanged", providerReq.URL)
	}

	body, _ := providerReq.Body.(map[string]interface{})
	if body["model"] != "deepseek-chat" {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != 10 {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if _, present := body["temperature"]; present {
		t.Error("unset temperature must stay off the wire")
	}
}

func TestBaselineValidateConfig(t *testing.T) {
	provider := providers.NewBaselineOpenAIProvider()

	tests := []struct {
		name    string
		baseURL string
		modelID string
		wantErr bool
	}{
		{"complete endpoint", "https://api.example.com/v1/chat/completions", "m", false},
		{"bare host", "https://api.example.com", "m", true},
		{"empty url", "", "m", true},
		{"missing model", "https://api.example.com/v1/chat/completions", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			depl := chatDeployment(models.ProviderBaselineOpenAI, tt.baseURL)
			depl.ProviderModelID = tt.modelID
			err := provider.ValidateConfig(depl)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatTranslateResponse(t *testing.T) {
	provider := providers.NewDeepSeekProvider()
	deployment := chatDeployment(models.ProviderDeepSeek, "https://api.deepseek.com")

	resp := &providers.ProviderResponse{
		StatusCode: 200,
		Body: []byte(`{"id":"cmpl-1","model":"deepseek-chat",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Claro que sí."},"finish_reason":"stop"}]}`),
	}
	unified, err := provider.TranslateResponse(context.Background(), resp, deployment)
	if err != nil {
		t.Fatalf("TranslateResponse: %v", err)
	}
	if unified.Text != "Claro que sí." {
		t.Errorf("Text = %q", unified.Text)
	}
	if unified.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", unified.FinishReason)
	}

	for _, body := range []string{`{"choices":[]}`, `{"object":"error"}`, `not json`} {
		bad := &providers.ProviderResponse{StatusCode: 200, Body: []byte(body)}
		if _, err := provider.TranslateResponse(context.Background(), bad, deployment); !errors.Is(err, providers.ErrUnexpectedShape) {
			t.Errorf("body %q: err = %v, want ErrUnexpectedShape", body, err)
		}
	}
}

func TestExecuteReturnsBodyOnErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"throttled"}`)
	}))
	defer upstream.Close()

	provider := providers.NewBaselineOpenAIProvider()
	resp, err := provider.Execute(context.Background(), &providers.ProviderRequest{
		URL:     upstream.URL,
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    map[string]interface{}{"model": "m"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"throttled"}` {
		t.Errorf("Body = %s, want the error payload preserved", resp.Body)
	}
}

func TestStreamSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	provider := providers.NewBaselineOpenAIProvider()
	stream := make(chan providers.StreamChunk)
	go func() {
		err := provider.Stream(context.Background(), &providers.ProviderRequest{
			URL:    upstream.URL,
			Method: "POST",
			Body:   map[string]interface{}{"model": "m"},
		}, stream)
		if err != nil {
			t.Errorf("Stream: %v", err)
		}
	}()

	var content string
	var done bool
	for chunk := range stream {
		if chunk.Error != nil {
			t.Fatalf("chunk error: %v", chunk.Error)
		}
		if chunk.Done {
			done = true
			break
		}
		content += chunk.Data
	}
	if content != "Hello" {
		t.Errorf("streamed content = %q, want %q", content, "Hello")
	}
	if !done {
		t.Error("stream never signaled Done")
	}
}
