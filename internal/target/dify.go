package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// difyClient calls a Dify chat-messages endpoint in blocking mode, passing
// the Prompt under the workflow's configured prompt variable and the test
// case's input fields as the remaining workflow inputs.
type difyClient struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	promptVarName string
}

func newDifyClient(creds Credentials, promptVarName string, timeout time.Duration) *difyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &difyClient{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(creds.BaseURL, "/"),
		apiKey:        creds.APIKey,
		promptVarName: promptVarName,
	}
}

type difyChatRequest struct {
	Inputs       map[string]string `json:"inputs"`
	Query        string            `json:"query"`
	ResponseMode string            `json:"response_mode"`
	User         string            `json:"user"`
}

type difyChatResponse struct {
	Answer string `json:"answer"`
}

func (c *difyClient) Generate(ctx context.Context, prompt string, input map[string]string) (string, error) {
	inputs := make(map[string]string, len(input)+1)
	for k, v := range input {
		inputs[k] = v
	}
	inputs[c.promptVarName] = prompt

	query := input["query"]
	if query == "" {
		query = prompt
	}

	body, err := json.Marshal(difyChatRequest{
		Inputs:       inputs,
		Query:        query,
		ResponseMode: "blocking",
		User:         "promptforge",
	})
	if err != nil {
		return "", fmt.Errorf("marshal dify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat-messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create dify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.Wrap(model.KindModelFailure, err, "dify call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain without echoing the body: it may contain prompt content.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", model.NewError(model.KindModelFailure, "dify returned HTTP %d", resp.StatusCode)
	}

	var parsed difyChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", model.Wrap(model.KindModelFailure, err, "decode dify response")
	}
	return parsed.Answer, nil
}
