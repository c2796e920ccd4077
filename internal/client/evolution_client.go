package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEvolutionDelay is the per-message delay asked of the gateway so the
// paired device does not burst messages.
const DefaultEvolutionDelay = time.Second

// EvolutionClient sends text messages through a self-hosted Evolution API gateway.
type EvolutionClient struct {
	client *http.Client
	delay  time.Duration
}

func NewEvolutionClient(timeout, delay time.Duration) *EvolutionClient {
	if delay < 0 {
		delay = DefaultEvolutionDelay
	}
	return &EvolutionClient{
		client: &http.Client{
			Timeout: timeout,
		},
		delay: delay,
	}
}

type evolutionRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int64  `json:"delay"`
}

type evolutionResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Message json.RawMessage `json:"message"`
}

func (c *EvolutionClient) SendText(ctx context.Context, apiURL, apiKey, instance, number, text string) (string, error) {
	reqBody, err := json.Marshal(evolutionRequest{
		Number: number,
		Text:   text,
		Delay:  c.delay.Milliseconds(),
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(apiURL, "/") + "/message/sendText/" + url.PathEscape(instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var er evolutionResponse
	decodeErr := json.Unmarshal(body, &er)

	if !isSuccess(resp.StatusCode) {
		msg := string(body)
		if decodeErr == nil && len(er.Message) > 0 {
			msg = string(er.Message)
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))
	}
	if er.Key.ID == "" {
		return "", fmt.Errorf("missing key.id in response body=%q", string(body))
	}

	return er.Key.ID, nil
}
