package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BridgeClient talks to a device-paired WhatsApp bridge that accepts
// {phoneNumber, message} and answers with the id it assigned.
type BridgeClient struct {
	client *http.Client
}

func NewBridgeClient(timeout time.Duration) *BridgeClient {
	return &BridgeClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type bridgeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type bridgeResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

func (c *BridgeClient) Send(ctx context.Context, url, token, phoneNumber, message string) (string, error) {
	reqBody, err := json.Marshal(bridgeRequest{
		PhoneNumber: phoneNumber,
		Message:     message,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var br bridgeResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if br.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return br.MessageID, nil
}
