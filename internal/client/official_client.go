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

const DefaultOfficialBaseURL = "https://graph.facebook.com/v17.0"

// OfficialClient sends text messages through the WhatsApp Cloud API.
type OfficialClient struct {
	baseURL string
	client  *http.Client
}

func NewOfficialClient(baseURL string, timeout time.Duration) *OfficialClient {
	if baseURL == "" {
		baseURL = DefaultOfficialBaseURL
	}
	return &OfficialClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type officialText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type officialRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             officialText `json:"text"`
}

type officialResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OfficialClient) SendText(ctx context.Context, phoneNumberID, accessToken, to, text string) (string, error) {
	reqBody, err := json.Marshal(officialRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             officialText{Body: text},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, url.PathEscape(phoneNumberID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var or officialResponse
	decodeErr := json.Unmarshal(body, &or)

	if !isSuccess(resp.StatusCode) {
		msg := string(body)
		if decodeErr == nil && or.Error != nil && or.Error.Message != "" {
			msg = or.Error.Message
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))
	}
	if len(or.Messages) == 0 || or.Messages[0].ID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", string(body))
	}

	return or.Messages[0].ID, nil
}
