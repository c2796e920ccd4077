package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvolutionClient_SendText_Success(t *testing.T) {
	t.Parallel()

	c := NewEvolutionClient(time.Second, DefaultEvolutionDelay)
	mt := httpmock.NewMockTransport()
	c.client.Transport = mt

	var got evolutionRequest
	mt.RegisterResponder(http.MethodPost, "http://evo.local/message/sendText/loja-1",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "k-123", req.Header.Get("apikey"))

			b, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(b, &got))

			return httpmock.NewStringResponse(http.StatusCreated, `{"key":{"id":"BAE5"},"status":"PENDING"}`), nil
		})

	id, err := c.SendText(context.Background(), "http://evo.local/", "k-123", "loja-1", "5511999998888", "oi")
	require.NoError(t, err)
	assert.Equal(t, "BAE5", id)

	assert.Equal(t, "5511999998888", got.Number)
	assert.Equal(t, "oi", got.Text)
	assert.Equal(t, int64(1000), got.Delay)
}

func TestEvolutionClient_SendText_ProviderError(t *testing.T) {
	t.Parallel()

	c := NewEvolutionClient(time.Second, DefaultEvolutionDelay)
	mt := httpmock.NewMockTransport()
	c.client.Transport = mt

	mt.RegisterResponder(http.MethodPost, "http://evo.local/message/sendText/loja-1",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"status":401,"message":"Unauthorized"}`))

	_, err := c.SendText(context.Background(), "http://evo.local", "bad", "loja-1", "5511999998888", "oi")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, `"Unauthorized"`, se.Message)
}

func TestEvolutionClient_NegativeDelayFallsBackToDefault(t *testing.T) {
	t.Parallel()

	c := NewEvolutionClient(time.Second, -1)
	assert.Equal(t, DefaultEvolutionDelay, c.delay)
}
