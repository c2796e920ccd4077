package transport

import (
	"context"
	"fmt"

	"github.com/LeventeLantos/cart-recovery/internal/client"
	"github.com/LeventeLantos/cart-recovery/internal/model"
)

type OfficialBackend struct {
	client *client.OfficialClient
}

func NewOfficialBackend(c *client.OfficialClient) *OfficialBackend {
	return &OfficialBackend{client: c}
}

func (b *OfficialBackend) Send(ctx context.Context, inst model.Instance, phone, content string) (string, error) {
	phoneNumberID := inst.Connection.Credential(model.CredPhoneNumberID)
	token := inst.Connection.Credential(model.CredAccessToken)
	if phoneNumberID == "" || token == "" {
		return "", fmt.Errorf("%w: official connection %s needs %s and %s",
			ErrMissingCredentials, inst.ConnectionID, model.CredPhoneNumberID, model.CredAccessToken)
	}
	return b.client.SendText(ctx, phoneNumberID, token, phone, content)
}

type EvolutionBackend struct {
	client *client.EvolutionClient
}

func NewEvolutionBackend(c *client.EvolutionClient) *EvolutionBackend {
	return &EvolutionBackend{client: c}
}

func (b *EvolutionBackend) Send(ctx context.Context, inst model.Instance, phone, content string) (string, error) {
	apiURL := inst.Connection.Credential(model.CredAPIURL)
	apiKey := inst.Connection.Credential(model.CredAPIKey)
	if apiURL == "" || apiKey == "" {
		return "", fmt.Errorf("%w: evolution connection %s needs %s and %s",
			ErrMissingCredentials, inst.ConnectionID, model.CredAPIURL, model.CredAPIKey)
	}
	return b.client.SendText(ctx, apiURL, apiKey, inst.Name, phone, content)
}

type UnofficialBackend struct {
	client *client.BridgeClient
}

func NewUnofficialBackend(c *client.BridgeClient) *UnofficialBackend {
	return &UnofficialBackend{client: c}
}

func (b *UnofficialBackend) Send(ctx context.Context, inst model.Instance, phone, content string) (string, error) {
	url := inst.Connection.Credential(model.CredBridgeURL)
	if url == "" {
		return "", fmt.Errorf("%w: unofficial connection %s needs %s",
			ErrMissingCredentials, inst.ConnectionID, model.CredBridgeURL)
	}
	return b.client.Send(ctx, url, inst.Connection.Credential(model.CredToken), phone, content)
}

// Backends wires the three provider clients into the registry used by New.
func Backends(official *client.OfficialClient, evolution *client.EvolutionClient, bridge *client.BridgeClient) map[model.TransportType]Backend {
	return map[model.TransportType]Backend{
		model.TransportOfficial:   NewOfficialBackend(official),
		model.TransportEvolution:  NewEvolutionBackend(evolution),
		model.TransportUnofficial: NewUnofficialBackend(bridge),
	}
}
