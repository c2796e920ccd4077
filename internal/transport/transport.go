// Package transport sends rendered messages through the WhatsApp backend that
// an instance's connection is configured for.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/LeventeLantos/cart-recovery/internal/client"
	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const DefaultCountryCode = "55"

// minPhoneDigits is the shortest accepted number once formatting is stripped.
const minPhoneDigits = 11

var (
	ErrInvalidPhoneNumber   = errors.New("invalid phone number")
	ErrMissingCredentials   = errors.New("missing credentials")
	ErrProviderError        = errors.New("provider error")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

type Result struct {
	Success           bool
	ProviderMessageID string
}

// Sender is the uniform send operation used by the dispatcher.
type Sender interface {
	Send(ctx context.Context, inst model.Instance, phone, content string) (Result, error)
}

// Backend delivers an already normalized number through one provider.
type Backend interface {
	Send(ctx context.Context, inst model.Instance, phone, content string) (string, error)
}

type Transport struct {
	countryCode string
	backends    map[model.TransportType]Backend
}

func New(countryCode string, backends map[model.TransportType]Backend) *Transport {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Transport{
		countryCode: countryCode,
		backends:    backends,
	}
}

func (t *Transport) Send(ctx context.Context, inst model.Instance, phone, content string) (Result, error) {
	normalized, err := NormalizePhone(phone, t.countryCode)
	if err != nil {
		return Result{}, err
	}

	backend, ok := t.backends[inst.Connection.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedTransport, inst.Connection.Type)
	}

	id, err := backend.Send(ctx, inst, normalized, content)
	if err != nil {
		return Result{}, classify(inst.Connection.Type, err)
	}

	return Result{Success: true, ProviderMessageID: id}, nil
}

// NormalizePhone strips everything but digits and prefixes the country code
// when the number does not already carry it.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhoneNumber, raw, len(digits))
	}
	if strings.HasPrefix(digits, countryCode) {
		return digits, nil
	}
	return countryCode + digits, nil
}

// IsRetryable reports whether a caller may try the same send again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderError) || errors.Is(err, ErrTransportUnavailable)
}

func classify(tt model.TransportType, err error) error {
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrProviderError) || errors.Is(err, ErrTransportUnavailable) {
		return err
	}

	var se *client.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s: %s", ErrProviderError, tt, err.Error())
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %s", ErrTransportUnavailable, tt, err.Error())
	}

	// Malformed but successful responses still mean the provider misbehaved.
	return fmt.Errorf("%w: %s: %s", ErrProviderError, tt, err.Error())
}
