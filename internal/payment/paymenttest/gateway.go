// Package paymenttest provides a testify mock of payment.Gateway.
package paymenttest

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/studio-reservation/internal/payment"
)

// Gateway is a mock rail.  Configured defaults to true.
type Gateway struct {
	mock.Mock
	Name         string
	Unconfigured bool
}

var _ payment.Gateway = (*Gateway)(nil)

// New returns a mock rail registered under name.
func New(name string) *Gateway { return &Gateway{Name: name} }

func (g *Gateway) Provider() string { return g.Name }

func (g *Gateway) Configured() bool { return !g.Unconfigured }

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	args := g.Called(ctx, req)
	return args.Get(0).(payment.Intent), args.Error(1)
}

func (g *Gateway) CancelIntent(ctx context.Context, intentID string) error {
	return g.Called(ctx, intentID).Error(0)
}

func (g *Gateway) RefundIntent(ctx context.Context, intentID string, amountMinor int64) error {
	return g.Called(ctx, intentID, amountMinor).Error(0)
}

func (g *Gateway) ParseWebhook(body []byte, header http.Header) (payment.NormalizedEvent, error) {
	args := g.Called(body, header)
	return args.Get(0).(payment.NormalizedEvent), args.Error(1)
}
