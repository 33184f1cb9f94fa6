package main

import (
	"context"
	"errors"

	"tradingcore/internal/executor"
)

// errExchangeNotConfigured is the typed failure a notConfiguredExchangeClient
// returns for every call. Real deployments replace this with an adapter over
// their actual exchange SDK; this core ships no exchange integration of its
// own (spec §6 treats ExchangeClient as a narrow external collaborator).
var errExchangeNotConfigured = errors.New("exchange: no client configured for user")

type notConfiguredExchangeClient struct {
	userID string
}

func newNotConfiguredExchangeClient(userID string) executor.ExchangeClient {
	return &notConfiguredExchangeClient{userID: userID}
}

func (c *notConfiguredExchangeClient) PlaceOrder(ctx context.Context, order executor.Order) (executor.ExchangeOrderResult, error) {
	return executor.ExchangeOrderResult{}, errExchangeNotConfigured
}

func (c *notConfiguredExchangeClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return false, errExchangeNotConfigured
}

func (c *notConfiguredExchangeClient) GetPosition(ctx context.Context, symbol string) (executor.Position, error) {
	return executor.Position{}, errExchangeNotConfigured
}
