// Package broker defines the execution-venue abstraction shared by the
// mock simulator and the live (Schwab-shaped) adapter, grounded on the
// same contract as the teacher's trade-execution client: positions,
// balances, and a single PlaceOrder entrypoint, all context-aware.
package broker

import (
	"context"

	"github.com/moneymoves/engine/internal/domain"
)

// Broker is the execution-venue interface. All methods may block on
// network I/O (even the mock's do not, but the interface is shaped for
// the live adapter) and take a context for cancellation/timeout.
type Broker interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetAccountBalance(ctx context.Context) (domain.AccountBalance, error)
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	PreviewOrder(ctx context.Context, order domain.Order) (domain.OrderPreview, error)
}
