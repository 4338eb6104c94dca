// Package mock is the simulated broker: instant fills at the current
// cached price, FIFO lot accounting on the sell side, and all writes
// inside one store transaction per order. Grounded on the teacher's
// TradeExecutionService.executeSingleTrade/recordTrade pattern.
package mock

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/store"
)

// PriceSource is the subset of pricing.Service the mock broker needs.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (pricing.PriceResult, error)
}

// Broker is the mock execution venue.
type Broker struct {
	store   *store.Store
	prices  PriceSource
	audit   *audit.Log
	log     zerolog.Logger
}

func New(s *store.Store, prices PriceSource, auditLog *audit.Log, log zerolog.Logger) *Broker {
	return &Broker{store: s, prices: prices, audit: auditLog, log: log.With().Str("component", "mock_broker").Logger()}
}

// GetPositions returns all positions with non-zero shares, ordered by symbol.
// A symbol may appear twice: once as its LONG row, once as its SHORT row.
func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := b.store.Query(ctx, `SELECT id, symbol, side, shares, avg_cost, sector, updated_at FROM positions WHERE shares != 0 ORDER BY symbol, side`)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var updatedAt string
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.Shares, &p.AvgCost, &p.Sector, &updatedAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, p)
	}
	return out, nil
}

// GetAccountBalance returns the latest portfolio_value row, or a
// zero-valued balance if none has been recorded yet.
func (b *Broker) GetAccountBalance(ctx context.Context) (domain.AccountBalance, error) {
	var cash, total float64
	err := b.store.QueryRow(ctx, `SELECT cash, total_value FROM portfolio_value ORDER BY date DESC LIMIT 1`).Scan(&cash, &total)
	if err == sql.ErrNoRows {
		return domain.AccountBalance{}, nil
	}
	if err != nil {
		return domain.AccountBalance{}, domain.NewStoreError(err.Error())
	}
	return domain.AccountBalance{Cash: cash, TotalValue: total, BuyingPower: cash}, nil
}

// PreviewOrder estimates cost without writing anything.
func (b *Broker) PreviewOrder(ctx context.Context, order domain.Order) (domain.OrderPreview, error) {
	price, err := b.prices.GetPrice(ctx, order.Symbol)
	if err != nil || price.Err != nil {
		return domain.OrderPreview{Warnings: []string{"price unavailable"}}, nil
	}
	return domain.OrderPreview{
		EstimatedPrice: price.Price,
		EstimatedCost:  price.Price * order.Shares,
		Commission:     0,
	}, nil
}

// PlaceOrder fills the order instantly at the current cached price.
func (b *Broker) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	price, err := b.prices.GetPrice(ctx, order.Symbol)
	if err != nil || price.Err != nil {
		return domain.OrderResult{Status: domain.OrderRejected, Message: "price unavailable"}, nil
	}

	switch order.Action {
	case domain.ActionBuy:
		return b.fillOpen(ctx, order, price.Price, domain.PositionLong)
	case domain.ActionSell:
		return b.fillClose(ctx, order, price.Price, domain.PositionLong)
	case domain.ActionShort:
		return b.fillOpen(ctx, order, price.Price, domain.PositionShort)
	case domain.ActionCover:
		return b.fillClose(ctx, order, price.Price, domain.PositionShort)
	default:
		return domain.OrderResult{Status: domain.OrderRejected, Message: "unknown action"}, nil
	}
}

// fillOpen opens or adds to a position on the given side: BUY grows a LONG
// position, SHORT grows a SHORT one. Both post the same way: a new lot at
// the fill price, a weighted-average cost update, and a cash entry (BUY
// spends cash, SHORT raises it with the short-sale proceeds).
func (b *Broker) fillOpen(ctx context.Context, order domain.Order, price float64, side domain.PositionSide) (domain.OrderResult, error) {
	proceeds := price * order.Shares
	var orderID int64

	err := b.store.WithTx(ctx, func(tx *sql.Tx) error {
		var cash float64
		hadCashRow := true
		if err := tx.QueryRow(`SELECT cash FROM portfolio_value ORDER BY date DESC LIMIT 1`).Scan(&cash); err != nil {
			if err != sql.ErrNoRows {
				return err
			}
			hadCashRow = false
		}
		if side == domain.PositionLong && hadCashRow && cash < proceeds {
			return fmt.Errorf("insufficient cash")
		}

		now := time.Now().UTC()
		res, err := tx.Exec(
			`INSERT INTO orders (signal_id, symbol, action, shares, type, status, filled_price, filled_shares, message, created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			order.SignalID, order.Symbol, order.Action, order.Shares, order.Type, domain.OrderFilled, price, order.Shares, "", now.Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
		orderID, _ = res.LastInsertId()

		if _, err := tx.Exec(
			`INSERT INTO trades (signal_id, order_id, symbol, action, shares, price, realized_pnl, executed_at) VALUES (?,?,?,?,?,?,0,?)`,
			order.SignalID, orderID, order.Symbol, order.Action, order.Shares, price, now.Format(time.RFC3339),
		); err != nil {
			return err
		}

		var posID int64
		var existingShares, existingAvg float64
		posErr := tx.QueryRow(`SELECT id, shares, avg_cost FROM positions WHERE symbol = ? AND side = ?`, order.Symbol, side).Scan(&posID, &existingShares, &existingAvg)
		switch {
		case posErr == sql.ErrNoRows:
			res, err := tx.Exec(`INSERT INTO positions (symbol, side, shares, avg_cost, sector, updated_at) VALUES (?,?,?,?,?,?)`,
				order.Symbol, side, order.Shares, price, "Unknown", now.Format(time.RFC3339))
			if err != nil {
				return err
			}
			posID, _ = res.LastInsertId()
		case posErr != nil:
			return posErr
		default:
			newShares := existingShares + order.Shares
			newAvg := ((existingShares * existingAvg) + (order.Shares * price)) / newShares
			if _, err := tx.Exec(`UPDATE positions SET shares = ?, avg_cost = ?, updated_at = ? WHERE id = ?`,
				newShares, newAvg, now.Format(time.RFC3339), posID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`INSERT INTO lots (position_id, symbol, shares, cost_basis, acquired_date) VALUES (?,?,?,?,?)`,
			posID, order.Symbol, order.Shares, price, now.Format(time.RFC3339)); err != nil {
			return err
		}

		if !hadCashRow {
			// no prior portfolio_value row; nothing to adjust, caller must
			// seed an initial snapshot before trading.
			return nil
		}
		cashDelta := -proceeds
		if side == domain.PositionShort {
			cashDelta = proceeds
		}
		if _, err := tx.Exec(
			`UPDATE portfolio_value SET cash = ? WHERE id = (SELECT id FROM portfolio_value ORDER BY date DESC LIMIT 1)`,
			cash+cashDelta,
		); err != nil {
			return err
		}

		return b.audit.WriteTx(tx, domain.ActorBroker, "mock", "order_filled", "order", orderID,
			fmt.Sprintf("%s %s %.4f @ %.2f", order.Action, order.Symbol, order.Shares, price))
	})

	if err != nil {
		return domain.OrderResult{Status: domain.OrderRejected, Message: err.Error()}, nil
	}

	return domain.OrderResult{
		OrderID:      strconv.FormatInt(orderID, 10),
		Status:       domain.OrderFilled,
		FilledPrice:  price,
		FilledShares: order.Shares,
	}, nil
}

// fillClose reduces or closes a position on the given side via FIFO lot
// consumption: SELL closes a LONG position (profit when price rose since
// acquisition), COVER closes a SHORT one (profit when price fell since the
// short was opened). A lot fully consumed is retained with shares=0 and a
// closed_date, not deleted, so tax-lot history survives the fill.
func (b *Broker) fillClose(ctx context.Context, order domain.Order, price float64, side domain.PositionSide) (domain.OrderResult, error) {
	var orderID int64
	var realizedTotal float64

	err := b.store.WithTx(ctx, func(tx *sql.Tx) error {
		var posID int64
		var shares, avgCost float64
		err := tx.QueryRow(`SELECT id, shares, avg_cost FROM positions WHERE symbol = ? AND side = ?`, order.Symbol, side).Scan(&posID, &shares, &avgCost)
		if err == sql.ErrNoRows || shares < order.Shares {
			return fmt.Errorf("insufficient shares")
		}
		if err != nil {
			return err
		}

		// FIFO lot consumption: oldest acquired_date first, ties by id.
		rows, err := tx.Query(`SELECT id, shares, cost_basis FROM lots WHERE position_id = ? AND closed_date IS NULL ORDER BY acquired_date ASC, id ASC`, posID)
		if err != nil {
			return err
		}
		type lotRow struct {
			id, shares, cost float64
		}
		var lots []lotRow
		for rows.Next() {
			var id int64
			var sh, cb float64
			if err := rows.Scan(&id, &sh, &cb); err != nil {
				rows.Close()
				return err
			}
			lots = append(lots, lotRow{id: float64(id), shares: sh, cost: cb})
		}
		rows.Close()

		now := time.Now().UTC()
		nowStr := now.Format(time.RFC3339)

		remaining := order.Shares
		for _, lot := range lots {
			if remaining <= 0 {
				break
			}
			consume := remaining
			if lot.shares < consume {
				consume = lot.shares
			}
			if side == domain.PositionShort {
				realizedTotal += consume * (lot.cost - price)
			} else {
				realizedTotal += consume * (price - lot.cost)
			}
			remaining -= consume

			leftover := lot.shares - consume
			if leftover <= 0 {
				if _, err := tx.Exec(`UPDATE lots SET shares = 0, closed_date = ? WHERE id = ?`, nowStr, int64(lot.id)); err != nil {
					return err
				}
			} else {
				if _, err := tx.Exec(`UPDATE lots SET shares = ? WHERE id = ?`, leftover, int64(lot.id)); err != nil {
					return err
				}
			}
		}

		newShares := shares - order.Shares
		if _, err := tx.Exec(`UPDATE positions SET shares = ?, updated_at = ? WHERE id = ?`, newShares, nowStr, posID); err != nil {
			return err
		}

		res, err := tx.Exec(
			`INSERT INTO orders (signal_id, symbol, action, shares, type, status, filled_price, filled_shares, message, created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			order.SignalID, order.Symbol, order.Action, order.Shares, order.Type, domain.OrderFilled, price, order.Shares, "", nowStr,
		)
		if err != nil {
			return err
		}
		orderID, _ = res.LastInsertId()

		if _, err := tx.Exec(
			`INSERT INTO trades (signal_id, order_id, symbol, action, shares, price, realized_pnl, executed_at) VALUES (?,?,?,?,?,?,?,?)`,
			order.SignalID, orderID, order.Symbol, order.Action, order.Shares, price, realizedTotal, nowStr,
		); err != nil {
			return err
		}

		var cash float64
		_ = tx.QueryRow(`SELECT cash FROM portfolio_value ORDER BY date DESC LIMIT 1`).Scan(&cash)
		cashDelta := price * order.Shares
		if side == domain.PositionShort {
			// Covering spends cash to buy back the borrowed shares; the
			// short-sale proceeds were already credited when it opened.
			cashDelta = -cashDelta
		}
		if _, err := tx.Exec(
			`UPDATE portfolio_value SET cash = ? WHERE id = (SELECT id FROM portfolio_value ORDER BY date DESC LIMIT 1)`,
			cash+cashDelta,
		); err != nil {
			return err
		}

		return b.audit.WriteTx(tx, domain.ActorBroker, "mock", "order_filled", "order", orderID,
			fmt.Sprintf("%s %s %.4f @ %.2f realized_pnl=%.2f", order.Action, order.Symbol, order.Shares, price, realizedTotal))
	})

	if err != nil {
		return domain.OrderResult{Status: domain.OrderRejected, Message: err.Error()}, nil
	}

	return domain.OrderResult{
		OrderID:      strconv.FormatInt(orderID, 10),
		Status:       domain.OrderFilled,
		FilledPrice:  price,
		FilledShares: order.Shares,
	}, nil
}

// GetOrderStatus looks up a previously placed order by its database id.
func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderRejected, nil
	}
	var status domain.OrderStatus
	err = b.store.QueryRow(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.OrderRejected, nil
	}
	if err != nil {
		return "", domain.NewStoreError(err.Error())
	}
	return status, nil
}

// CancelOrder cancels a PENDING order. Already-filled or already-cancelled
// orders are left untouched; the call still reports success.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = b.store.Exec(ctx, `UPDATE orders SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?`,
		domain.OrderCancelled, now, id, domain.OrderPending)
	if err != nil {
		return false, domain.NewStoreError(err.Error())
	}
	return true, nil
}
