package checkout

import (
	"context"
	"log/slog"

	"storefront-engine/internal/model"
)

// finalize runs the post-success bookkeeping. Points staged for redemption
// are debited exactly once, tied to the order id; earned points are credited
// in the background and never fail the checkout; cart, coupon, points, and
// gift state are cleared together as one unit.
func (a *Attempt) finalize(ctx context.Context) {
	a.mu.Lock()
	order := a.order
	snap := a.snap
	totals := a.totals
	a.mu.Unlock()

	o := a.o
	orderID := 0
	if order != nil {
		orderID = order.ID
	}

	if o.cfg.CustomerID > 0 {
		if snap.Points.ToRedeem > 0 {
			_, err := o.backend.RedeemPoints(ctx, o.cfg.CustomerID, snap.Points.ToRedeem,
				"Points redeemed at checkout", orderID)
			if err != nil {
				// The order is already paid; surfacing this as a checkout
				// failure would be wrong. Logged for back-office follow-up.
				o.logger.Error("redeeming points after checkout",
					slog.Int("order_id", orderID),
					slog.Int("points", snap.Points.ToRedeem),
					slog.Any("error", err))
			}
		}

		if earned := model.WholeUnits(totals.Total); earned > 0 {
			o.credits.Add(1)
			go func() {
				defer o.credits.Done()
				_, err := o.backend.AddPoints(context.Background(), o.cfg.CustomerID, earned,
					"Points earned from order", orderID)
				if err != nil {
					o.logger.Warn("crediting earned points",
						slog.Int("order_id", orderID),
						slog.Int("points", earned),
						slog.Any("error", err))
				}
			}()
		}
	}

	if err := o.store.Clear(); err != nil {
		o.logger.Error("clearing cart after checkout", slog.Any("error", err))
	}
}
