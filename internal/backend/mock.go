package backend

import (
	"context"
	"sync"

	"storefront-engine/internal/model"
)

// Mock implements Commerce for testing.
// Each method can be configured via function fields; unconfigured methods
// return benign defaults. Order creation is tracked so flow tests can assert
// on created/deleted orders without a function field.
type Mock struct {
	VerifyCouponFunc    func(ctx context.Context, code string) (*model.Coupon, error)
	ApplyCouponFunc     func(ctx context.Context, code string, items []CouponItem, email string) (*model.Coupon, int64, error)
	CheckStockFunc      func(ctx context.Context, items []StockItem) ([]model.StockIssue, error)
	ShippingMethodsFunc func(ctx context.Context, addr model.Address, cartTotal int64) ([]model.ShippingMethod, error)
	CheckGiftRulesFunc  func(ctx context.Context, items []GiftItem, cartTotal int64, userID int) ([]model.GiftRule, error)
	CreateOrderFunc     func(ctx context.Context, req *OrderRequest) (*model.OrderRef, error)
	UpdateOrderFunc     func(ctx context.Context, orderID int, upd *OrderUpdate) (*model.OrderRef, error)
	GetOrderFunc        func(ctx context.Context, orderID int) (*model.OrderRef, error)
	GetEventuallyFunc   func(ctx context.Context, orderID int, maxTries uint64) (*model.OrderRef, error)
	FindOrderByKeyFunc  func(ctx context.Context, key string) (*model.OrderRef, error)
	GetPointsFunc       func(ctx context.Context, userID int) (int, error)
	AddPointsFunc       func(ctx context.Context, userID, points int, desc string, orderID int) (int, error)
	RedeemPointsFunc    func(ctx context.Context, userID, points int, desc string, orderID int) (int, error)

	mu            sync.Mutex
	nextOrderID   int
	CreatedOrders []*OrderRequest
	DeletedOrders []int
	Redemptions   []int // order ids points were redeemed against
}

func (m *Mock) VerifyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	if m.VerifyCouponFunc != nil {
		return m.VerifyCouponFunc(ctx, code)
	}
	return nil, model.NewCouponError(code, "not found")
}

func (m *Mock) ApplyCoupon(ctx context.Context, code string, items []CouponItem, email string) (*model.Coupon, int64, error) {
	if m.ApplyCouponFunc != nil {
		return m.ApplyCouponFunc(ctx, code, items, email)
	}
	return nil, 0, model.NewCouponError(code, "not found")
}

func (m *Mock) CheckStock(ctx context.Context, items []StockItem) ([]model.StockIssue, error) {
	if m.CheckStockFunc != nil {
		return m.CheckStockFunc(ctx, items)
	}
	return nil, nil
}

func (m *Mock) ShippingMethods(ctx context.Context, addr model.Address, cartTotal int64) ([]model.ShippingMethod, error) {
	if m.ShippingMethodsFunc != nil {
		return m.ShippingMethodsFunc(ctx, addr, cartTotal)
	}
	return []model.ShippingMethod{{ID: "flat_rate", Title: "Flat rate", Cost: 500}}, nil
}

func (m *Mock) CheckGiftRules(ctx context.Context, items []GiftItem, cartTotal int64, userID int) ([]model.GiftRule, error) {
	if m.CheckGiftRulesFunc != nil {
		return m.CheckGiftRulesFunc(ctx, items, cartTotal, userID)
	}
	return nil, nil
}

func (m *Mock) CreateOrder(ctx context.Context, req *OrderRequest) (*model.OrderRef, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	m.CreatedOrders = append(m.CreatedOrders, req)
	return &model.OrderRef{ID: m.nextOrderID, Status: "pending"}, nil
}

func (m *Mock) UpdateOrder(ctx context.Context, orderID int, upd *OrderUpdate) (*model.OrderRef, error) {
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, orderID, upd)
	}
	status := upd.Status
	if status == "" && upd.SetPaid {
		status = "processing"
	}
	return &model.OrderRef{ID: orderID, Status: status}, nil
}

func (m *Mock) DeleteOrder(ctx context.Context, orderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedOrders = append(m.DeletedOrders, orderID)
	return nil
}

func (m *Mock) GetOrder(ctx context.Context, orderID int) (*model.OrderRef, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	return &model.OrderRef{ID: orderID, Status: "pending"}, nil
}

func (m *Mock) FindOrderByKey(ctx context.Context, key string) (*model.OrderRef, error) {
	if m.FindOrderByKeyFunc != nil {
		return m.FindOrderByKeyFunc(ctx, key)
	}
	return nil, model.NewNotFoundError("order")
}

func (m *Mock) GetOrderEventually(ctx context.Context, orderID int, maxTries uint64) (*model.OrderRef, error) {
	if m.GetEventuallyFunc != nil {
		return m.GetEventuallyFunc(ctx, orderID, maxTries)
	}
	return m.GetOrder(ctx, orderID)
}

func (m *Mock) GetPoints(ctx context.Context, userID int) (int, error) {
	if m.GetPointsFunc != nil {
		return m.GetPointsFunc(ctx, userID)
	}
	return 0, nil
}

func (m *Mock) AddPoints(ctx context.Context, userID, points int, desc string, orderID int) (int, error) {
	if m.AddPointsFunc != nil {
		return m.AddPointsFunc(ctx, userID, points, desc, orderID)
	}
	return points, nil
}

func (m *Mock) RedeemPoints(ctx context.Context, userID, points int, desc string, orderID int) (int, error) {
	if m.RedeemPointsFunc != nil {
		return m.RedeemPointsFunc(ctx, userID, points, desc, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Redemptions = append(m.Redemptions, orderID)
	return 0, nil
}
