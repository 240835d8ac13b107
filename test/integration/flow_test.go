package integration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/catalog"
	inventoryapp "github.com/eleganza/commerce-core/internal/inventory/application"
	inventorydomain "github.com/eleganza/commerce-core/internal/inventory/domain"
	inventorypg "github.com/eleganza/commerce-core/internal/inventory/infrastructure/postgres"
	ledgerpg "github.com/eleganza/commerce-core/internal/ledger/postgres"
	"github.com/eleganza/commerce-core/internal/money"
	orderapp "github.com/eleganza/commerce-core/internal/order/application"
	orderdomain "github.com/eleganza/commerce-core/internal/order/domain"
	orderpg "github.com/eleganza/commerce-core/internal/order/infrastructure/postgres"
	paymentapp "github.com/eleganza/commerce-core/internal/payment/application"
	paymentdomain "github.com/eleganza/commerce-core/internal/payment/domain"
	paymentpg "github.com/eleganza/commerce-core/internal/payment/infrastructure/postgres"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
)

type stack struct {
	db        *platform.DB
	catalog   *catalog.Store
	ledger    *ledgerpg.Store
	inventory *inventoryapp.Service
	payments  *paymentapp.Service
	orders    *orderapp.Service
}

func newStack(t *testing.T, ctx context.Context, pgURL string) *stack {
	t.Helper()

	db, err := platform.Connect(ctx, pgURL, 3*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := slog.New(slog.DiscardHandler)
	cat := catalog.NewStore(db)
	ledgerStore := ledgerpg.NewStore(log, db)
	inventorySvc := inventoryapp.NewService(log, inventorypg.NewRepository(log, db), 5, 100)
	paymentSvc := paymentapp.NewService(log, paymentpg.NewRepository(log, db), ledgerStore)
	orderSvc := orderapp.NewService(log, orderpg.NewRepository(log, db), cat, paymentSvc, "LYD")

	return &stack{
		db:        db,
		catalog:   cat,
		ledger:    ledgerStore,
		inventory: inventorySvc,
		payments:  paymentSvc,
		orders:    orderSvc,
	}
}

func (s *stack) seedProduct(t *testing.T, ctx context.Context, sku string, priceCents int64, stock int) {
	t.Helper()
	err := s.catalog.Upsert(ctx, catalog.Product{
		SKU: sku, Name: sku, Price: money.New(priceCents, "LYD"), IsActive: true,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if err := s.inventory.Ensure(ctx, sku); err != nil {
		t.Fatalf("ensure inventory: %v", err)
	}
	if _, err := s.inventory.Adjust(ctx, sku, stock, "seed"); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func TestOrderLifecycle(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Fatalf("setup containers: %v", err)
	}
	defer env.Teardown(ctx)

	s := newStack(t, ctx, env.PGURL)
	s.seedProduct(t, ctx, "SKU-LIFE", 1500, 10)

	if _, err := s.ledger.Deposit(ctx, "amira", money.New(10000, "LYD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	method := paymentdomain.NewWalletMethod("amira")
	if err := s.payments.CreateMethod(ctx, method); err != nil {
		t.Fatalf("create method: %v", err)
	}

	o, err := s.orders.Create(ctx, "amira", []orderapp.ItemRequest{{SKU: "SKU-LIFE", Quantity: 2}}, "12 Harbor St", "12 Harbor St")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.Total.Cents != 3000 {
		t.Fatalf("total = %d, want 3000", o.Total.Cents)
	}

	if _, err := s.orders.Reserve(ctx, o.ID, "tester"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	inv, err := s.inventory.Get(ctx, "SKU-LIFE")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inv.Available() != 8 || inv.StockQuantity != 10 {
		t.Fatalf("after reserve: available=%d on-hand=%d, want 8/10", inv.Available(), inv.StockQuantity)
	}

	confirmed, p, err := s.orders.Confirm(ctx, o.ID, method.ID, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != orderdomain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", confirmed.Status)
	}
	w, err := s.ledger.Wallet(ctx, "amira")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Balance.Cents != 7000 {
		t.Fatalf("balance = %d, want 7000", w.Balance.Cents)
	}

	if _, err := s.orders.BeginFulfillment(ctx, o.ID, "tester"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	inv, _ = s.inventory.Get(ctx, "SKU-LIFE")
	if inv.StockQuantity != 8 || inv.ReservedStock != 0 {
		t.Fatalf("after fulfill: on-hand=%d reserved=%d, want 8/0", inv.StockQuantity, inv.ReservedStock)
	}

	if _, err := s.orders.Ship(ctx, o.ID, "TRK-1", "tester"); err != nil {
		t.Fatalf("ship: %v", err)
	}
	done, err := s.orders.Complete(ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != orderdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	trail, err := s.orders.AuditTrail(ctx, o.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != 5 {
		t.Fatalf("trail length = %d, want 5", len(trail))
	}

	// A second payment on the completed order must be rejected by the
	// transition guard, and the failed payment attempt must not debit.
	if _, _, err := s.orders.Confirm(ctx, o.ID, method.ID, "tester"); !errors.Is(err, orderdomain.ErrInvalidTransition) {
		t.Fatalf("confirm on completed order: err = %v, want ErrInvalidTransition", err)
	}
	if p.Status != paymentdomain.StatusCompleted {
		t.Fatalf("payment status = %s, want completed", p.Status)
	}
}

func TestRefundFlow(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Fatalf("setup containers: %v", err)
	}
	defer env.Teardown(ctx)

	s := newStack(t, ctx, env.PGURL)
	s.seedProduct(t, ctx, "SKU-REF", 2000, 5)

	if _, err := s.ledger.Deposit(ctx, "nadia", money.New(5000, "LYD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	method := paymentdomain.NewWalletMethod("nadia")
	if err := s.payments.CreateMethod(ctx, method); err != nil {
		t.Fatalf("create method: %v", err)
	}

	o, err := s.orders.Create(ctx, "nadia", []orderapp.ItemRequest{{SKU: "SKU-REF", Quantity: 1}}, "", "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := s.orders.Reserve(ctx, o.ID, "tester"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, p, err := s.orders.Confirm(ctx, o.ID, method.ID, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	first, err := s.payments.Refund(ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	second, err := s.payments.Refund(ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("repeat refund: %v", err)
	}
	if first.Reference != second.Reference {
		t.Fatal("repeat refund must return the original ledger entry")
	}

	w, err := s.ledger.Wallet(ctx, "nadia")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Balance.Cents != 5000 {
		t.Fatalf("balance = %d, want 5000 (refunded exactly once)", w.Balance.Cents)
	}
	refunded, err := s.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if refunded.Status != orderdomain.StatusRefunded {
		t.Fatalf("order status = %s, want refunded", refunded.Status)
	}
}

func TestReservationShortfallHoldsNothing(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Fatalf("setup containers: %v", err)
	}
	defer env.Teardown(ctx)

	s := newStack(t, ctx, env.PGURL)
	s.seedProduct(t, ctx, "SKU-AON-A", 1000, 10)
	s.seedProduct(t, ctx, "SKU-AON-B", 1000, 1)

	o, err := s.orders.Create(ctx, "amira", []orderapp.ItemRequest{
		{SKU: "SKU-AON-A", Quantity: 2},
		{SKU: "SKU-AON-B", Quantity: 5},
	}, "", "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = s.orders.Reserve(ctx, o.ID, "tester")
	var shortfall *inventorydomain.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("reserve err = %v, want InsufficientStockError", err)
	}

	// The first line had plenty of stock; the second line's shortfall must
	// roll its hold back with the transaction.
	invA, err := s.inventory.Get(ctx, "SKU-AON-A")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if invA.ReservedStock != 0 {
		t.Fatalf("SKU-AON-A reserved = %d, want 0 after failed reservation", invA.ReservedStock)
	}
	invB, _ := s.inventory.Get(ctx, "SKU-AON-B")
	if invB.ReservedStock != 0 {
		t.Fatalf("SKU-AON-B reserved = %d, want 0", invB.ReservedStock)
	}
	got, err := s.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != orderdomain.StatusDraft {
		t.Fatalf("order status = %s, want draft", got.Status)
	}
}

func TestConcurrentReservationNeverOversells(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Fatalf("setup containers: %v", err)
	}
	defer env.Teardown(ctx)

	s := newStack(t, ctx, env.PGURL)
	s.seedProduct(t, ctx, "SKU-RACE", 1000, 5)

	// Two orders compete for 5 units wanting 3 each. At most one may win;
	// the loser gets a business rejection or a retryable contention error,
	// never a negative availability.
	var ids [2]uuid.UUID
	for i := range ids {
		o, err := s.orders.Create(ctx, "amira", []orderapp.ItemRequest{{SKU: "SKU-RACE", Quantity: 3}}, "", "")
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
		ids[i] = o.ID
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.orders.Reserve(ctx, ids[i], "racer")
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded > 1 {
		t.Fatalf("both reservations succeeded against 5 units of stock")
	}

	inv, err := s.inventory.Get(ctx, "SKU-RACE")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inv.ReservedStock > inv.StockQuantity {
		t.Fatalf("reserved %d exceeds on-hand %d", inv.ReservedStock, inv.StockQuantity)
	}
	if succeeded == 1 && inv.ReservedStock != 3 {
		t.Fatalf("reserved = %d, want 3", inv.ReservedStock)
	}
}
