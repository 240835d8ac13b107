package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	ledgerdomain "github.com/eleganza/commerce-core/internal/ledger/domain"
	"github.com/eleganza/commerce-core/internal/money"
	orderdomain "github.com/eleganza/commerce-core/internal/order/domain"
	"github.com/eleganza/commerce-core/internal/payment/domain"
)

type fakePaymentRepo struct {
	methods  map[uuid.UUID]domain.PaymentMethod
	payments map[uuid.UUID]domain.Payment
	balance  map[string]int64
	refunds  map[uuid.UUID]ledgerdomain.Transaction

	walletCalls int
	cashCalls   int
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		methods:  make(map[uuid.UUID]domain.PaymentMethod),
		payments: make(map[uuid.UUID]domain.Payment),
		balance:  make(map[string]int64),
		refunds:  make(map[uuid.UUID]ledgerdomain.Transaction),
	}
}

func (f *fakePaymentRepo) SaveMethod(_ context.Context, m domain.PaymentMethod) error {
	f.methods[m.ID] = m
	return nil
}

func (f *fakePaymentRepo) GetMethod(_ context.Context, id uuid.UUID) (domain.PaymentMethod, error) {
	m, ok := f.methods[id]
	if !ok {
		return domain.PaymentMethod{}, fmt.Errorf("payment method not found: %s", id)
	}
	return m, nil
}

func (f *fakePaymentRepo) Get(_ context.Context, id uuid.UUID) (domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return domain.Payment{}, fmt.Errorf("payment not found: %s", id)
	}
	return p, nil
}

func (f *fakePaymentRepo) ProcessWallet(_ context.Context, p domain.Payment, method domain.PaymentMethod, _ orderdomain.Status, _ string) (domain.Payment, error) {
	f.walletCalls++
	if f.balance[method.UserID] < p.Amount.Cents {
		p.Status = domain.StatusFailed
		p.FailureReason = "insufficient funds"
		f.payments[p.ID] = p
		return p, nil
	}
	f.balance[method.UserID] -= p.Amount.Cents
	p.Status = domain.StatusCompleted
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakePaymentRepo) ProcessCash(_ context.Context, p domain.Payment, _ domain.PaymentMethod, _ orderdomain.Status, _ string) (domain.Payment, error) {
	f.cashCalls++
	p.Status = domain.StatusCompleted
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakePaymentRepo) Refund(_ context.Context, p domain.Payment, method domain.PaymentMethod, _ string) (ledgerdomain.Transaction, error) {
	if existing, ok := f.refunds[p.ID]; ok {
		return existing, nil
	}
	entry := ledgerdomain.Transaction{
		Reference: uuid.New(),
		Type:      ledgerdomain.TypeRefund,
		UserID:    method.UserID,
		Amount:    p.Amount,
		PaymentID: &p.ID,
	}
	f.refunds[p.ID] = entry
	if method.Type == domain.MethodWallet {
		f.balance[method.UserID] += p.Amount.Cents
	}
	p.Status = domain.StatusRefunded
	f.payments[p.ID] = p
	return entry, nil
}

type fakeWallets struct {
	wallets map[string]ledgerdomain.Wallet
}

func (f *fakeWallets) Wallet(_ context.Context, userID string) (ledgerdomain.Wallet, error) {
	w, ok := f.wallets[userID]
	if !ok {
		return ledgerdomain.Wallet{}, fmt.Errorf("wallet not found: %s", userID)
	}
	return w, nil
}

func testOrder(t *testing.T, cents int64) orderdomain.Order {
	t.Helper()
	o, err := orderdomain.NewOrder("amira", []orderdomain.OrderItem{
		{SKU: "SKU-A", Quantity: 1, Price: money.New(cents, "LYD")},
	}, money.Zero("LYD"), money.Zero("LYD"))
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	o.Status = orderdomain.StatusReserved
	return o
}

func newPaymentService(t *testing.T) (*Service, *fakePaymentRepo, *fakeWallets) {
	t.Helper()
	repo := newFakePaymentRepo()
	wallets := &fakeWallets{wallets: make(map[string]ledgerdomain.Wallet)}
	log := slog.New(slog.DiscardHandler)
	return NewService(log, repo, wallets), repo, wallets
}

func TestProcessWalletPayment(t *testing.T) {
	svc, repo, wallets := newPaymentService(t)
	method := domain.NewWalletMethod("amira")
	repo.methods[method.ID] = method
	repo.balance["amira"] = 5000
	wallets.wallets["amira"] = ledgerdomain.Wallet{UserID: "amira", Balance: money.New(5000, "LYD")}

	p, err := svc.Process(context.Background(), testOrder(t, 3000), method.ID, "tester")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if repo.balance["amira"] != 2000 {
		t.Fatalf("balance = %d, want 2000", repo.balance["amira"])
	}
}

func TestProcessInsufficientFundsIsFailedOutcome(t *testing.T) {
	svc, repo, wallets := newPaymentService(t)
	method := domain.NewWalletMethod("amira")
	repo.methods[method.ID] = method
	repo.balance["amira"] = 100
	wallets.wallets["amira"] = ledgerdomain.Wallet{UserID: "amira", Balance: money.New(100, "LYD")}

	p, err := svc.Process(context.Background(), testOrder(t, 3000), method.ID, "tester")
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Fatalf("err = %v, want ErrPaymentFailed", err)
	}
	if p.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", p.Status)
	}
	if p.FailureReason == "" {
		t.Fatal("failed payment must carry a failure reason")
	}
	if repo.balance["amira"] != 100 {
		t.Fatalf("balance = %d, want 100 (untouched)", repo.balance["amira"])
	}
}

func TestProcessWalletCurrencyMismatchRejectedBeforeWrite(t *testing.T) {
	svc, repo, wallets := newPaymentService(t)
	method := domain.NewWalletMethod("amira")
	repo.methods[method.ID] = method
	wallets.wallets["amira"] = ledgerdomain.Wallet{UserID: "amira", Balance: money.New(5000, "USD")}

	_, err := svc.Process(context.Background(), testOrder(t, 3000), method.ID, "tester")
	if !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Fatalf("err = %v, want ErrCurrencyMismatch", err)
	}
	if repo.walletCalls != 0 {
		t.Fatal("currency mismatch must be rejected before any settlement attempt")
	}
}

func TestProcessCashPayment(t *testing.T) {
	svc, repo, _ := newPaymentService(t)
	method := domain.NewCashMethod("amira", "clerk-7")
	repo.methods[method.ID] = method

	p, err := svc.Process(context.Background(), testOrder(t, 3000), method.ID, "tester")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if repo.cashCalls != 1 || repo.walletCalls != 0 {
		t.Fatalf("cash=%d wallet=%d, want cash path only", repo.cashCalls, repo.walletCalls)
	}
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	svc, repo, _ := newPaymentService(t)
	method := domain.NewWalletMethod("amira")
	repo.methods[method.ID] = method

	pending, err := domain.NewPayment(uuid.New(), method, money.New(3000, "LYD"))
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	repo.payments[pending.ID] = pending

	if _, err := svc.Refund(context.Background(), pending.ID, "tester"); err == nil {
		t.Fatal("refund of a pending payment must be rejected")
	}
}

func TestRefundIsIdempotent(t *testing.T) {
	svc, repo, wallets := newPaymentService(t)
	method := domain.NewWalletMethod("amira")
	repo.methods[method.ID] = method
	repo.balance["amira"] = 0
	wallets.wallets["amira"] = ledgerdomain.Wallet{UserID: "amira", Balance: money.Zero("LYD")}

	p, err := domain.NewPayment(uuid.New(), method, money.New(3000, "LYD"))
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	p.Status = domain.StatusCompleted
	repo.payments[p.ID] = p

	first, err := svc.Refund(context.Background(), p.ID, "tester")
	if err != nil {
		t.Fatalf("first Refund: %v", err)
	}
	second, err := svc.Refund(context.Background(), p.ID, "tester")
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if first.Reference != second.Reference {
		t.Fatal("repeated refund must return the original entry")
	}
	if repo.balance["amira"] != 3000 {
		t.Fatalf("balance = %d, want 3000 (credited exactly once)", repo.balance["amira"])
	}
}
