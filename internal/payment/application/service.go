// Package application implements the payment processor: dispatch by method
// type, currency validation before any write, and idempotent refunds.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	ledgerdomain "github.com/eleganza/commerce-core/internal/ledger/domain"
	orderdomain "github.com/eleganza/commerce-core/internal/order/domain"
	"github.com/eleganza/commerce-core/internal/payment/domain"
)

type Service struct {
	log     *slog.Logger
	repo    PaymentRepository
	wallets WalletReader
}

func NewService(log *slog.Logger, repo PaymentRepository, wallets WalletReader) *Service {
	return &Service{log: log, repo: repo, wallets: wallets}
}

func (s *Service) CreateMethod(ctx context.Context, m domain.PaymentMethod) error {
	return s.repo.SaveMethod(ctx, m)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	return s.repo.Get(ctx, id)
}

// Process settles the order total against the chosen method. Insufficient
// wallet funds produce a payment saved as failed and ErrPaymentFailed;
// currency mismatches are rejected before anything is written.
func (s *Service) Process(ctx context.Context, o orderdomain.Order, methodID uuid.UUID, actor string) (domain.Payment, error) {
	method, err := s.repo.GetMethod(ctx, methodID)
	if err != nil {
		return domain.Payment{}, err
	}

	// The settled amount is always the order total in the order's currency;
	// the wallet is the only party that can disagree on currency.
	amount := o.Total
	if method.Type == domain.MethodWallet {
		w, err := s.wallets.Wallet(ctx, method.UserID)
		if err != nil {
			return domain.Payment{}, err
		}
		if err := w.Balance.SameCurrency(amount); err != nil {
			return domain.Payment{}, err
		}
	}

	p, err := domain.NewPayment(o.ID, method, amount)
	if err != nil {
		return domain.Payment{}, err
	}

	switch method.Type {
	case domain.MethodWallet:
		p, err = s.repo.ProcessWallet(ctx, p, method, o.Status, actor)
	case domain.MethodCash:
		p, err = s.repo.ProcessCash(ctx, p, method, o.Status, actor)
	default:
		return domain.Payment{}, fmt.Errorf("unsupported payment method type %q", method.Type)
	}
	if err != nil {
		return p, err
	}
	if p.Status == domain.StatusFailed {
		return p, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, p.FailureReason)
	}
	s.log.Info("payment completed", "payment_id", p.ID, "order_id", o.ID, "method", method.Type, "amount", p.Amount.String())
	return p, nil
}

// Refund reverses a completed payment. Repeated calls on an already
// refunded payment return the existing refund entry without any further
// monetary effect.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, actor string) (ledgerdomain.Transaction, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	if p.Status != domain.StatusCompleted && p.Status != domain.StatusRefunded {
		return ledgerdomain.Transaction{}, fmt.Errorf("payment %s is %s, only completed payments can be refunded", p.ID, p.Status)
	}
	method, err := s.repo.GetMethod(ctx, p.MethodID)
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}

	entry, err := s.repo.Refund(ctx, p, method, actor)
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	s.log.Info("payment refunded", "payment_id", p.ID, "order_id", p.OrderID, "amount", entry.Amount.String())
	return entry, nil
}
