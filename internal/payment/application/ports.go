package application

import (
	"context"

	"github.com/google/uuid"

	ledgerdomain "github.com/eleganza/commerce-core/internal/ledger/domain"
	orderdomain "github.com/eleganza/commerce-core/internal/order/domain"
	"github.com/eleganza/commerce-core/internal/payment/domain"
)

// PaymentRepository executes payment settlement and refund as single
// transactions: payment row, ledger entry, wallet delta and order status
// flip commit together.
type PaymentRepository interface {
	SaveMethod(ctx context.Context, m domain.PaymentMethod) error
	GetMethod(ctx context.Context, id uuid.UUID) (domain.PaymentMethod, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	ProcessWallet(ctx context.Context, p domain.Payment, method domain.PaymentMethod, orderStatus orderdomain.Status, actor string) (domain.Payment, error)
	ProcessCash(ctx context.Context, p domain.Payment, method domain.PaymentMethod, orderStatus orderdomain.Status, actor string) (domain.Payment, error)
	Refund(ctx context.Context, p domain.Payment, method domain.PaymentMethod, actor string) (ledgerdomain.Transaction, error)
}

// WalletReader exposes the balance cache for pre-mutation validation.
type WalletReader interface {
	Wallet(ctx context.Context, userID string) (ledgerdomain.Wallet, error)
}
