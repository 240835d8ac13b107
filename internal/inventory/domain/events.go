package domain

// StockLow is published when a mutation drives available stock to or below
// the SKU's threshold. Delivery is asynchronous; it never blocks or rolls
// back the mutation that triggered it.
type StockLow struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// StockAdjusted is published after a manual or bulk adjustment commits.
type StockAdjusted struct {
	SKU      string `json:"sku"`
	OldStock int    `json:"old_stock"`
	NewStock int    `json:"new_stock"`
	Reason   string `json:"reason"`
}
