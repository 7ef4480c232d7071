package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryDirection marks a wallet entry as a credit or debit.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "CREDIT"
	DirectionDebit  EntryDirection = "DEBIT"
)

// ParseEntryDirection validates a raw direction string.
func ParseEntryDirection(raw string) (EntryDirection, error) {
	switch EntryDirection(raw) {
	case DirectionCredit, DirectionDebit:
		return EntryDirection(raw), nil
	}
	return "", fmt.Errorf("unrecognized wallet entry direction %q", raw)
}

// WalletEntry is one row of a freelancer's append-only wallet ledger.
// Entries are never mutated; rollback deletes them by causal invoice link.
type WalletEntry struct {
	EntryID       string          `json:"entry_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     EntryDirection  `json:"direction"`
	InvoiceNumber string          `json:"invoice_number"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewWalletEntry builds a wallet entry for a paid invoice.
func NewWalletEntry(userID string, amount decimal.Decimal, direction EntryDirection, invoiceNumber string, now time.Time) *WalletEntry {
	return &WalletEntry{
		EntryID:       GenerateUUIDWithPrefix("wal"),
		UserID:        userID,
		Amount:        Round2(amount),
		Direction:     direction,
		InvoiceNumber: invoiceNumber,
		CreatedAt:     now,
	}
}
