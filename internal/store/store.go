package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidMovement      = errors.New("invalid movement")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrItemNotInSourceStore = errors.New("item not in source store")
	ErrShiftNotActive       = errors.New("shift not active or not found")
	ErrDuplicateBarcode     = errors.New("barcode already exists")
	ErrTransactionFailed    = errors.New("transaction failed")
)

// InsufficientStockError carries the quantities so callers can build a
// human-readable failure message. errors.Is(err, ErrInsufficientStock)
// holds for every instance.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	GetStore(ctx context.Context, storeID int64) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	ListStoreItems(ctx context.Context, storeID int64) ([]domain.Item, error)

	GetStockRecord(ctx context.Context, storeID int64, itemID int64, barcodeID int64) (*domain.StockRecord, error)
	ApplyMovement(ctx context.Context, movement domain.Movement) (*domain.StockRecord, error)
	SearchInventory(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRow, error)
	ListStockTransactions(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error)

	Transfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, storeID int64, limit int) ([]domain.Transfer, error)

	NextDocumentNumber(ctx context.Context, storeID int64, docType string) (string, error)

	FindBarcodeByPrice(ctx context.Context, priceCents int64) (*domain.Barcode, error)
	CreateBarcode(ctx context.Context, code string, priceCents int64) (*domain.Barcode, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, at time.Time) (*domain.Shift, error)
	CloseAllUserShifts(ctx context.Context, userID string, at time.Time) (int, error)
	CountShiftActivity(ctx context.Context, userID string, from time.Time) (int, int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
