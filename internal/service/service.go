package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/cache"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
)

var (
	// ErrNoActor means the context carries no acting user. Handlers
	// attach the actor after token verification; a missing actor is a
	// wiring bug, not a user error.
	ErrNoActor = errors.New("no acting user in context")

	// ErrBarcodeExhausted means generation kept colliding with existing
	// codes and gave up.
	ErrBarcodeExhausted = errors.New("barcode generation exhausted")
)

const (
	barcodePrefix      = "2"
	barcodeMaxAttempts = 50

	itemPriceTTL = 10 * time.Minute
)

type actorContextKey struct{}

// WithActor returns a context carrying the acting user. Every mutating
// service call reads the actor back out for ledger attribution and
// audit rows.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo   store.Repository
	prices cache.PriceCache
}

func New(repo store.Repository, prices cache.PriceCache) *Service {
	if prices == nil {
		prices = cache.NoopPriceCache{}
	}
	return &Service{repo: repo, prices: prices}
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

// ListStoreItems returns the items assigned to a store's catalog.
// Assignment happens on first stock-in and on inbound transfer.
func (s *Service) ListStoreItems(ctx context.Context, storeID int64) ([]domain.Item, error) {
	if storeID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	if _, err := s.repo.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListStoreItems(ctx, storeID)
}

func (s *Service) GetStockRecord(ctx context.Context, storeID int64, itemID int64, barcodeID int64) (*domain.StockRecord, error) {
	if storeID < 1 || itemID < 1 || barcodeID < 1 {
		return nil, fmt.Errorf("%w: store, item, and barcode are required", store.ErrInvalidMovement)
	}
	return s.repo.GetStockRecord(ctx, storeID, itemID, barcodeID)
}

// ApplyMovement records one stock movement for the acting user. The
// record update and its ledger row commit together or not at all.
func (s *Service) ApplyMovement(ctx context.Context, req domain.MovementRequest) (*domain.MovementResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	if req.StoreID < 1 || req.ItemID < 1 || req.BarcodeID < 1 {
		return nil, fmt.Errorf("%w: store, item, and barcode are required", store.ErrInvalidMovement)
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidMovement)
	}
	switch req.Type {
	case domain.MovementIn, domain.MovementOut, domain.MovementAdjustment:
	default:
		return nil, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidMovement, req.Type)
	}

	referenceType := strings.TrimSpace(req.ReferenceType)
	if referenceType == "" {
		referenceType = domain.ReferenceTypeManual
	}

	rec, err := s.repo.ApplyMovement(ctx, domain.Movement{
		StoreID:       req.StoreID,
		ItemID:        req.ItemID,
		BarcodeID:     req.BarcodeID,
		Quantity:      req.Quantity,
		Type:          req.Type,
		ReferenceType: referenceType,
		ReferenceID:   strings.TrimSpace(req.ReferenceID),
		UserID:        actor.Username,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, req.StoreID, "stock.movement", "stock_record",
		fmt.Sprintf("%d/%d/%d", req.StoreID, req.ItemID, req.BarcodeID),
		fmt.Sprintf("type=%s qty=%d ref=%s", req.Type, req.Quantity, referenceType))

	return &domain.MovementResponse{Record: *rec}, nil
}

// Transfer moves stock between stores. Business failures (insufficient
// stock, item missing from the source) come back as an unsuccessful
// response with a display message rather than an error, so the POS can
// show them directly.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	if req.SourceStoreID < 1 || req.DestStoreID < 1 || req.ItemID < 1 || req.BarcodeID < 1 {
		return nil, fmt.Errorf("%w: source, destination, item, and barcode are required", store.ErrInvalidMovement)
	}
	if req.SourceStoreID == req.DestStoreID {
		return nil, fmt.Errorf("%w: source and destination must differ", store.ErrInvalidMovement)
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidMovement)
	}

	transfer, err := s.repo.Transfer(ctx, domain.Transfer{
		ItemID:        req.ItemID,
		BarcodeID:     req.BarcodeID,
		SourceStoreID: req.SourceStoreID,
		DestStoreID:   req.DestStoreID,
		Quantity:      req.Quantity,
		PerformedBy:   actor.Username,
	})
	if err != nil {
		var insufficient *store.InsufficientStockError
		switch {
		case errors.As(err, &insufficient):
			return &domain.TransferResponse{
				Success: false,
				Message: fmt.Sprintf("Insufficient stock. Available: %d, Requested: %d", insufficient.Available, insufficient.Requested),
			}, nil
		case errors.Is(err, store.ErrItemNotInSourceStore):
			return &domain.TransferResponse{
				Success: false,
				Message: "Item not found in source store",
			}, nil
		}
		return nil, err
	}

	s.logAudit(ctx, actor, transfer.SourceStoreID, "stock.transfer", "transfer", transfer.ID,
		fmt.Sprintf("item=%d barcode=%d qty=%d from=%s to=%s",
			transfer.ItemID, transfer.BarcodeID, transfer.Quantity, transfer.SourceStoreName, transfer.DestStoreName))

	return &domain.TransferResponse{
		Success:  true,
		Message:  "Transfer completed",
		Transfer: transfer,
	}, nil
}

func (s *Service) ListTransfers(ctx context.Context, storeID int64, limit int) ([]domain.Transfer, error) {
	return s.repo.ListTransfers(ctx, storeID, limit)
}

// NextDocumentNumber allocates the next invoice or return number for a
// store. Numbers are unique and dense per store and type.
func (s *Service) NextDocumentNumber(ctx context.Context, req domain.DocumentNumberRequest) (*domain.DocumentNumberResponse, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, ErrNoActor
	}
	if req.StoreID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	docType := strings.TrimSpace(req.DocType)
	if docType != domain.DocTypeInvoice && docType != domain.DocTypeReturn {
		return nil, fmt.Errorf("%w: unknown document type %q", store.ErrInvalidMovement, docType)
	}

	number, err := s.repo.NextDocumentNumber(ctx, req.StoreID, docType)
	if err != nil {
		return nil, err
	}
	return &domain.DocumentNumberResponse{DocNumber: number}, nil
}

// AssignBarcode returns a barcode for the given item price. If any item
// already has a barcode at that price the same barcode is shared;
// otherwise a fresh code is generated and registered.
func (s *Service) AssignBarcode(ctx context.Context, req domain.BarcodeAssignRequest) (*domain.BarcodeAssignResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	if req.ItemID < 1 {
		return nil, fmt.Errorf("%w: item is required", store.ErrInvalidMovement)
	}

	priceCents := req.PriceCents
	if priceCents < 1 {
		var err error
		priceCents, err = s.ItemPrice(ctx, req.ItemID)
		if err != nil {
			return nil, err
		}
	} else {
		// An explicit price usually follows a master-price change; drop
		// the cached value so later lookups re-read the item.
		if err := s.prices.InvalidateItemPrice(ctx, req.ItemID); err != nil {
			log.Printf("[cache] WARN: invalidate item price: %v", err)
		}
	}

	existing, err := s.repo.FindBarcodeByPrice(ctx, priceCents)
	if err == nil {
		return &domain.BarcodeAssignResponse{Barcode: *existing, Shared: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < barcodeMaxAttempts; attempt++ {
		code := fmt.Sprintf("%s%04d%s", barcodePrefix, req.ItemID%10000, randomDigits(2))
		created, err := s.repo.CreateBarcode(ctx, code, priceCents)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateBarcode) {
				// Same price raced past FindBarcodeByPrice, or the code
				// collided at another price. Re-check for sharing first.
				if shared, findErr := s.repo.FindBarcodeByPrice(ctx, priceCents); findErr == nil {
					return &domain.BarcodeAssignResponse{Barcode: *shared, Shared: true}, nil
				}
				continue
			}
			return nil, err
		}

		s.logAudit(ctx, actor, 0, "barcode.assign", "barcode", created.Code,
			fmt.Sprintf("item=%d price_cents=%d", req.ItemID, priceCents))
		return &domain.BarcodeAssignResponse{Barcode: *created, Shared: false}, nil
	}
	return nil, ErrBarcodeExhausted
}

// ItemPrice resolves an item's selling price through the cache.
func (s *Service) ItemPrice(ctx context.Context, itemID int64) (int64, error) {
	if price, err := s.prices.GetItemPrice(ctx, itemID); err == nil && price > 0 {
		return price, nil
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if err := s.prices.SetItemPrice(ctx, itemID, item.SellingPriceCents, itemPriceTTL); err != nil {
		log.Printf("[cache] WARN: set item price: %v", err)
	}
	return item.SellingPriceCents, nil
}

// StartShift opens a shift for the acting user, or resumes the one
// already open. A user never holds two active shifts.
func (s *Service) StartShift(ctx context.Context, req domain.ShiftStartRequest) (*domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	if req.StoreID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	if _, err := s.repo.GetStore(ctx, req.StoreID); err != nil {
		return nil, err
	}

	if active, err := s.repo.GetActiveShiftByUser(ctx, actor.Username); err == nil {
		return &domain.ShiftResponse{Shift: *active, Resumed: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	shift, err := s.repo.CreateShift(ctx, domain.Shift{
		UserID:  actor.Username,
		StoreID: req.StoreID,
	})
	if err != nil {
		// Lost a race with another session of the same user; resume
		// the shift that session opened.
		if errors.Is(err, store.ErrInvalidMovement) {
			if active, fetchErr := s.repo.GetActiveShiftByUser(ctx, actor.Username); fetchErr == nil {
				return &domain.ShiftResponse{Shift: *active, Resumed: true}, nil
			}
		}
		return nil, err
	}

	s.logAudit(ctx, actor, req.StoreID, "shift.start", "shift", shift.ID, "")
	return &domain.ShiftResponse{Shift: *shift, Resumed: false}, nil
}

func (s *Service) GetActiveShift(ctx context.Context) (*domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}
	shift, err := s.repo.GetActiveShiftByUser(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrShiftNotActive
		}
		return nil, err
	}
	return shift, nil
}

// CloseShift closes the acting user's active shift. Closing twice
// reports ErrShiftNotActive; the recorded end time is never moved.
func (s *Service) CloseShift(ctx context.Context) (*domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}

	active, err := s.repo.GetActiveShiftByUser(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrShiftNotActive
		}
		return nil, err
	}

	closed, err := s.repo.CloseShift(ctx, active.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, closed.StoreID, "shift.close", "shift", closed.ID, "")
	return closed, nil
}

// EnforcedLogout closes whatever shifts the user still holds and
// reports the shift's activity. Shift accounting failures never block
// the logout: the summary comes back with CloseFailed set instead.
func (s *Service) EnforcedLogout(ctx context.Context) (*domain.ShiftSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNoActor
	}

	summary := &domain.ShiftSummary{}

	active, err := s.repo.GetActiveShiftByUser(ctx, actor.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return summary, nil
	case err != nil:
		summary.CloseFailed = true
		summary.CloseMessage = "could not look up active shift"
		log.Printf("[shift] WARN: enforced logout lookup for %s: %v", actor.Username, err)
		return summary, nil
	}

	movements, transfers, err := s.repo.CountShiftActivity(ctx, actor.Username, active.StartTime)
	if err != nil {
		summary.CloseFailed = true
		summary.CloseMessage = "could not summarize shift activity"
		log.Printf("[shift] WARN: enforced logout activity count for %s: %v", actor.Username, err)
	} else {
		summary.Movements = movements
		summary.Transfers = transfers
	}

	now := time.Now().UTC()
	if _, err := s.repo.CloseAllUserShifts(ctx, actor.Username, now); err != nil {
		summary.CloseFailed = true
		summary.CloseMessage = "could not close shift"
		log.Printf("[shift] WARN: enforced logout close for %s: %v", actor.Username, err)
		summary.Shift = active
		return summary, nil
	}

	active.Status = domain.ShiftStatusClosed
	active.EndTime = &now
	summary.Shift = active

	s.logAudit(ctx, actor, active.StoreID, "shift.enforced_logout", "shift", active.ID,
		fmt.Sprintf("movements=%d transfers=%d", summary.Movements, summary.Transfers))
	return summary, nil
}

func (s *Service) SearchInventory(ctx context.Context, q domain.InventoryQuery) ([]domain.InventoryRow, error) {
	if q.StoreID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	return s.repo.SearchInventory(ctx, q)
}

func (s *Service) ListStockTransactions(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if storeID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListStockTransactions(ctx, storeID, from, to, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if storeID < 1 {
		return nil, fmt.Errorf("%w: store is required", store.ErrInvalidMovement)
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// logAudit writes the audit row best-effort; a failed write is logged
// and never fails the business operation.
func (s *Service) logAudit(ctx context.Context, actor domain.Actor, storeID int64, action string, entityType string, entityID string, detail string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
	})
	if err != nil {
		log.Printf("[audit] WARN: %s %s/%s: %v", action, entityType, entityID, err)
	}
}

func randomDigits(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	digits := make([]byte, n)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}
