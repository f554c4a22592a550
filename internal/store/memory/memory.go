package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/xid"
)

type recordKey struct {
	storeID   int64
	itemID    int64
	barcodeID int64
}

type counterKey struct {
	storeID int64
	docType string
}

type catalogKey struct {
	storeID int64
	itemID  int64
}

// Store is an in-memory Repository used by tests and by the server when
// no database is configured. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	stores       map[int64]domain.Store
	items        map[int64]domain.Item
	barcodes     map[int64]domain.Barcode
	barcodeCodes map[string]int64
	records      map[recordKey]domain.StockRecord
	storeItems   map[catalogKey]bool
	transactions []domain.StockTransaction
	transfers    []domain.Transfer
	counters     map[counterKey]int64
	docNumbers   map[string]bool
	shifts       map[string]domain.Shift
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount

	nextBarcodeID int64
}

func New() *Store {
	return &Store{
		stores:       make(map[int64]domain.Store),
		items:        make(map[int64]domain.Item),
		barcodes:     make(map[int64]domain.Barcode),
		barcodeCodes: make(map[string]int64),
		records:      make(map[recordKey]domain.StockRecord),
		storeItems:   make(map[catalogKey]bool),
		counters:     make(map[counterKey]int64),
		docNumbers:   make(map[string]bool),
		shifts:       make(map[string]domain.Shift),
		users:        make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with two stores, a small item
// catalog, and a default admin account (admin / admin123, manager
// override 9999).
func NewSeeded() *Store {
	s := New()

	s.stores[1] = domain.Store{ID: 1, Code: "MAIN", Name: "Main Store"}
	s.stores[2] = domain.Store{ID: 2, Code: "BR01", Name: "Branch 01"}

	s.items[1] = domain.Item{ID: 1, Name: "Basic Tee", Category: "tops", SellingPriceCents: 1500, CostPriceCents: 600, Active: true}
	s.items[2] = domain.Item{ID: 2, Name: "Slim Jeans", Category: "bottoms", SellingPriceCents: 4500, CostPriceCents: 2100, Active: true}
	s.items[3] = domain.Item{ID: 3, Name: "Canvas Belt", Category: "accessories", SellingPriceCents: 1500, CostPriceCents: 400, Active: true}

	password, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	managerPass, _ := bcrypt.GenerateFromPassword([]byte("9999"), bcrypt.DefaultCost)
	s.users["admin"] = domain.UserAccount{
		Username:        "admin",
		Password:        string(password),
		ManagerPassword: string(managerPass),
		Role:            "admin",
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	return s
}

// AddStore is a test seeding helper.
func (s *Store) AddStore(st domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[st.ID] = st
}

// AddItem is a test seeding helper.
func (s *Store) AddItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// AddUser is a test seeding helper; passwords must already be hashed.
func (s *Store) AddUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(user.Username)] = user
}

func (s *Store) GetStore(ctx context.Context, storeID int64) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := st
	return &saved, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Code < stores[j].Code })
	return stores, nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := item
	return &saved, nil
}

func (s *Store) ListStoreItems(ctx context.Context, storeID int64) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, 8)
	for key := range s.storeItems {
		if key.storeID != storeID {
			continue
		}
		if item, ok := s.items[key.itemID]; ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) GetStockRecord(ctx context.Context, storeID int64, itemID int64, barcodeID int64) (*domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{storeID, itemID, barcodeID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := rec
	return &saved, nil
}

func (s *Store) ApplyMovement(ctx context.Context, m domain.Movement) (*domain.StockRecord, error) {
	if m.Quantity < 1 || !isMovementType(m.Type) || m.UserID == "" {
		return nil, store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := recordKey{m.StoreID, m.ItemID, m.BarcodeID}
	rec, ok := s.records[key]
	if !ok {
		if m.Type != domain.MovementIn {
			return nil, &store.InsufficientStockError{Available: 0, Requested: m.Quantity}
		}
		item, found := s.items[m.ItemID]
		if !found {
			return nil, store.ErrNotFound
		}
		rec = domain.StockRecord{
			StoreID:           m.StoreID,
			ItemID:            m.ItemID,
			BarcodeID:         m.BarcodeID,
			CurrentStock:      m.Quantity,
			SellingPriceCents: item.SellingPriceCents,
			CostPriceCents:    item.CostPriceCents,
		}
		s.storeItems[catalogKey{m.StoreID, m.ItemID}] = true
	} else {
		delta := m.Quantity
		if m.Type != domain.MovementIn {
			delta = -m.Quantity
		}
		next := rec.CurrentStock + delta
		if next < 0 {
			return nil, &store.InsufficientStockError{Available: rec.CurrentStock, Requested: m.Quantity}
		}
		rec.CurrentStock = next
	}
	rec.UpdatedAt = now
	s.records[key] = rec

	s.transactions = append(s.transactions, domain.StockTransaction{
		ID:            xid.New("stx"),
		StoreID:       m.StoreID,
		ItemID:        m.ItemID,
		BarcodeID:     m.BarcodeID,
		Type:          m.Type,
		Quantity:      m.Quantity,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		UserID:        m.UserID,
		CreatedAt:     now,
	})

	saved := rec
	return &saved, nil
}

func (s *Store) SearchInventory(ctx context.Context, q domain.InventoryQuery) ([]domain.InventoryRow, error) {
	if q.Limit < 1 {
		q.Limit = 200
	}
	nameLike := strings.ToLower(strings.TrimSpace(q.NameLike))

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryRow, 0, 16)
	for key, rec := range s.records {
		if key.storeID != q.StoreID {
			continue
		}
		if q.ItemID != 0 && key.itemID != q.ItemID {
			continue
		}
		if q.BarcodeID != 0 && key.barcodeID != q.BarcodeID {
			continue
		}
		if q.InStockOnly && rec.CurrentStock < 1 {
			continue
		}
		item := s.items[key.itemID]
		if q.Category != "" && item.Category != q.Category {
			continue
		}
		if nameLike != "" && !strings.Contains(strings.ToLower(item.Name), nameLike) {
			continue
		}
		result = append(result, domain.InventoryRow{
			StoreID:           rec.StoreID,
			ItemID:            rec.ItemID,
			ItemName:          item.Name,
			Category:          item.Category,
			BarcodeID:         rec.BarcodeID,
			BarcodeCode:       s.barcodes[rec.BarcodeID].Code,
			CurrentStock:      rec.CurrentStock,
			SellingPriceCents: rec.SellingPriceCents,
			CostPriceCents:    rec.CostPriceCents,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ItemName != result[j].ItemName {
			return result[i].ItemName < result[j].ItemName
		}
		return result[i].BarcodeCode < result[j].BarcodeCode
	})
	if len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) ListStockTransactions(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockTransaction, 0, 16)
	for i := len(s.transactions) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.transactions[i]
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) Transfer(ctx context.Context, t domain.Transfer) (*domain.Transfer, error) {
	if t.Quantity < 1 || t.SourceStoreID == t.DestStoreID || t.PerformedBy == "" {
		return nil, store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.stores[t.SourceStoreID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dest, ok := s.stores[t.DestStoreID]
	if !ok {
		return nil, store.ErrNotFound
	}

	sourceKey := recordKey{t.SourceStoreID, t.ItemID, t.BarcodeID}
	sourceRec, ok := s.records[sourceKey]
	if !ok {
		return nil, store.ErrItemNotInSourceStore
	}
	if sourceRec.CurrentStock < t.Quantity {
		return nil, &store.InsufficientStockError{Available: sourceRec.CurrentStock, Requested: t.Quantity}
	}

	now := time.Now().UTC()
	sourceRec.CurrentStock -= t.Quantity
	sourceRec.UpdatedAt = now
	s.records[sourceKey] = sourceRec

	destKey := recordKey{t.DestStoreID, t.ItemID, t.BarcodeID}
	destRec, ok := s.records[destKey]
	if !ok {
		destRec = domain.StockRecord{
			StoreID:           t.DestStoreID,
			ItemID:            t.ItemID,
			BarcodeID:         t.BarcodeID,
			SellingPriceCents: sourceRec.SellingPriceCents,
			CostPriceCents:    sourceRec.CostPriceCents,
		}
	}
	destRec.CurrentStock += t.Quantity
	destRec.UpdatedAt = now
	s.records[destKey] = destRec
	s.storeItems[catalogKey{t.DestStoreID, t.ItemID}] = true

	if t.ID == "" {
		t.ID = xid.New("tr")
	}
	t.SourceStoreName = source.Name
	t.DestStoreName = dest.Name
	t.CreatedAt = now
	s.transfers = append(s.transfers, t)

	for _, leg := range []struct {
		storeID int64
		typ     string
	}{
		{t.SourceStoreID, domain.MovementOut},
		{t.DestStoreID, domain.MovementIn},
	} {
		s.transactions = append(s.transactions, domain.StockTransaction{
			ID:            xid.New("stx"),
			StoreID:       leg.storeID,
			ItemID:        t.ItemID,
			BarcodeID:     t.BarcodeID,
			Type:          leg.typ,
			Quantity:      t.Quantity,
			ReferenceType: domain.ReferenceTypeTransfer,
			ReferenceID:   t.ID,
			UserID:        t.PerformedBy,
			CreatedAt:     now,
		})
	}

	saved := t
	return &saved, nil
}

func (s *Store) ListTransfers(ctx context.Context, storeID int64, limit int) ([]domain.Transfer, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := make([]domain.Transfer, 0, 16)
	for i := len(s.transfers) - 1; i >= 0 && len(transfers) < limit; i-- {
		t := s.transfers[i]
		if storeID != 0 && t.SourceStoreID != storeID && t.DestStoreID != storeID {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func (s *Store) NextDocumentNumber(ctx context.Context, storeID int64, docType string) (string, error) {
	if docType != domain.DocTypeInvoice && docType != domain.DocTypeReturn {
		return "", store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stores[storeID]
	if !ok {
		return "", store.ErrNotFound
	}

	key := counterKey{storeID, docType}
	s.counters[key]++
	seq := s.counters[key]

	number := fmt.Sprintf("%s-%06d", st.Code, seq)
	if docType == domain.DocTypeReturn {
		number = fmt.Sprintf("%s-R%06d", st.Code, seq)
	}
	if s.docNumbers[number] {
		return "", fmt.Errorf("%w: duplicate document number %s", store.ErrTransactionFailed, number)
	}
	s.docNumbers[number] = true
	return number, nil
}

func (s *Store) FindBarcodeByPrice(ctx context.Context, priceCents int64) (*domain.Barcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Barcode
	for id := range s.barcodes {
		b := s.barcodes[id]
		if b.PriceCents != priceCents {
			continue
		}
		if best == nil || b.ID < best.ID {
			saved := b
			best = &saved
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) CreateBarcode(ctx context.Context, code string, priceCents int64) (*domain.Barcode, error) {
	code = strings.TrimSpace(code)
	if code == "" || priceCents < 1 {
		return nil, store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.barcodeCodes[code]; exists {
		return nil, store.ErrDuplicateBarcode
	}

	s.nextBarcodeID++
	b := domain.Barcode{
		ID:         s.nextBarcodeID,
		Code:       code,
		PriceCents: priceCents,
		CreatedAt:  time.Now().UTC(),
	}
	s.barcodes[b.ID] = b
	s.barcodeCodes[code] = b.ID

	saved := b
	return &saved, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.UserID) == "" || shift.StoreID < 1 {
		return nil, store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.UserID == shift.UserID && existing.Status == domain.ShiftStatusActive {
			return nil, store.ErrInvalidMovement
		}
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil
	s.shifts[shift.ID] = shift

	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.UserID == userID && shift.Status == domain.ShiftStatusActive {
			saved := shift
			return &saved, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, at time.Time) (*domain.Shift, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[shiftID]
	if !ok || shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrShiftNotActive
	}

	end := at
	shift.Status = domain.ShiftStatusClosed
	shift.EndTime = &end
	s.shifts[shiftID] = shift

	saved := shift
	return &saved, nil
}

func (s *Store) CloseAllUserShifts(ctx context.Context, userID string, at time.Time) (int, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	closed := 0
	for id, shift := range s.shifts {
		if shift.UserID != userID || shift.Status != domain.ShiftStatusActive {
			continue
		}
		end := at
		shift.Status = domain.ShiftStatusClosed
		shift.EndTime = &end
		s.shifts[id] = shift
		closed++
	}
	return closed, nil
}

func (s *Store) CountShiftActivity(ctx context.Context, userID string, from time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := 0
	for _, entry := range s.transactions {
		if entry.UserID != userID || entry.CreatedAt.Before(from) {
			continue
		}
		if entry.ReferenceType == domain.ReferenceTypeTransfer {
			continue
		}
		movements++
	}

	transfers := 0
	for _, t := range s.transfers {
		if t.PerformedBy == userID && !t.CreatedAt.Before(from) {
			transfers++
		}
	}
	return movements, transfers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, 16)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidMovement
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidMovement
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := user
	return &saved, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidMovement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func isMovementType(t string) bool {
	switch t {
	case domain.MovementIn, domain.MovementOut, domain.MovementAdjustment:
		return true
	default:
		return false
	}
}
