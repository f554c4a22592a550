package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/xid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetStore(ctx context.Context, storeID int64) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Code, &st.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name
		FROM stores
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 8)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Code, &st.Name); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, selling_price_cents, cost_price_cents, active
		FROM items
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.Name, &item.Category, &item.SellingPriceCents, &item.CostPriceCents, &item.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListStoreItems returns the catalog of items assigned to a store. The
// assignment relation is maintained on first stock-in and on transfer,
// so an item shows up in the destination catalog after a transfer even
// before any local movement.
func (s *Store) ListStoreItems(ctx context.Context, storeID int64) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.category, i.selling_price_cents, i.cost_price_cents, i.active
		FROM store_items si
		JOIN items i ON i.id = si.item_id
		WHERE si.store_id = $1
		ORDER BY i.name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 16)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.SellingPriceCents, &item.CostPriceCents, &item.Active); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetStockRecord(ctx context.Context, storeID int64, itemID int64, barcodeID int64) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, item_id, barcode_id, current_stock, selling_price_cents, cost_price_cents, updated_at
		FROM stock_records
		WHERE store_id = $1 AND item_id = $2 AND barcode_id = $3
	`, storeID, itemID, barcodeID).Scan(
		&rec.StoreID, &rec.ItemID, &rec.BarcodeID, &rec.CurrentStock,
		&rec.SellingPriceCents, &rec.CostPriceCents, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// ApplyMovement adjusts one stock record and appends the paired ledger
// row inside a single transaction. The record row is locked for the
// duration of the check-and-update so concurrent movements serialize.
func (s *Store) ApplyMovement(ctx context.Context, m domain.Movement) (*domain.StockRecord, error) {
	if m.Quantity < 1 || !isMovementType(m.Type) || m.UserID == "" {
		return nil, store.ErrInvalidMovement
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var rec domain.StockRecord
	err = tx.QueryRowContext(ctx, `
		SELECT store_id, item_id, barcode_id, current_stock, selling_price_cents, cost_price_cents
		FROM stock_records
		WHERE store_id = $1 AND item_id = $2 AND barcode_id = $3
		FOR UPDATE
	`, m.StoreID, m.ItemID, m.BarcodeID).Scan(
		&rec.StoreID, &rec.ItemID, &rec.BarcodeID, &rec.CurrentStock,
		&rec.SellingPriceCents, &rec.CostPriceCents,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if m.Type != domain.MovementIn {
			return nil, &store.InsufficientStockError{Available: 0, Requested: m.Quantity}
		}

		var selling, cost int64
		err := tx.QueryRowContext(ctx, `
			SELECT selling_price_cents, cost_price_cents
			FROM items
			WHERE id = $1
		`, m.ItemID).Scan(&selling, &cost)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, txErr(err)
		}

		// Upsert covers two first-stock-ins racing on the same key.
		err = tx.QueryRowContext(ctx, `
			INSERT INTO stock_records (store_id, item_id, barcode_id, current_stock, selling_price_cents, cost_price_cents, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (store_id, item_id, barcode_id)
			DO UPDATE SET current_stock = stock_records.current_stock + EXCLUDED.current_stock, updated_at = EXCLUDED.updated_at
			RETURNING current_stock
		`, m.StoreID, m.ItemID, m.BarcodeID, m.Quantity, selling, cost, now).Scan(&rec.CurrentStock)
		if err != nil {
			return nil, txErr(err)
		}
		rec.StoreID = m.StoreID
		rec.ItemID = m.ItemID
		rec.BarcodeID = m.BarcodeID
		rec.SellingPriceCents = selling
		rec.CostPriceCents = cost

		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_items (store_id, item_id)
			VALUES ($1,$2)
			ON CONFLICT (store_id, item_id) DO NOTHING
		`, m.StoreID, m.ItemID)
		if err != nil {
			return nil, txErr(err)
		}
	case err != nil:
		return nil, txErr(err)
	default:
		delta := m.Quantity
		if m.Type != domain.MovementIn {
			delta = -m.Quantity
		}
		next := rec.CurrentStock + delta
		if next < 0 {
			return nil, &store.InsufficientStockError{Available: rec.CurrentStock, Requested: m.Quantity}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE stock_records
			SET current_stock = $4, updated_at = $5
			WHERE store_id = $1 AND item_id = $2 AND barcode_id = $3
		`, m.StoreID, m.ItemID, m.BarcodeID, next, now)
		if err != nil {
			return nil, txErr(err)
		}
		rec.CurrentStock = next
	}
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_transactions (id, store_id, item_id, barcode_id, transaction_type, quantity, reference_type, reference_id, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, xid.New("stx"), m.StoreID, m.ItemID, m.BarcodeID, m.Type, m.Quantity, m.ReferenceType, nullIfEmpty(m.ReferenceID), m.UserID, now)
	if err != nil {
		return nil, txErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, txErr(err)
	}
	return &rec, nil
}

// SearchInventory runs one fixed parameterized query; every filter is
// optional and AND-combined via value guards.
func (s *Store) SearchInventory(ctx context.Context, q domain.InventoryQuery) ([]domain.InventoryRow, error) {
	if q.Limit < 1 {
		q.Limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.store_id, sr.item_id, i.name, i.category, sr.barcode_id, b.code,
			sr.current_stock, sr.selling_price_cents, sr.cost_price_cents
		FROM stock_records sr
		JOIN items i ON i.id = sr.item_id
		JOIN barcodes b ON b.id = sr.barcode_id
		WHERE sr.store_id = $1
			AND ($2::bigint = 0 OR sr.item_id = $2)
			AND ($3::bigint = 0 OR sr.barcode_id = $3)
			AND ($4 = '' OR i.category = $4)
			AND ($5 = '' OR i.name ILIKE '%' || $5 || '%')
			AND (NOT $6 OR sr.current_stock > 0)
		ORDER BY i.name, b.code
		LIMIT $7
	`, q.StoreID, q.ItemID, q.BarcodeID, q.Category, strings.TrimSpace(q.NameLike), q.InStockOnly, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryRow, 0, q.Limit)
	for rows.Next() {
		var row domain.InventoryRow
		if err := rows.Scan(&row.StoreID, &row.ItemID, &row.ItemName, &row.Category, &row.BarcodeID, &row.BarcodeCode, &row.CurrentStock, &row.SellingPriceCents, &row.CostPriceCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStockTransactions(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, item_id, barcode_id, transaction_type, quantity, reference_type, reference_id, user_id, created_at
		FROM stock_transactions
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockTransaction, 0, limit)
	for rows.Next() {
		var entry domain.StockTransaction
		var refID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ItemID, &entry.BarcodeID, &entry.Type, &entry.Quantity, &entry.ReferenceType, &refID, &entry.UserID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if refID.Valid {
			entry.ReferenceID = refID.String
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Transfer moves quantity between two stores as one atomic unit: the
// source row is locked for the check-and-deduct, the destination is an
// ON CONFLICT upsert, and both the transfer audit row and the paired
// out/in ledger rows are written before commit.
func (s *Store) Transfer(ctx context.Context, t domain.Transfer) (*domain.Transfer, error) {
	if t.Quantity < 1 || t.SourceStoreID == t.DestStoreID || t.PerformedBy == "" {
		return nil, store.ErrInvalidMovement
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sourceName, destName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM stores WHERE id = $1`, t.SourceStoreID).Scan(&sourceName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, txErr(err)
	}
	err = tx.QueryRowContext(ctx, `SELECT name FROM stores WHERE id = $1`, t.DestStoreID).Scan(&destName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, txErr(err)
	}

	var sourceStock int
	var selling, cost int64
	err = tx.QueryRowContext(ctx, `
		SELECT current_stock, selling_price_cents, cost_price_cents
		FROM stock_records
		WHERE store_id = $1 AND item_id = $2 AND barcode_id = $3
		FOR UPDATE
	`, t.SourceStoreID, t.ItemID, t.BarcodeID).Scan(&sourceStock, &selling, &cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotInSourceStore
		}
		return nil, txErr(err)
	}
	if sourceStock < t.Quantity {
		return nil, &store.InsufficientStockError{Available: sourceStock, Requested: t.Quantity}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE stock_records
		SET current_stock = current_stock - $4, updated_at = $5
		WHERE store_id = $1 AND item_id = $2 AND barcode_id = $3
	`, t.SourceStoreID, t.ItemID, t.BarcodeID, t.Quantity, now)
	if err != nil {
		return nil, txErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_records (store_id, item_id, barcode_id, current_stock, selling_price_cents, cost_price_cents, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (store_id, item_id, barcode_id)
		DO UPDATE SET current_stock = stock_records.current_stock + EXCLUDED.current_stock, updated_at = EXCLUDED.updated_at
	`, t.DestStoreID, t.ItemID, t.BarcodeID, t.Quantity, selling, cost, now)
	if err != nil {
		return nil, txErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO store_items (store_id, item_id)
		VALUES ($1,$2)
		ON CONFLICT (store_id, item_id) DO NOTHING
	`, t.DestStoreID, t.ItemID)
	if err != nil {
		return nil, txErr(err)
	}

	if t.ID == "" {
		t.ID = xid.New("tr")
	}
	t.SourceStoreName = sourceName
	t.DestStoreName = destName
	t.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, item_id, barcode_id, source_store_id, dest_store_id, source_store_name, dest_store_name, quantity, performed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.ItemID, t.BarcodeID, t.SourceStoreID, t.DestStoreID, t.SourceStoreName, t.DestStoreName, t.Quantity, t.PerformedBy, t.CreatedAt)
	if err != nil {
		return nil, txErr(err)
	}

	for _, leg := range []struct {
		storeID int64
		typ     string
	}{
		{t.SourceStoreID, domain.MovementOut},
		{t.DestStoreID, domain.MovementIn},
	} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_transactions (id, store_id, item_id, barcode_id, transaction_type, quantity, reference_type, reference_id, user_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, xid.New("stx"), leg.storeID, t.ItemID, t.BarcodeID, leg.typ, t.Quantity, domain.ReferenceTypeTransfer, t.ID, t.PerformedBy, now)
		if err != nil {
			return nil, txErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, txErr(err)
	}
	return &t, nil
}

func (s *Store) ListTransfers(ctx context.Context, storeID int64, limit int) ([]domain.Transfer, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, barcode_id, source_store_id, dest_store_id, source_store_name, dest_store_name, quantity, performed_by, created_at
		FROM transfers
		WHERE ($1::bigint = 0 OR source_store_id = $1 OR dest_store_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0, limit)
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(&t.ID, &t.ItemID, &t.BarcodeID, &t.SourceStoreID, &t.DestStoreID, &t.SourceStoreName, &t.DestStoreName, &t.Quantity, &t.PerformedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

// NextDocumentNumber allocates from a per-(store, doc_type) counter row.
// The upsert-increment takes a row lock, so concurrent allocations for
// the same store serialize; the unique constraint on documents.doc_number
// is the backstop.
func (s *Store) NextDocumentNumber(ctx context.Context, storeID int64, docType string) (string, error) {
	if docType != domain.DocTypeInvoice && docType != domain.DocTypeReturn {
		return "", store.ErrInvalidMovement
	}

	var storeCode string
	err := s.db.QueryRowContext(ctx, `SELECT code FROM stores WHERE id = $1`, storeID).Scan(&storeCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}

	for attempt := 0; attempt < 3; attempt++ {
		number, err := s.allocateDocumentNumber(ctx, storeID, storeCode, docType)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", err
		}
		return number, nil
	}
	return "", fmt.Errorf("%w: document number allocation kept conflicting", store.ErrTransactionFailed)
}

func (s *Store) allocateDocumentNumber(ctx context.Context, storeID int64, storeCode string, docType string) (string, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_counters (store_id, doc_type, last_seq)
		VALUES ($1,$2,1)
		ON CONFLICT (store_id, doc_type)
		DO UPDATE SET last_seq = document_counters.last_seq + 1
		RETURNING last_seq
	`, storeID, docType).Scan(&seq)
	if err != nil {
		return "", txErr(err)
	}

	number := formatDocumentNumber(storeCode, docType, seq)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (store_id, doc_type, seq, doc_number, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, storeID, docType, seq, number, time.Now().UTC())
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", txErr(err)
	}
	return number, nil
}

func formatDocumentNumber(storeCode string, docType string, seq int64) string {
	if docType == domain.DocTypeReturn {
		return fmt.Sprintf("%s-R%06d", storeCode, seq)
	}
	return fmt.Sprintf("%s-%06d", storeCode, seq)
}

func (s *Store) FindBarcodeByPrice(ctx context.Context, priceCents int64) (*domain.Barcode, error) {
	var b domain.Barcode
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, price_cents, created_at
		FROM barcodes
		WHERE price_cents = $1
		ORDER BY id ASC
		LIMIT 1
	`, priceCents).Scan(&b.ID, &b.Code, &b.PriceCents, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *Store) CreateBarcode(ctx context.Context, code string, priceCents int64) (*domain.Barcode, error) {
	code = strings.TrimSpace(code)
	if code == "" || priceCents < 1 {
		return nil, store.ErrInvalidMovement
	}

	var b domain.Barcode
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO barcodes (code, price_cents, created_at)
		VALUES ($1,$2,$3)
		RETURNING id, code, price_cents, created_at
	`, code, priceCents, time.Now().UTC()).Scan(&b.ID, &b.Code, &b.PriceCents, &b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.UserID) == "" || shift.StoreID < 1 {
		return nil, store.ErrInvalidMovement
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, user_id, store_id, status, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5,NULL)
	`, shift.ID, shift.UserID, shift.StoreID, shift.Status, shift.StartTime)
	if err != nil {
		if isUniqueViolation(err) {
			// Partial unique index: an active shift already exists for
			// this user. Callers resume it instead.
			return nil, store.ErrInvalidMovement
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error) {
	var shift domain.Shift
	var endTime sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, store_id, status, start_time, end_time
		FROM shifts
		WHERE user_id = $1 AND status = $2
		ORDER BY start_time DESC
		LIMIT 1
	`, userID, domain.ShiftStatusActive).Scan(&shift.ID, &shift.UserID, &shift.StoreID, &shift.Status, &shift.StartTime, &endTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		at := endTime.Time.UTC()
		shift.EndTime = &at
	}
	return &shift, nil
}

// CloseShift is idempotent-safe: closing a shift that is not active
// reports ErrShiftNotActive and never overwrites end_time.
func (s *Store) CloseShift(ctx context.Context, shiftID string, at time.Time) (*domain.Shift, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var shift domain.Shift
	var endTime sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = $2, end_time = $3
		WHERE id = $1 AND status = $4
		RETURNING id, user_id, store_id, status, start_time, end_time
	`, shiftID, domain.ShiftStatusClosed, at, domain.ShiftStatusActive).Scan(
		&shift.ID, &shift.UserID, &shift.StoreID, &shift.Status, &shift.StartTime, &endTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrShiftNotActive
		}
		return nil, err
	}
	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		t := endTime.Time.UTC()
		shift.EndTime = &t
	}
	return &shift, nil
}

func (s *Store) CloseAllUserShifts(ctx context.Context, userID string, at time.Time) (int, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts
		SET status = $2, end_time = $3
		WHERE user_id = $1 AND status = $4
	`, userID, domain.ShiftStatusClosed, at, domain.ShiftStatusActive)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CountShiftActivity(ctx context.Context, userID string, from time.Time) (int, int, error) {
	var movements int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM stock_transactions
		WHERE user_id = $1 AND created_at >= $2 AND reference_type <> $3
	`, userID, from, domain.ReferenceTypeTransfer).Scan(&movements)
	if err != nil {
		return 0, 0, err
	}

	var transfers int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM transfers
		WHERE performed_by = $1 AND created_at >= $2
	`, userID, from).Scan(&transfers)
	if err != nil {
		return 0, 0, err
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, manager_password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.ManagerPassword, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidMovement
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, manager_password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.ManagerPassword, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, manager_password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.ManagerPassword, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidMovement
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// txErr maps lock-wait timeouts, deadlocks, and serialization failures
// to the generic rollback error; everything else passes through.
func txErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
