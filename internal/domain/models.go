package domain

import "time"

type Store struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Item struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	Active            bool   `json:"active"`
}

// Barcode is price-scoped: every item selling at the same price may share
// one barcode, so a barcode row carries a price, not an item.
type Barcode struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// StockRecord is the on-hand quantity for one store/item/barcode
// combination. Rows are never deleted; zero stock is a valid state.
type StockRecord struct {
	StoreID           int64     `json:"store_id"`
	ItemID            int64     `json:"item_id"`
	BarcodeID         int64     `json:"barcode_id"`
	CurrentStock      int       `json:"current_stock"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	CostPriceCents    int64     `json:"cost_price_cents"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StockTransaction is the immutable audit row paired with every
// StockRecord mutation.
type StockTransaction struct {
	ID            string    `json:"id"`
	StoreID       int64     `json:"store_id"`
	ItemID        int64     `json:"item_id"`
	BarcodeID     int64     `json:"barcode_id"`
	Type          string    `json:"transaction_type"`
	Quantity      int       `json:"quantity"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type MovementRequest struct {
	StoreID       int64  `json:"store_id"`
	ItemID        int64  `json:"item_id"`
	BarcodeID     int64  `json:"barcode_id"`
	Quantity      int    `json:"quantity"`
	Type          string `json:"type"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id,omitempty"`
}

// Movement is the store-layer input for one ledger mutation: the request
// plus the acting user, applied as a single atomic unit.
type Movement struct {
	StoreID       int64
	ItemID        int64
	BarcodeID     int64
	Quantity      int
	Type          string
	ReferenceType string
	ReferenceID   string
	UserID        string
}

type MovementResponse struct {
	Record StockRecord `json:"record"`
}

type TransferRequest struct {
	SourceStoreID int64 `json:"source_store_id"`
	DestStoreID   int64 `json:"dest_store_id"`
	ItemID        int64 `json:"item_id"`
	BarcodeID     int64 `json:"barcode_id"`
	Quantity      int   `json:"quantity"`
}

// Transfer is the write-once audit record of a completed inter-store
// move. Store names are resolved at transfer time so the trail stays
// readable if a store is later renamed.
type Transfer struct {
	ID              string    `json:"id"`
	ItemID          int64     `json:"item_id"`
	BarcodeID       int64     `json:"barcode_id"`
	SourceStoreID   int64     `json:"source_store_id"`
	DestStoreID     int64     `json:"dest_store_id"`
	SourceStoreName string    `json:"source_store_name"`
	DestStoreName   string    `json:"dest_store_name"`
	Quantity        int       `json:"quantity"`
	PerformedBy     string    `json:"performed_by"`
	CreatedAt       time.Time `json:"created_at"`
}

type TransferResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Transfer *Transfer `json:"transfer,omitempty"`
}

type BarcodeAssignRequest struct {
	ItemID     int64 `json:"item_id"`
	PriceCents int64 `json:"price_cents"`
}

type BarcodeAssignResponse struct {
	Barcode Barcode `json:"barcode"`
	Shared  bool    `json:"shared"`
}

type DocumentNumberRequest struct {
	StoreID int64  `json:"store_id"`
	DocType string `json:"doc_type"`
}

type DocumentNumberResponse struct {
	DocNumber string `json:"doc_number"`
}

type Shift struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StoreID   int64      `json:"store_id"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type ShiftStartRequest struct {
	StoreID int64 `json:"store_id"`
}

type ShiftResponse struct {
	Shift   Shift `json:"shift"`
	Resumed bool  `json:"resumed"`
}

// ShiftSummary is returned by the enforced-logout flow. CloseFailed
// signals that shift accounting could not complete; the caller must
// still be allowed to finish logging out.
type ShiftSummary struct {
	Shift        *Shift `json:"shift,omitempty"`
	Movements    int    `json:"movements"`
	Transfers    int    `json:"transfers"`
	CloseFailed  bool   `json:"close_failed"`
	CloseMessage string `json:"close_message,omitempty"`
}

type InventoryQuery struct {
	StoreID     int64  `json:"store_id"`
	ItemID      int64  `json:"item_id,omitempty"`
	BarcodeID   int64  `json:"barcode_id,omitempty"`
	Category    string `json:"category,omitempty"`
	NameLike    string `json:"name_like,omitempty"`
	InStockOnly bool   `json:"in_stock_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type InventoryRow struct {
	StoreID           int64  `json:"store_id"`
	ItemID            int64  `json:"item_id"`
	ItemName          string `json:"item_name"`
	Category          string `json:"category"`
	BarcodeID         int64  `json:"barcode_id"`
	BarcodeCode       string `json:"barcode_code"`
	CurrentStock      int    `json:"current_stock"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	CostPriceCents    int64  `json:"cost_price_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type ManagerVerifyRequest struct {
	Password string `json:"password"`
}

type ManagerVerifyResponse struct {
	Allowed bool `json:"allowed"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
// Password and ManagerPassword are bcrypt hashes.
type UserAccount struct {
	Username        string
	Password        string
	ManagerPassword string
	Role            string
	Active          bool
	CreatedAt       time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       int64     `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
)

const (
	DocTypeInvoice = "invoice"
	DocTypeReturn  = "return"
)

const (
	ShiftStatusActive = "active"
	ShiftStatusClosed = "closed"
)

const (
	ReferenceTypeInvoice  = "invoice"
	ReferenceTypeReturn   = "return"
	ReferenceTypeTransfer = "transfer"
	ReferenceTypeManual   = "manual"
)
