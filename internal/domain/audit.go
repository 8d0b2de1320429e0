package domain

import "time"

// AuditAction names the mutation recorded by an audit entry
type AuditAction string

const (
	ActionReserve   AuditAction = "RESERVE"
	ActionConfirm   AuditAction = "CONFIRM"
	ActionRelease   AuditAction = "RELEASE"
	ActionRestore   AuditAction = "RESTORE"
	ActionPOReceive AuditAction = "PO_RECEIVE"

	// Compensating mutations applied while rolling back a failed operation
	ActionReserveRollback   AuditAction = "RESERVE_ROLLBACK"
	ActionConfirmRollback   AuditAction = "CONFIRM_ROLLBACK"
	ActionReleaseRollback   AuditAction = "RELEASE_ROLLBACK"
	ActionRestoreRollback   AuditAction = "RESTORE_ROLLBACK"
	ActionPOReceiveRollback AuditAction = "PO_RECEIVE_ROLLBACK"
)

// Rollback returns the action recorded when this action is compensated
func (a AuditAction) Rollback() AuditAction {
	return a + "_ROLLBACK"
}

// Unreconciled returns the action recorded when compensating this action
// was refused because it would break the stock invariant. Such entries leave
// the counters unchanged and flag the reference for manual reconciliation.
func (a AuditAction) Unreconciled() AuditAction {
	return a + "_UNRECONCILED"
}

// Snapshot captures both counters of a stock record at a point in time
type Snapshot struct {
	StockQuantity    int `json:"stock_quantity"`
	ReservedQuantity int `json:"reserved_quantity"`
}

// SnapshotOf copies the counters of a stock record
func SnapshotOf(r StockRecord) Snapshot {
	return Snapshot{StockQuantity: r.StockQuantity, ReservedQuantity: r.ReservedQuantity}
}

// AuditEntry is one immutable ledger row describing a single stock mutation
type AuditEntry struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"product_id"`
	VariantID   string      `json:"variant_id,omitempty"`
	Action      AuditAction `json:"action"`
	Quantity    int         `json:"quantity"`
	Before      Snapshot    `json:"before"`
	After       Snapshot    `json:"after"`
	Source      string      `json:"source"`
	ReferenceID string      `json:"reference_id"`
	CreatedAt   time.Time   `json:"created_at"`
}
