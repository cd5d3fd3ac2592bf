package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit actions emitted by the block store, device trust cache, and admin
// surface.
const (
	AuditActionBlockCreated       = "block_created"
	AuditActionBlockRefreshed     = "block_refreshed"
	AuditActionUnblock            = "unblock"
	AuditActionDeviceTrusted      = "device_trusted"
	AuditActionDeviceRevoked      = "device_revoked"
	AuditActionSecondFactorEnroll = "second_factor_enrolled"
	AuditActionSubjectDeactivated = "subject_deactivated"
	AuditActionSubjectReactivated = "subject_reactivated"
)

// AuditActorSystem is recorded when the lockout policy or sweeper acts on
// its own rather than on behalf of an operator.
const AuditActorSystem = "system"

// AuditLog is one append-only audit record. Actor identifies who performed
// the action; Subject identifies the affected account. For administrative
// actions the two differ.
type AuditLog struct {
	ID        string       `db:"id"`
	Actor     string       `db:"actor"`
	Action    string       `db:"action"`
	Subject   string       `db:"subject"`
	Details   AuditDetails `db:"details"`
	CreatedAt time.Time    `db:"created_at"`
}

// AuditDetails holds additional context for audit events.
type AuditDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB.
func (ad *AuditDetails) Scan(value interface{}) error {
	if value == nil {
		*ad = make(AuditDetails)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*ad = AuditDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB.
func (ad AuditDetails) Value() (driver.Value, error) {
	if ad == nil {
		return nil, nil
	}
	return json.Marshal(ad)
}
