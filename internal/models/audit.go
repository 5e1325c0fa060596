package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records one workitem or subscription operation issued by the client
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RequestID    string    `gorm:"type:varchar(64);index" json:"request_id"`
	AETitle      string    `gorm:"type:varchar(16);index" json:"ae_title,omitempty"`
	Action       string    `gorm:"type:varchar(100);not null;index" json:"action"`
	Method       string    `gorm:"type:varchar(10)" json:"method"`
	URL          string    `gorm:"type:text" json:"url"`
	ResourceUID  string    `gorm:"type:varchar(64);index" json:"resource_uid"`
	StatusCode   int       `json:"status_code"`
	Attempts     int       `json:"attempts"`
	Status       string    `gorm:"type:varchar(20);index" json:"status"` // success, failure
	ErrorKind    string    `gorm:"type:varchar(20)" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration     int64     `json:"duration_ms"` // milliseconds
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "ups_audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
