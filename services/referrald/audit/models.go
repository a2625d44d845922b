package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Distribution is the durable form of a referral.reward.distributed event.
type Distribution struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestHash   string    `gorm:"size:66;uniqueIndex"`
	Participant   string    `gorm:"size:42;index"`
	GroupID       string    `gorm:"size:66;index"`
	ValueType     string    `gorm:"size:32;index"`
	TotalAmount   string    `gorm:"size:80"`
	EventID       string    `gorm:"size:128"`
	Signer        string    `gorm:"size:42;index"`
	Payouts       []Payout  `gorm:"serializer:json"`
	Dust          string    `gorm:"size:80"`
	Redistributed string    `gorm:"size:80"`
	CreatedAt     time.Time `gorm:"index"`
}

// Payout is one recipient line of a Distribution.
type Payout struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Entry stores every other administrative or graph event in flattened form.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Type       string            `gorm:"size:64;index"`
	Attributes map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time         `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the audit store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Distribution{}, &Entry{})
}
