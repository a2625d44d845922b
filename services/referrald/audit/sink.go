package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"refchain/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 50
	maxListLimit     = 500
)

// Open connects to the audit database selected by driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return db, nil
}

// Sink persists events emitted after each committed unit of work. Balance
// movements are skipped; the distribution record already lists them.
type Sink struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSink migrates db and returns a sink writing to it.
func NewSink(db *gorm.DB, logger *slog.Logger) (*Sink, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Sink{db: db, logger: logger, now: time.Now}, nil
}

// Emit implements events.Emitter. Write failures are logged; the state change
// they describe has already committed.
func (s *Sink) Emit(evt events.Event) {
	if err := s.Record(context.Background(), evt); err != nil {
		s.logger.Error("audit write failed", slog.String("event", evt.EventType()), slog.Any("error", err))
	}
}

// Record writes evt synchronously.
func (s *Sink) Record(ctx context.Context, evt events.Event) error {
	if evt == nil {
		return nil
	}
	switch e := evt.(type) {
	case events.ReferralRewardDistributed:
		return s.db.WithContext(ctx).Create(distributionFromEvent(e, s.now().UTC())).Error
	case events.Transfer:
		return nil
	default:
		rec := events.Flatten(evt)
		return s.db.WithContext(ctx).Create(&Entry{
			ID:         uuid.New(),
			Type:       rec.Type,
			Attributes: rec.Attributes,
			CreatedAt:  s.now().UTC(),
		}).Error
	}
}

func distributionFromEvent(e events.ReferralRewardDistributed, at time.Time) *Distribution {
	payouts := make([]Payout, 0, len(e.Recipients))
	for i, r := range e.Recipients {
		amount := "0"
		if i < len(e.Amounts) && e.Amounts[i] != nil {
			amount = e.Amounts[i].String()
		}
		payouts = append(payouts, Payout{Recipient: strings.ToLower(r.Hex()), Amount: amount})
	}
	return &Distribution{
		ID:            uuid.New(),
		RequestHash:   common.Hash(e.RequestHash).Hex(),
		Participant:   strings.ToLower(e.User.Hex()),
		GroupID:       common.Hash(e.Group).Hex(),
		ValueType:     e.ValueType,
		TotalAmount:   bigString(e.TotalAmount),
		EventID:       e.EventID,
		Signer:        strings.ToLower(e.Signer.Hex()),
		Payouts:       payouts,
		Dust:          bigString(e.Dust),
		Redistributed: bigString(e.Redistributed),
		CreatedAt:     at,
	}
}

// Filter narrows distribution listings. Empty fields match everything.
type Filter struct {
	User      string
	Signer    string
	ValueType string
	Limit     int
}

// Distributions lists stored distributions, newest first.
func (s *Sink) Distributions(ctx context.Context, f Filter) ([]Distribution, error) {
	q := s.db.WithContext(ctx).Model(&Distribution{})
	if user := strings.ToLower(strings.TrimSpace(f.User)); user != "" {
		q = q.Where("participant = ?", user)
	}
	if signer := strings.ToLower(strings.TrimSpace(f.Signer)); signer != "" {
		q = q.Where("signer = ?", signer)
	}
	if vt := strings.ToUpper(strings.TrimSpace(f.ValueType)); vt != "" {
		q = q.Where("value_type = ?", vt)
	}
	var out []Distribution
	err := q.Order("created_at desc").Limit(clampLimit(f.Limit)).Find(&out).Error
	return out, err
}

// Distribution loads the record for requestHash.
func (s *Sink) Distribution(ctx context.Context, requestHash string) (Distribution, bool, error) {
	var rec Distribution
	err := s.db.WithContext(ctx).Where("request_hash = ?", strings.TrimSpace(requestHash)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Distribution{}, false, nil
	}
	if err != nil {
		return Distribution{}, false, err
	}
	return rec, true, nil
}

// Entries lists stored non-distribution events, newest first. An empty
// eventType matches every type.
func (s *Sink) Entries(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{})
	if t := strings.TrimSpace(eventType); t != "" {
		q = q.Where("type = ?", t)
	}
	var out []Entry
	err := q.Order("created_at desc").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
