// Package archive persists every committed lottery event so clients can page
// through history after the live stream has moved on.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lotterychain/core/events"
)

const (
	defaultFilePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	// DefaultLimit caps a query that did not ask for a size.
	DefaultLimit = 100
	// MaxLimit is the largest page Query returns.
	MaxLimit = 1000
)

// ErrPathRequired is returned when no archive location is configured.
var ErrPathRequired = errors.New("event archive path must be configured")

// Record is one archived event.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Lottery    string    `gorm:"size:96;index" json:"lottery,omitempty"`
	Epoch      string    `gorm:"size:24" json:"epoch,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name.
func (Record) TableName() string { return "events" }

// Attrs decodes the stored attribute map.
func (r Record) Attrs() map[string]string {
	out := map[string]string{}
	if r.Attributes != "" {
		_ = json.Unmarshal([]byte(r.Attributes), &out)
	}
	return out
}

// MarshalJSON renders the attributes inline.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Attributes map[string]string `json:"attributes"`
	}{alias(r), r.Attrs()})
}

// Filter narrows a Query.
type Filter struct {
	Lottery string
	Type    string
	// AfterSeq returns only records newer than this sequence.
	AfterSeq uint64
	Limit    int
}

// Archive writes events to SQLite, or to Postgres when given a postgres URL.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve archive path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

func isPostgres(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}

// Open connects to the archive at location and migrates the schema.
// location is a file path, a "file:" DSN or a postgres URL.
func Open(location string, logger *slog.Logger) (*Archive, error) {
	location = strings.TrimSpace(location)
	var dialector gorm.Dialector
	switch {
	case location == "":
		return nil, ErrPathRequired
	case isPostgres(location):
		dialector = postgres.Open(location)
	case strings.HasPrefix(location, "file:"):
		dialector = sqlite.Open(location)
	default:
		dsn, err := FileDSN(location)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Write failures are logged and dropped; the
// ledger state is already committed by the time events reach the archive.
func (a *Archive) Emit(evt events.Event) {
	if _, err := a.Append(context.Background(), evt); err != nil {
		a.logger.Error("archive event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the stored record.
func (a *Archive) Append(ctx context.Context, evt events.Event) (*Record, error) {
	payload := events.Payload(evt)
	if payload == nil {
		return nil, errors.New("archive: nil event")
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	rec := &Record{
		ID:         uuid.New(),
		Type:       payload.Type,
		Lottery:    payload.Attr("lottery"),
		Epoch:      payload.Attr("epoch"),
		Attributes: string(attrs),
		CreatedAt:  a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return rec, nil
}

// Query returns matching records, oldest first.
func (a *Archive) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tx := a.db.WithContext(ctx).Model(&Record{})
	if filter.Lottery != "" {
		tx = tx.Where("lottery = ?", filter.Lottery)
	}
	if filter.Type != "" {
		tx = tx.Where("type = ?", filter.Type)
	}
	if filter.AfterSeq > 0 {
		tx = tx.Where("seq > ?", filter.AfterSeq)
	}
	var out []Record
	if err := tx.Order("seq asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// Count returns how many events are archived for a lottery, or overall when
// lottery is empty.
func (a *Archive) Count(ctx context.Context, lottery string) (int64, error) {
	var n int64
	tx := a.db.WithContext(ctx).Model(&Record{})
	if lottery != "" {
		tx = tx.Where("lottery = ?", lottery)
	}
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
