package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

const versionSequence = "chat_message_version_seq"

// PostgresStore is the production Store backed by Postgres via gorm.
// Initialization is lazy and retryable: the first successful call opens the
// connection, runs migrations and creates the version sequence.
type PostgresStore struct {
	dsn string
	log *logger.Logger

	mu sync.Mutex
	db *gorm.DB
}

// NewPostgres creates a Postgres store for the given DSN. No connection is
// made until Ready or the first operation.
func NewPostgres(dsn string, log *logger.Logger) *PostgresStore {
	return &PostgresStore{dsn: dsn, log: log}
}

// Ready implements Store.
func (s *PostgresStore) Ready(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *PostgresStore) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&model.Customer{},
		&model.Identifier{},
		&model.ChatMessage{},
		&model.Lead{},
		&model.Activity{},
		&model.Setting{},
	); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrNotInitialized, err)
	}
	if err := db.WithContext(ctx).Exec("CREATE SEQUENCE IF NOT EXISTS " + versionSequence).Error; err != nil {
		return nil, fmt.Errorf("%w: sequence: %v", ErrNotInitialized, err)
	}

	s.db = db
	s.log.Info("postgres store initialized")
	return s.db, nil
}

// Transact implements Store.
func (s *PostgresStore) Transact(ctx context.Context, fn func(tx Store) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgTx{pgOps{db: tx}})
	})
}

func (s *PostgresStore) ops(ctx context.Context) (*pgOps, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return &pgOps{db: db}, nil
}

// pgTx is the transactional Store view handed to Transact callbacks. Nested
// Transact calls join the surrounding transaction.
type pgTx struct {
	pgOps
}

func (t *pgTx) Ready(ctx context.Context) error { return nil }

func (t *pgTx) Transact(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// pgOps implements the query surface against either the root connection or a
// transaction handle.
type pgOps struct {
	db *gorm.DB
}

func (o *pgOps) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	var c model.Customer
	if err := o.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

func (o *pgOps) GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error) {
	var ident model.Identifier
	err := o.db.WithContext(ctx).
		Where("type = ? AND value = ?", typ, value).
		First(&ident).Error
	if err != nil {
		return nil, translateError(err)
	}
	return o.GetCustomerByID(ctx, ident.CustomerID)
}

func (o *pgOps) CreateCustomer(ctx context.Context, c *model.Customer) error {
	return translateError(o.db.WithContext(ctx).Create(c).Error)
}

func (o *pgOps) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	res := o.db.WithContext(ctx).Model(&model.Customer{}).Where("id = ?", c.ID).Updates(map[string]any{
		"display_name":      c.DisplayName,
		"line_user_id":      c.LineUserID,
		"channel":           c.Channel,
		"assigned_staff_id": c.AssignedStaffID,
		"reachable":         c.Reachable,
		"follow_up_at":      c.FollowUpAt,
		"state":             c.State,
		"source_meta":       c.SourceMeta,
	})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *pgOps) EnsureIdentifier(ctx context.Context, typ model.IdentifierType, value, customerID string) error {
	ident := model.Identifier{Type: typ, Value: value, CustomerID: customerID}
	res := o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "value"}},
		DoNothing: true,
	}).Create(&ident)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// The row already existed, possibly inserted by a concurrent resolution
	// between our lookup and this insert. Re-read it to check ownership.
	var existing model.Identifier
	err := o.db.WithContext(ctx).
		Where("type = ? AND value = ?", typ, value).
		First(&existing).Error
	if err != nil {
		return translateError(err)
	}
	if existing.CustomerID != customerID {
		return fmt.Errorf("%w: identifier %s/%s belongs to customer %s", ErrConflict, typ, value, existing.CustomerID)
	}
	return nil
}

func (o *pgOps) AppendActivity(ctx context.Context, a *model.Activity) error {
	return translateError(o.db.WithContext(ctx).Create(a).Error)
}

func (o *pgOps) HasPendingLead(ctx context.Context, customerID, handle string) (bool, error) {
	var n int64
	err := o.db.WithContext(ctx).Model(&model.Lead{}).
		Where("customer_id = ? AND handle = ? AND status = ?", customerID, handle, model.LeadPending).
		Count(&n).Error
	if err != nil {
		return false, translateError(err)
	}
	return n > 0, nil
}

func (o *pgOps) CreateLead(ctx context.Context, l *model.Lead) error {
	return translateError(o.db.WithContext(ctx).Create(l).Error)
}

func (o *pgOps) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, int64, error) {
	var total int64
	q := o.db.WithContext(ctx).Model(&model.Lead{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}
	var leads []model.Lead
	err := o.db.WithContext(ctx).
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&leads).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return leads, total, nil
}

func (o *pgOps) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v int64
		if err := tx.Raw("SELECT nextval('" + versionSequence + "')").Scan(&v).Error; err != nil {
			return translateError(err)
		}
		m.Version = v
		return translateError(tx.Create(m).Error)
	})
}

func (o *pgOps) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	res := o.db.WithContext(ctx).Exec(
		"UPDATE chat_messages SET status = ?, version = nextval('"+versionSequence+"'), updated_at = now() WHERE id = ?",
		string(status), id,
	)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *pgOps) ListConversation(ctx context.Context, handle string, limit, offset int) ([]model.ChatMessage, int64, error) {
	q := o.db.WithContext(ctx).Model(&model.ChatMessage{}).Where("sender_handle = ?", handle)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}
	var msgs []model.ChatMessage
	err := o.db.WithContext(ctx).
		Where("sender_handle = ?", handle).
		Order("version DESC").Limit(limit).Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return msgs, total, nil
}

func (o *pgOps) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var last []model.ChatMessage
	err := o.db.WithContext(ctx).
		Raw("SELECT DISTINCT ON (sender_handle) * FROM chat_messages ORDER BY sender_handle, version DESC").
		Scan(&last).Error
	if err != nil {
		return nil, translateError(err)
	}

	summaries := make([]model.ConversationSummary, 0, len(last))
	for i := range last {
		m := last[i]
		var unread int64
		err := o.db.WithContext(ctx).Model(&model.ChatMessage{}).
			Where("sender_handle = ? AND from_customer AND status = ?", m.SenderHandle, model.StatusUnread).
			Count(&unread).Error
		if err != nil {
			return nil, translateError(err)
		}
		summary := model.ConversationSummary{
			Handle:      m.SenderHandle,
			CustomerID:  m.CustomerID,
			LastMessage: &m,
			UnreadCount: unread,
		}
		if c, err := o.GetCustomerByID(ctx, m.CustomerID); err == nil {
			summary.DisplayName = c.DisplayName
		}
		summaries = append(summaries, summary)
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (o *pgOps) ListUnread(ctx context.Context, handle string) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := o.db.WithContext(ctx).
		Where("sender_handle = ? AND from_customer AND status = ?", handle, model.StatusUnread).
		Order("version ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translateError(err)
	}
	return msgs, nil
}

func (o *pgOps) ChangesSince(ctx context.Context, version int64, handle string, limit int) ([]model.ChatMessage, error) {
	q := o.db.WithContext(ctx).Where("version > ?", version)
	if handle != "" {
		q = q.Where("sender_handle = ?", handle)
	}
	var msgs []model.ChatMessage
	if err := q.Order("version ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, translateError(err)
	}
	return msgs, nil
}

func (o *pgOps) CurrentVersion(ctx context.Context) (int64, error) {
	var v int64
	err := o.db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(version), 0) FROM chat_messages").
		Scan(&v).Error
	if err != nil {
		return 0, translateError(err)
	}
	return v, nil
}

func (o *pgOps) GetSetting(ctx context.Context, key string) (string, error) {
	var s model.Setting
	if err := o.db.WithContext(ctx).First(&s, "key = ?", key).Error; err != nil {
		return "", translateError(err)
	}
	return s.Value, nil
}

func (o *pgOps) PutSetting(ctx context.Context, key, value string) error {
	err := o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
	return translateError(err)
}

// Root-store delegations: each opens the lazy connection, then runs the op.

func (s *PostgresStore) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, err
	}
	return o.GetCustomerByID(ctx, id)
}

func (s *PostgresStore) GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, err
	}
	return o.GetCustomerByIdentifier(ctx, typ, value)
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *model.Customer) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.CreateCustomer(ctx, c)
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.UpdateCustomer(ctx, c)
}

func (s *PostgresStore) EnsureIdentifier(ctx context.Context, typ model.IdentifierType, value, customerID string) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.EnsureIdentifier(ctx, typ, value, customerID)
}

func (s *PostgresStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.AppendActivity(ctx, a)
}

func (s *PostgresStore) HasPendingLead(ctx context.Context, customerID, handle string) (bool, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return false, err
	}
	return o.HasPendingLead(ctx, customerID, handle)
}

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.CreateLead(ctx, l)
}

func (s *PostgresStore) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, int64, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, 0, err
	}
	return o.ListLeads(ctx, limit, offset)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.CreateMessage(ctx, m)
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.UpdateMessageStatus(ctx, id, status)
}

func (s *PostgresStore) ListConversation(ctx context.Context, handle string, limit, offset int) ([]model.ChatMessage, int64, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, 0, err
	}
	return o.ListConversation(ctx, handle, limit, offset)
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, err
	}
	return o.ListConversations(ctx)
}

func (s *PostgresStore) ListUnread(ctx context.Context, handle string) ([]model.ChatMessage, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, err
	}
	return o.ListUnread(ctx, handle)
}

func (s *PostgresStore) ChangesSince(ctx context.Context, version int64, handle string, limit int) ([]model.ChatMessage, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return nil, err
	}
	return o.ChangesSince(ctx, version, handle, limit)
}

func (s *PostgresStore) CurrentVersion(ctx context.Context) (int64, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return 0, err
	}
	return o.CurrentVersion(ctx)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	o, err := s.ops(ctx)
	if err != nil {
		return "", err
	}
	return o.GetSetting(ctx, key)
}

func (s *PostgresStore) PutSetting(ctx context.Context, key, value string) error {
	o, err := s.ops(ctx)
	if err != nil {
		return err
	}
	return o.PutSetting(ctx, key, value)
}

// translateError maps driver errors onto the package sentinels. SQLSTATE
// 23514 (check violation) and 22P02 (invalid text for enum) are the two
// shapes a status-domain mismatch takes.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "22P02":
			return fmt.Errorf("%w: %s", ErrInvalidStatus, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
