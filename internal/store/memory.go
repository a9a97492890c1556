package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brokercrm/chat-ingest/internal/model"
)

// MemoryStore is an in-memory Store used by tests and local development. A
// transaction snapshots the data set and restores it on error, giving the
// same rollback semantics callers rely on in Postgres.
type MemoryStore struct {
	mu sync.Mutex
	d  memoryData

	// ReadyErr, when set, makes Ready fail. Test knob for the poll gateway
	// precondition.
	ReadyErr error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{d: newMemoryData()}
}

type identKey struct {
	typ   model.IdentifierType
	value string
}

type memoryData struct {
	customers   map[string]model.Customer
	identifiers map[identKey]model.Identifier
	messages    map[string]model.ChatMessage
	leads       map[string]model.Lead
	activities  []model.Activity
	settings    map[string]string
	version     int64
	nextRowID   uint64
}

func newMemoryData() memoryData {
	return memoryData{
		customers:   make(map[string]model.Customer),
		identifiers: make(map[identKey]model.Identifier),
		messages:    make(map[string]model.ChatMessage),
		leads:       make(map[string]model.Lead),
		settings:    make(map[string]string),
	}
}

func (d *memoryData) clone() memoryData {
	c := memoryData{
		customers:   make(map[string]model.Customer, len(d.customers)),
		identifiers: make(map[identKey]model.Identifier, len(d.identifiers)),
		messages:    make(map[string]model.ChatMessage, len(d.messages)),
		leads:       make(map[string]model.Lead, len(d.leads)),
		activities:  append([]model.Activity(nil), d.activities...),
		settings:    make(map[string]string, len(d.settings)),
		version:     d.version,
		nextRowID:   d.nextRowID,
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.identifiers {
		c.identifiers[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	for k, v := range d.leads {
		c.leads[k] = v
	}
	for k, v := range d.settings {
		c.settings[k] = v
	}
	return c
}

// Ready implements Store.
func (s *MemoryStore) Ready(ctx context.Context) error {
	return s.ReadyErr
}

// Transact implements Store.
func (s *MemoryStore) Transact(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(&memoryTx{d: &s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// memoryTx operates on the live data set while the store lock is held.
type memoryTx struct {
	d *memoryData
}

func (t *memoryTx) Ready(ctx context.Context) error { return nil }

func (t *memoryTx) Transact(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// Un-locked operations shared by the store and its transaction view.

func (d *memoryData) getCustomerByID(id string) (*model.Customer, error) {
	c, ok := d.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (d *memoryData) getCustomerByIdentifier(typ model.IdentifierType, value string) (*model.Customer, error) {
	ident, ok := d.identifiers[identKey{typ, value}]
	if !ok {
		return nil, ErrNotFound
	}
	return d.getCustomerByID(ident.CustomerID)
}

func (d *memoryData) createCustomer(c *model.Customer) error {
	if _, ok := d.customers[c.ID]; ok {
		return ErrConflict
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	d.customers[c.ID] = *c
	return nil
}

func (d *memoryData) updateCustomer(c *model.Customer) error {
	if _, ok := d.customers[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now()
	d.customers[c.ID] = *c
	return nil
}

func (d *memoryData) ensureIdentifier(typ model.IdentifierType, value, customerID string) error {
	k := identKey{typ, value}
	if existing, ok := d.identifiers[k]; ok {
		if existing.CustomerID != customerID {
			return fmt.Errorf("%w: identifier %s/%s belongs to customer %s", ErrConflict, typ, value, existing.CustomerID)
		}
		return nil
	}
	d.nextRowID++
	d.identifiers[k] = model.Identifier{
		ID:         d.nextRowID,
		Type:       typ,
		Value:      value,
		CustomerID: customerID,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (d *memoryData) appendActivity(a *model.Activity) error {
	d.nextRowID++
	a.ID = d.nextRowID
	a.CreatedAt = time.Now()
	d.activities = append(d.activities, *a)
	return nil
}

func (d *memoryData) hasPendingLead(customerID, handle string) (bool, error) {
	for _, l := range d.leads {
		if l.CustomerID == customerID && l.Handle == handle && l.Status == model.LeadPending {
			return true, nil
		}
	}
	return false, nil
}

func (d *memoryData) createLead(l *model.Lead) error {
	if _, ok := d.leads[l.ID]; ok {
		return ErrConflict
	}
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	d.leads[l.ID] = *l
	return nil
}

func (d *memoryData) listLeads(limit, offset int) ([]model.Lead, int64, error) {
	all := make([]model.Lead, 0, len(d.leads))
	for _, l := range d.leads {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

var memoryStatuses = map[model.MessageStatus]bool{
	model.StatusUnread:  true,
	model.StatusRead:    true,
	model.StatusReplied: true,
	model.StatusSent:    true,
	model.StatusFailed:  true,
}

func (d *memoryData) createMessage(m *model.ChatMessage) error {
	if _, ok := d.messages[m.ID]; ok {
		return ErrConflict
	}
	if !memoryStatuses[m.Status] {
		return ErrInvalidStatus
	}
	d.version++
	m.Version = d.version
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	d.messages[m.ID] = *m
	return nil
}

func (d *memoryData) updateMessageStatus(id string, status model.MessageStatus) error {
	m, ok := d.messages[id]
	if !ok {
		return ErrNotFound
	}
	if !memoryStatuses[status] {
		return ErrInvalidStatus
	}
	d.version++
	m.Status = status
	m.Version = d.version
	m.UpdatedAt = time.Now()
	d.messages[id] = m
	return nil
}

func (d *memoryData) sortedMessages() []model.ChatMessage {
	all := make([]model.ChatMessage, 0, len(d.messages))
	for _, m := range d.messages {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })
	return all
}

func (d *memoryData) listConversation(handle string, limit, offset int) ([]model.ChatMessage, int64, error) {
	var all []model.ChatMessage
	for _, m := range d.sortedMessages() {
		if m.SenderHandle == handle {
			all = append(all, m)
		}
	}
	// Newest first for the UI.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (d *memoryData) listConversations() ([]model.ConversationSummary, error) {
	byHandle := make(map[string]*model.ConversationSummary)
	for _, m := range d.sortedMessages() {
		m := m
		s, ok := byHandle[m.SenderHandle]
		if !ok {
			s = &model.ConversationSummary{Handle: m.SenderHandle, CustomerID: m.CustomerID}
			byHandle[m.SenderHandle] = s
		}
		s.LastMessage = &m
		if m.FromCustomer && m.Status == model.StatusUnread {
			s.UnreadCount++
		}
	}
	summaries := make([]model.ConversationSummary, 0, len(byHandle))
	for _, s := range byHandle {
		if c, err := d.getCustomerByID(s.CustomerID); err == nil {
			s.DisplayName = c.DisplayName
		}
		summaries = append(summaries, *s)
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (d *memoryData) listUnread(handle string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	for _, m := range d.sortedMessages() {
		if m.SenderHandle == handle && m.FromCustomer && m.Status == model.StatusUnread {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *memoryData) changesSince(version int64, handle string, limit int) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	for _, m := range d.sortedMessages() {
		if m.Version <= version {
			continue
		}
		if handle != "" && m.SenderHandle != handle {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *memoryData) currentVersion() (int64, error) {
	return d.version, nil
}

func (d *memoryData) getSetting(key string) (string, error) {
	v, ok := d.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (d *memoryData) putSetting(key, value string) error {
	d.settings[key] = value
	return nil
}

// Locked store methods.

func (s *MemoryStore) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getCustomerByID(id)
}

func (s *MemoryStore) GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getCustomerByIdentifier(typ, value)
}

func (s *MemoryStore) CreateCustomer(ctx context.Context, c *model.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createCustomer(c)
}

func (s *MemoryStore) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateCustomer(c)
}

func (s *MemoryStore) EnsureIdentifier(ctx context.Context, typ model.IdentifierType, value, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ensureIdentifier(typ, value, customerID)
}

func (s *MemoryStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.appendActivity(a)
}

func (s *MemoryStore) HasPendingLead(ctx context.Context, customerID, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.hasPendingLead(customerID, handle)
}

func (s *MemoryStore) CreateLead(ctx context.Context, l *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createLead(l)
}

func (s *MemoryStore) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listLeads(limit, offset)
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createMessage(m)
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateMessageStatus(id, status)
}

func (s *MemoryStore) ListConversation(ctx context.Context, handle string, limit, offset int) ([]model.ChatMessage, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listConversation(handle, limit, offset)
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listConversations()
}

func (s *MemoryStore) ListUnread(ctx context.Context, handle string) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listUnread(handle)
}

func (s *MemoryStore) ChangesSince(ctx context.Context, version int64, handle string, limit int) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.changesSince(version, handle, limit)
}

func (s *MemoryStore) CurrentVersion(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.currentVersion()
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getSetting(key)
}

func (s *MemoryStore) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.putSetting(key, value)
}

// Activities returns a copy of the activity log for assertions in tests.
func (s *MemoryStore) Activities() []model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Activity(nil), s.d.activities...)
}

// Customers returns all customers for assertions in tests.
func (s *MemoryStore) Customers() []model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Customer, 0, len(s.d.customers))
	for _, c := range s.d.customers {
		out = append(out, c)
	}
	return out
}

// Identifiers returns all identifier rows for assertions in tests.
func (s *MemoryStore) Identifiers() []model.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Identifier, 0, len(s.d.identifiers))
	for _, i := range s.d.identifiers {
		out = append(out, i)
	}
	return out
}

// memoryTx delegations.

func (t *memoryTx) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	return t.d.getCustomerByID(id)
}

func (t *memoryTx) GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error) {
	return t.d.getCustomerByIdentifier(typ, value)
}

func (t *memoryTx) CreateCustomer(ctx context.Context, c *model.Customer) error {
	return t.d.createCustomer(c)
}

func (t *memoryTx) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	return t.d.updateCustomer(c)
}

func (t *memoryTx) EnsureIdentifier(ctx context.Context, typ model.IdentifierType, value, customerID string) error {
	return t.d.ensureIdentifier(typ, value, customerID)
}

func (t *memoryTx) AppendActivity(ctx context.Context, a *model.Activity) error {
	return t.d.appendActivity(a)
}

func (t *memoryTx) HasPendingLead(ctx context.Context, customerID, handle string) (bool, error) {
	return t.d.hasPendingLead(customerID, handle)
}

func (t *memoryTx) CreateLead(ctx context.Context, l *model.Lead) error {
	return t.d.createLead(l)
}

func (t *memoryTx) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, int64, error) {
	return t.d.listLeads(limit, offset)
}

func (t *memoryTx) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return t.d.createMessage(m)
}

func (t *memoryTx) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	return t.d.updateMessageStatus(id, status)
}

func (t *memoryTx) ListConversation(ctx context.Context, handle string, limit, offset int) ([]model.ChatMessage, int64, error) {
	return t.d.listConversation(handle, limit, offset)
}

func (t *memoryTx) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	return t.d.listConversations()
}

func (t *memoryTx) ListUnread(ctx context.Context, handle string) ([]model.ChatMessage, error) {
	return t.d.listUnread(handle)
}

func (t *memoryTx) ChangesSince(ctx context.Context, version int64, handle string, limit int) ([]model.ChatMessage, error) {
	return t.d.changesSince(version, handle, limit)
}

func (t *memoryTx) CurrentVersion(ctx context.Context) (int64, error) {
	return t.d.currentVersion()
}

func (t *memoryTx) GetSetting(ctx context.Context, key string) (string, error) {
	return t.d.getSetting(key)
}

func (t *memoryTx) PutSetting(ctx context.Context, key, value string) error {
	return t.d.putSetting(key, value)
}

// sortSummaries orders sidebar entries by most recent activity.
func sortSummaries(s []model.ConversationSummary) {
	sort.Slice(s, func(i, j int) bool {
		var vi, vj int64
		if s[i].LastMessage != nil {
			vi = s[i].LastMessage.Version
		}
		if s[j].LastMessage != nil {
			vj = s[j].LastMessage.Version
		}
		return vi > vj
	})
}
