// Package service provides the business logic of the ingestion pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// phonePattern opportunistically matches a local mobile number inside
// free-text profile fields. Best-effort classification only.
var phonePattern = regexp.MustCompile(`09\d{8}`)

// ExtractPhone returns the first phone-shaped substring of s, or "".
func ExtractPhone(s string) string {
	return phonePattern.FindString(s)
}

// IdentityService resolves a platform handle to a durable customer,
// unifying channels when an identifier hint points at an existing record.
type IdentityService struct {
	store store.Store
	line  line.Client
	log   *logger.Logger
}

// NewIdentityService creates an identity service.
func NewIdentityService(st store.Store, lc line.Client, log *logger.Logger) *IdentityService {
	return &IdentityService{store: st, line: lc, log: log}
}

// Resolve maps a platform handle to a customer, creating or merging as
// needed. Enrichment (profile fetch, phone extraction) is best-effort: if the
// full resolution path fails, a minimal identity is still created so the
// inbound message is not dropped.
func (s *IdentityService) Resolve(ctx context.Context, handle string) (*model.Customer, error) {
	if handle == "" {
		return nil, fmt.Errorf("empty handle")
	}

	var profile *line.Profile
	if s.line != nil {
		p, err := s.line.GetProfile(ctx, handle)
		if err != nil {
			s.log.Warn("profile fetch failed, continuing without enrichment",
				zap.String("handle", handle),
				zap.Error(err),
			)
		} else {
			profile = p
		}
	}

	cust, err := s.resolveFull(ctx, handle, profile)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent resolution claimed one of our identifiers first. The
		// transaction rolled back; a second pass finds the winner's record.
		s.log.Warn("identifier claimed concurrently, re-resolving",
			zap.String("handle", handle),
			zap.Error(err),
		)
		cust, err = s.resolveFull(ctx, handle, profile)
	}
	if err == nil {
		return cust, nil
	}
	s.log.Error("full identity resolution failed, attempting minimal creation",
		zap.String("handle", handle),
		zap.Error(err),
	)

	cust, minErr := s.resolveMinimal(ctx, handle)
	if minErr != nil {
		return nil, fmt.Errorf("identity resolution failed: %w (minimal fallback: %v)", err, minErr)
	}
	return cust, nil
}

// resolveFull runs the complete lookup/merge/create algorithm in one
// transaction.
func (s *IdentityService) resolveFull(ctx context.Context, handle string, profile *line.Profile) (*model.Customer, error) {
	var resolved *model.Customer

	err := s.store.Transact(ctx, func(tx store.Store) error {
		var phoneHint string
		if profile != nil {
			phoneHint = ExtractPhone(profile.StatusMessage)
		}

		cust, err := tx.GetCustomerByIdentifier(ctx, model.IdentifierLine, handle)
		switch {
		case err == nil:
			// Known handle.
		case isNotFound(err) && phoneHint != "":
			// Cross-channel merge path: a person who first contacted via a
			// different channel resolves to the same identity.
			cust, err = tx.GetCustomerByIdentifier(ctx, model.IdentifierPhone, phoneHint)
			if err == nil {
				if uniErr := s.unifyChannels(ctx, tx, cust, handle); uniErr != nil {
					return uniErr
				}
			} else if !isNotFound(err) {
				return err
			}
		case !isNotFound(err):
			return err
		}

		if cust == nil {
			cust, err = s.createCustomer(ctx, tx, handle, profile)
			if err != nil {
				return err
			}
		} else if cust.Archived() {
			cust.State = model.CustomerActive
			if err := tx.UpdateCustomer(ctx, cust); err != nil {
				return err
			}
			if err := tx.AppendActivity(ctx, &model.Activity{
				CustomerID: cust.ID,
				Kind:       model.ActivityRestored,
			}); err != nil {
				return err
			}
		}

		if err := tx.EnsureIdentifier(ctx, model.IdentifierLine, handle, cust.ID); err != nil {
			return err
		}
		if phoneHint != "" {
			if err := tx.EnsureIdentifier(ctx, model.IdentifierPhone, phoneHint, cust.ID); err != nil {
				return err
			}
		}

		resolved = cust
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// resolveMinimal creates or finds an identity with fixed defaults and no
// enrichment. It must not fail for reasons other than storage unavailability.
func (s *IdentityService) resolveMinimal(ctx context.Context, handle string) (*model.Customer, error) {
	var resolved *model.Customer
	err := s.store.Transact(ctx, func(tx store.Store) error {
		cust, err := tx.GetCustomerByIdentifier(ctx, model.IdentifierLine, handle)
		if err == nil {
			resolved = cust
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		cust = &model.Customer{
			ID:          uuid.Must(uuid.NewV7()).String(),
			DisplayName: placeholderName(handle),
			LineUserID:  handle,
			Channel:     "line",
			State:       model.CustomerActive,
		}
		if err := tx.CreateCustomer(ctx, cust); err != nil {
			return err
		}
		if err := tx.EnsureIdentifier(ctx, model.IdentifierLine, handle, cust.ID); err != nil {
			return err
		}
		resolved = cust
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *IdentityService) createCustomer(ctx context.Context, tx store.Store, handle string, profile *line.Profile) (*model.Customer, error) {
	cust := &model.Customer{
		ID:          uuid.Must(uuid.NewV7()).String(),
		DisplayName: placeholderName(handle),
		LineUserID:  handle,
		Channel:     "line",
		State:       model.CustomerActive,
	}
	if profile != nil {
		if profile.DisplayName != "" {
			cust.DisplayName = profile.DisplayName
		}
		if meta, err := json.Marshal(profile); err == nil {
			cust.SourceMeta = meta
		}
	}
	if err := tx.CreateCustomer(ctx, cust); err != nil {
		return nil, err
	}
	if err := tx.AppendActivity(ctx, &model.Activity{
		CustomerID: cust.ID,
		Kind:       model.ActivityCreated,
		Detail:     detailJSON(map[string]string{"handle": handle, "channel": "line"}),
	}); err != nil {
		return nil, err
	}
	s.log.Info("customer created",
		zap.String("customer_id", cust.ID),
		zap.String("handle", handle),
	)
	return cust, nil
}

// unifyChannels attaches a new platform handle to an identity that was first
// seen on another channel, recording the old/new state.
func (s *IdentityService) unifyChannels(ctx context.Context, tx store.Store, cust *model.Customer, handle string) error {
	oldHandle := cust.LineUserID
	cust.LineUserID = handle
	if cust.Channel == "" {
		cust.Channel = "line"
	}
	if err := tx.UpdateCustomer(ctx, cust); err != nil {
		return err
	}
	if err := tx.AppendActivity(ctx, &model.Activity{
		CustomerID: cust.ID,
		Kind:       model.ActivityChannelsUnified,
		Detail: detailJSON(map[string]string{
			"old_line_user_id": oldHandle,
			"new_line_user_id": handle,
		}),
	}); err != nil {
		return err
	}
	s.log.Info("channels unified",
		zap.String("customer_id", cust.ID),
		zap.String("handle", handle),
	)
	return nil
}

func placeholderName(handle string) string {
	short := handle
	if len(short) > 8 {
		short = short[:8]
	}
	return "LINE " + short
}

func detailJSON(m map[string]string) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
