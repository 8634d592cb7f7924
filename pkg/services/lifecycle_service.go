package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

// lifecycleTransitions is the card lifecycle graph. Archived has no exits.
var lifecycleTransitions = map[models.LifecycleStatus][]models.LifecycleStatus{
	models.LifecycleDraft:    {models.LifecycleReview},
	models.LifecycleReview:   {models.LifecycleDraft, models.LifecycleActive},
	models.LifecycleActive:   {models.LifecycleArchived},
	models.LifecycleArchived: nil,
}

// AllowedTransitions returns the direct successors of from.
func AllowedTransitions(from models.LifecycleStatus) []models.LifecycleStatus {
	return slices.Clone(lifecycleTransitions[from])
}

// requiresLiveCard reports whether entering status needs a current node
// version, methodologies and a filled attributes payload.
func requiresLiveCard(status models.LifecycleStatus) bool {
	return status == models.LifecycleReview || status == models.LifecycleActive
}

// ValidateTransition checks every lifecycle rule for moving card to
// change.TargetStatus and returns all violations. An empty result means the
// transition is allowed. node is the card's classifier node, or nil when the
// card has none or it no longer exists.
func ValidateTransition(card *models.NomenclatureCard, change *models.LifecycleChange, node *models.ClassifierNode) []string {
	var violations []string
	from, to := card.LifecycleStatus, change.TargetStatus

	if from == to {
		violations = append(violations, fmt.Sprintf("card is already in status %q", to))
	}

	if !slices.Contains(lifecycleTransitions[from], to) {
		violations = append(violations, fmt.Sprintf("transition from %q to %q is forbidden", from, to))
	}

	if requiresLiveCard(to) {
		switch {
		case node == nil:
			violations = append(violations, "card must be linked to an existing classifier node")
		case card.NodeVersion != node.Version:
			violations = append(violations, fmt.Sprintf(
				"node version is stale (card has %d, node is at %d): refresh the card", card.NodeVersion, node.Version))
		}

		if len(card.MethodologyIDs) == 0 {
			violations = append(violations, "at least one methodology must be attached")
		}

		if len(card.Attributes) == 0 {
			violations = append(violations, "attributes payload is empty: fill in the card parameters")
		}
	}

	if to == models.LifecycleArchived && !hasText(change.Reason) && !hasText(card.LifecycleReason) {
		violations = append(violations, "archiving requires a reason")
	}

	if from == models.LifecycleReview && to == models.LifecycleDraft && !hasText(change.Reason) {
		violations = append(violations, "returning a card from review to draft requires a comment")
	}

	return violations
}

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// applyTransition mutates card into the target state. It assumes
// ValidateTransition returned no violations.
func applyTransition(card *models.NomenclatureCard, change *models.LifecycleChange, now time.Time) {
	card.LifecycleStatus = change.TargetStatus
	if change.Reason != nil {
		card.LifecycleReason = change.Reason
	}

	switch change.TargetStatus {
	case models.LifecycleActive:
		switch {
		case change.EffectiveFrom != nil:
			card.EffectiveFrom = change.EffectiveFrom
		case card.EffectiveFrom == nil:
			from := now
			card.EffectiveFrom = &from
		}
		card.EffectiveTo = change.EffectiveTo
	case models.LifecycleArchived:
		if change.EffectiveTo != nil {
			card.EffectiveTo = change.EffectiveTo
		} else {
			to := now
			card.EffectiveTo = &to
		}
	default:
		card.EffectiveTo = nil
	}

	reviewed := now
	card.LastReviewedAt = &reviewed
}

// ============================================================================
// Lifecycle Service
// ============================================================================

// LifecycleService moves cards through the lifecycle graph with an audit trail.
type LifecycleService interface {
	// ChangeStatus validates and applies one transition. On violation it
	// returns *apperrors.LifecycleValidationError and leaves card untouched.
	// The returned card is a new value.
	ChangeStatus(ctx context.Context, card *models.NomenclatureCard, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error)

	// BulkChangeStatus applies change to each card independently and reports
	// one result per id, in input order. Only successful cards are persisted.
	BulkChangeStatus(ctx context.Context, cardIDs []int64, change *models.LifecycleChange, actorID *uuid.UUID) ([]models.BulkItemResult, error)
}

type lifecycleService struct {
	cardRepo  repositories.CardRepository
	nodeRepo  repositories.NodeRepository
	auditRepo repositories.AuditRepository
	tx        database.TxManager
	logger    *zap.Logger
	now       func() time.Time
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(
	cardRepo repositories.CardRepository,
	nodeRepo repositories.NodeRepository,
	auditRepo repositories.AuditRepository,
	tx database.TxManager,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		cardRepo:  cardRepo,
		nodeRepo:  nodeRepo,
		auditRepo: auditRepo,
		tx:        tx,
		logger:    logger.Named("lifecycle"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ LifecycleService = (*lifecycleService)(nil)

// errNothingUpdated rolls back a bulk batch in which no card succeeded.
var errNothingUpdated = errors.New("no card updated")

func (s *lifecycleService) ChangeStatus(ctx context.Context, card *models.NomenclatureCard, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error) {
	if !change.TargetStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown lifecycle status %q", apperrors.ErrInvalidInput, change.TargetStatus)
	}

	var updated *models.NomenclatureCard
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.changeStatus(ctx, card, change, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Card lifecycle changed",
		zap.Int64("card_id", updated.ID),
		zap.String("from_status", string(card.LifecycleStatus)),
		zap.String("to_status", string(updated.LifecycleStatus)),
		actorField(actorID))
	return updated, nil
}

// changeStatus runs inside the caller's transaction.
func (s *lifecycleService) changeStatus(ctx context.Context, card *models.NomenclatureCard, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error) {
	var node *models.ClassifierNode
	if card.NodeID != nil {
		var err error
		node, err = s.nodeRepo.GetByID(ctx, *card.NodeID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	if violations := ValidateTransition(card, change, node); len(violations) > 0 {
		return nil, &apperrors.LifecycleValidationError{Errors: violations}
	}

	updated := card.Clone()
	applyTransition(updated, change, s.now())

	var reason any
	if updated.LifecycleReason != nil {
		reason = *updated.LifecycleReason
	}
	entry := &models.AuditLogEntry{
		EntityType: models.AuditEntityNomenclature,
		EntityID:   card.ID,
		Action:     models.AuditActionStatusChanged,
		ActorID:    actorID,
		Details: map[string]any{
			"card_id":       card.ID,
			"from":          string(card.LifecycleStatus),
			"to":            string(updated.LifecycleStatus),
			"reason":        reason,
			"methodologies": slices.Clone(card.MethodologyIDs),
		},
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	updated.AuditLogID = &entry.ID

	if err := s.cardRepo.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *lifecycleService) BulkChangeStatus(ctx context.Context, cardIDs []int64, change *models.LifecycleChange, actorID *uuid.UUID) ([]models.BulkItemResult, error) {
	if !change.TargetStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown lifecycle status %q", apperrors.ErrInvalidInput, change.TargetStatus)
	}

	results := make([]models.BulkItemResult, 0, len(cardIDs))
	updated := 0

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, id := range cardIDs {
			err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
				card, err := s.cardRepo.GetByIDForUpdate(ctx, id)
				if err != nil {
					return err
				}
				_, err = s.changeStatus(ctx, card, change, actorID)
				return err
			})

			result, fatal := bulkResult(id, err)
			if fatal != nil {
				return fatal
			}
			if result.Status == models.BulkItemUpdated {
				updated++
			}
			results = append(results, result)
		}

		if updated == 0 {
			return errNothingUpdated
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNothingUpdated) {
		return nil, err
	}

	s.logger.Info("Bulk lifecycle change finished",
		zap.String("to_status", string(change.TargetStatus)),
		zap.Int("requested", len(cardIDs)),
		zap.Int("updated", updated),
		actorField(actorID))
	return results, nil
}

// bulkResult maps one item's error to its result. Errors other than a
// missing card or a rule violation abort the whole batch.
func bulkResult(id int64, err error) (models.BulkItemResult, error) {
	if err == nil {
		return models.BulkItemResult{CardID: id, Status: models.BulkItemUpdated}, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.BulkItemResult{CardID: id, Status: models.BulkItemNotFound, Message: "card not found"}, nil
	}
	if messages := apperrors.ValidationMessages(err); messages != nil {
		return models.BulkItemResult{CardID: id, Status: models.BulkItemError, Message: strings.Join(messages, "; ")}, nil
	}
	return models.BulkItemResult{}, fmt.Errorf("card %d: %w", id, err)
}

// actorField logs an optional actor; nil means a system operation.
func actorField(actorID *uuid.UUID) zap.Field {
	if actorID == nil {
		return zap.String("actor_id", "system")
	}
	return zap.String("actor_id", actorID.String())
}
