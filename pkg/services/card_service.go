package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/llm"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// rankingCandidateLimit caps how many cards semantic and combined search
	// score in memory.
	rankingCandidateLimit = 2000
)

// CardService manages nomenclature cards.
type CardService interface {
	// CreateCard validates the attributes against the node's resolved schema
	// and stores a draft card at version 1.
	CreateCard(ctx context.Context, input *models.CardCreate, authorID *uuid.UUID) (*models.NomenclatureCard, error)
	// UpdateCard applies the patch, bumps the version and appends a version
	// record naming the supplied fields.
	UpdateCard(ctx context.Context, id int64, patch *models.CardUpdate, editorID *uuid.UUID) (*models.NomenclatureCard, error)
	// RefreshNodeVersion revalidates the card against its node's current
	// schema and moves it to the node's live version.
	RefreshNodeVersion(ctx context.Context, id int64, editorID *uuid.UUID) (*models.NomenclatureCard, error)
	GetCard(ctx context.Context, id int64) (*models.NomenclatureCard, error)
	ListCardVersions(ctx context.Context, id int64) ([]*models.CardVersion, error)
	ListCards(ctx context.Context, filter models.CardFilter) (*models.CardPage, error)

	ChangeLifecycle(ctx context.Context, id int64, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error)
	BulkChangeLifecycle(ctx context.Context, ids []int64, change *models.LifecycleChange, actorID *uuid.UUID) ([]models.BulkItemResult, error)
	BulkUpdateMethodologies(ctx context.Context, ids []int64, methodologyIDs []int64, mode models.MethodologyMode) ([]models.BulkItemResult, error)
}

type cardService struct {
	cardRepo  repositories.CardRepository
	nodeRepo  repositories.NodeRepository
	registry  SchemaRegistry
	lifecycle LifecycleService
	embedder  llm.Embedder
	tx        database.TxManager
	logger    *zap.Logger
}

// NewCardService creates a new CardService.
func NewCardService(
	cardRepo repositories.CardRepository,
	nodeRepo repositories.NodeRepository,
	registry SchemaRegistry,
	lifecycle LifecycleService,
	embedder llm.Embedder,
	tx database.TxManager,
	logger *zap.Logger,
) CardService {
	return &cardService{
		cardRepo:  cardRepo,
		nodeRepo:  nodeRepo,
		registry:  registry,
		lifecycle: lifecycle,
		embedder:  embedder,
		tx:        tx,
		logger:    logger.Named("card-service"),
	}
}

var _ CardService = (*cardService)(nil)

// ============================================================================
// Create / Update
// ============================================================================

func (s *cardService) CreateCard(ctx context.Context, input *models.CardCreate, authorID *uuid.UUID) (*models.NomenclatureCard, error) {
	name := strings.TrimSpace(input.CanonicalName)
	if name == "" {
		return nil, fmt.Errorf("%w: canonical_name is required", apperrors.ErrInvalidInput)
	}

	node, err := s.nodeRepo.GetByID(ctx, input.NodeID)
	if err != nil {
		return nil, err
	}

	attributes := input.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}
	if _, err := s.registry.ValidatePayload(ctx, node.ID, attributes); err != nil {
		return nil, err
	}

	codes, err := CollectClassificationCodes(ctx, s.nodeRepo, node)
	if err != nil {
		return nil, err
	}

	code := generateCardCode(node.Code)
	if input.Code != nil && strings.TrimSpace(*input.Code) != "" {
		code = strings.TrimSpace(*input.Code)
	}

	nodeVersion := node.Version
	if input.NodeVersion != nil {
		nodeVersion = *input.NodeVersion
	}

	card := &models.NomenclatureCard{
		Code:                code,
		CanonicalName:       name,
		NodeID:              &node.ID,
		NodeVersion:         nodeVersion,
		ClassificationCodes: codes,
		LifecycleStatus:     models.LifecycleDraft,
		Attributes:          attributes,
		MethodologyIDs:      sortedUnique(input.MethodologyIDs),
		Manufacturer:        input.Manufacturer,
		StandardDocument:    input.StandardDocument,
		Article:             input.Article,
		Tags:                input.Tags,
		Version:             1,
		CreatedBy:           authorID,
		LastEditorID:        authorID,
	}
	if err := s.cardRepo.Create(ctx, card); err != nil {
		return nil, err
	}

	s.logger.Info("Created card",
		zap.Int64("card_id", card.ID),
		zap.String("code", card.Code),
		zap.Int64("node_id", node.ID))

	s.refreshEmbedding(ctx, card)
	return card, nil
}

// generateCardCode returns "<prefix>-XXXXXX" with six random upper-case hex digits.
func generateCardCode(prefix string) string {
	id := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return prefix + "-" + suffix
}

func (s *cardService) UpdateCard(ctx context.Context, id int64, patch *models.CardUpdate, editorID *uuid.UUID) (*models.NomenclatureCard, error) {
	if patch.CanonicalName != nil && strings.TrimSpace(*patch.CanonicalName) == "" {
		return nil, fmt.Errorf("%w: canonical_name must not be empty", apperrors.ErrInvalidInput)
	}

	var card *models.NomenclatureCard
	var changed []string

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		card, err = s.cardRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		changed = applyCardPatch(card, patch)

		if slices.Contains(changed, "attributes_payload") {
			if card.NodeID == nil {
				return fmt.Errorf("%w: card is not linked to a classifier node", apperrors.ErrInvalidInput)
			}
			if _, err := s.registry.ValidatePayload(ctx, *card.NodeID, card.Attributes); err != nil {
				return err
			}
		}

		card.LastEditorID = editorID
		card.Version++
		if err := s.cardRepo.Update(ctx, card); err != nil {
			return err
		}

		if len(changed) == 0 {
			return nil
		}
		return s.cardRepo.CreateVersion(ctx, &models.CardVersion{
			CardID:   card.ID,
			Version:  card.Version,
			Diff:     models.CardVersionDiff{Fields: changed},
			Status:   models.CardVersionDraft,
			AuthorID: editorID,
			Comment:  patch.Comment,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Updated card",
		zap.Int64("card_id", card.ID),
		zap.Int("version", card.Version),
		zap.Strings("fields", changed))

	if slices.ContainsFunc(changed, isEmbeddedField) {
		s.refreshEmbedding(ctx, card)
	}
	return card, nil
}

// applyCardPatch copies the supplied fields onto card and returns their names.
func applyCardPatch(card *models.NomenclatureCard, patch *models.CardUpdate) []string {
	var changed []string
	if patch.CanonicalName != nil {
		card.CanonicalName = strings.TrimSpace(*patch.CanonicalName)
		changed = append(changed, "canonical_name")
	}
	if patch.Attributes != nil {
		card.Attributes = patch.Attributes
		changed = append(changed, "attributes_payload")
	}
	if patch.MethodologyIDs != nil {
		card.MethodologyIDs = sortedUnique(*patch.MethodologyIDs)
		changed = append(changed, "methodology_ids")
	}
	if patch.Manufacturer != nil {
		card.Manufacturer = patch.Manufacturer
		changed = append(changed, "manufacturer")
	}
	if patch.StandardDocument != nil {
		card.StandardDocument = patch.StandardDocument
		changed = append(changed, "standard_document")
	}
	if patch.Article != nil {
		card.Article = patch.Article
		changed = append(changed, "article")
	}
	if patch.Tags != nil {
		card.Tags = patch.Tags
		changed = append(changed, "tags")
	}
	return changed
}

func isEmbeddedField(field string) bool {
	switch field {
	case "canonical_name", "manufacturer", "article", "standard_document":
		return true
	default:
		return false
	}
}

func (s *cardService) RefreshNodeVersion(ctx context.Context, id int64, editorID *uuid.UUID) (*models.NomenclatureCard, error) {
	var card *models.NomenclatureCard

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		card, err = s.cardRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if card.NodeID == nil {
			return fmt.Errorf("%w: card is not linked to a classifier node", apperrors.ErrInvalidInput)
		}

		node, err := s.nodeRepo.GetByID(ctx, *card.NodeID)
		if err != nil {
			return err
		}

		attributes := card.Attributes
		if attributes == nil {
			attributes = map[string]any{}
		}
		if _, err := s.registry.ValidatePayload(ctx, node.ID, attributes); err != nil {
			return err
		}

		codes, err := CollectClassificationCodes(ctx, s.nodeRepo, node)
		if err != nil {
			return err
		}

		fields := []string{"node_version"}
		if !sameCodes(codes, card.ClassificationCodes) {
			fields = append(fields, "classification_codes")
		}

		card.ClassificationCodes = codes
		card.NodeVersion = node.Version
		card.LastEditorID = editorID
		card.Version++
		if err := s.cardRepo.Update(ctx, card); err != nil {
			return err
		}

		return s.cardRepo.CreateVersion(ctx, &models.CardVersion{
			CardID:   card.ID,
			Version:  card.Version,
			Diff:     models.CardVersionDiff{Fields: fields},
			Status:   models.CardVersionDraft,
			AuthorID: editorID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Refreshed card node version",
		zap.Int64("card_id", card.ID),
		zap.Int("node_version", card.NodeVersion))
	return card, nil
}

func sameCodes(a, b models.ClassificationCodes) bool {
	eq := func(x, y *string) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return eq(a.SegmentCode, b.SegmentCode) &&
		eq(a.FamilyCode, b.FamilyCode) &&
		eq(a.ClassCode, b.ClassCode) &&
		eq(a.CategoryCode, b.CategoryCode)
}

// refreshEmbedding stores the card's embedding. Failures are logged only.
func (s *cardService) refreshEmbedding(ctx context.Context, card *models.NomenclatureCard) {
	vector, err := s.embedder.Embed(ctx, cardEmbeddingText(card))
	if err != nil {
		var embErr *llm.EmbeddingError
		if errors.As(err, &embErr) && embErr.Kind == llm.ErrorKindDisabled {
			return
		}
		s.logger.Warn("Failed to embed card",
			zap.Int64("card_id", card.ID),
			zap.Error(err))
		return
	}

	if err := s.cardRepo.SetEmbedding(ctx, card.ID, vector); err != nil {
		s.logger.Warn("Failed to store card embedding",
			zap.Int64("card_id", card.ID),
			zap.Error(err))
		return
	}
	card.Embedding = vector
}

// cardEmbeddingText is the text a card is embedded from.
func cardEmbeddingText(card *models.NomenclatureCard) string {
	parts := []string{card.CanonicalName, card.Code}
	for _, p := range []*string{card.Manufacturer, card.Article, card.StandardDocument} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}

// ============================================================================
// Reads
// ============================================================================

func (s *cardService) GetCard(ctx context.Context, id int64) (*models.NomenclatureCard, error) {
	return s.cardRepo.GetByID(ctx, id)
}

func (s *cardService) ListCardVersions(ctx context.Context, id int64) ([]*models.CardVersion, error) {
	if _, err := s.cardRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	versions, err := s.cardRepo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []*models.CardVersion{}
	}
	return versions, nil
}

func (s *cardService) ListCards(ctx context.Context, filter models.CardFilter) (*models.CardPage, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Manufacturer = strings.TrimSpace(filter.Manufacturer)
	filter.Code = strings.TrimSpace(filter.Code)

	if filter.SearchMode == "" {
		filter.SearchMode = models.SearchText
	}
	switch filter.SearchMode {
	case models.SearchText, models.SearchSemantic, models.SearchCombined:
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", apperrors.ErrInvalidInput, filter.SearchMode)
	}

	if filter.Sort == "" {
		filter.Sort = models.CardSortUpdatedAt
	}
	if filter.Sort != models.CardSortUpdatedAt && filter.Sort != models.CardSortCode {
		return nil, fmt.Errorf("%w: unknown sort %q", apperrors.ErrInvalidInput, filter.Sort)
	}
	if filter.LifecycleStatus != nil && !filter.LifecycleStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown lifecycle status %q", apperrors.ErrInvalidInput, *filter.LifecycleStatus)
	}

	if filter.Search == "" || filter.SearchMode == models.SearchText {
		items, total, err := s.cardRepo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return newCardPage(items, total, filter), nil
	}

	query, err := s.embedder.Embed(ctx, filter.Search)
	if err != nil {
		return nil, err
	}

	candidates, err := s.cardRepo.ListForRanking(ctx, filter, filter.SearchMode == models.SearchSemantic, rankingCandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == rankingCandidateLimit {
		s.logger.Warn("Semantic ranking candidate limit reached",
			zap.Int("limit", rankingCandidateLimit),
			zap.String("mode", string(filter.SearchMode)))
	}

	ranked := rankCards(candidates, query, filter)
	start := min((filter.Page-1)*filter.PageSize, len(ranked))
	end := min(start+filter.PageSize, len(ranked))
	return newCardPage(ranked[start:end], len(ranked), filter), nil
}

func newCardPage(items []*models.NomenclatureCard, total int, filter models.CardFilter) *models.CardPage {
	if items == nil {
		items = []*models.NomenclatureCard{}
	}
	return &models.CardPage{
		Items: items,
		Meta: models.PageMeta{
			Total:    total,
			Page:     filter.Page,
			PageSize: filter.PageSize,
		},
	}
}

// normalizePage clamps page to >= 1 and pageSize to 1..maxPageSize.
// A zero pageSize selects the default.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = defaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return page, pageSize
}

// ============================================================================
// Lifecycle and Bulk Operations
// ============================================================================

func (s *cardService) ChangeLifecycle(ctx context.Context, id int64, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error) {
	var updated *models.NomenclatureCard
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		card, err := s.cardRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.lifecycle.ChangeStatus(ctx, card, change, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *cardService) BulkChangeLifecycle(ctx context.Context, ids []int64, change *models.LifecycleChange, actorID *uuid.UUID) ([]models.BulkItemResult, error) {
	return s.lifecycle.BulkChangeStatus(ctx, ids, change, actorID)
}

func (s *cardService) BulkUpdateMethodologies(ctx context.Context, ids []int64, methodologyIDs []int64, mode models.MethodologyMode) ([]models.BulkItemResult, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown methodology mode %q", apperrors.ErrInvalidInput, mode)
	}

	results := make([]models.BulkItemResult, 0, len(ids))
	updated := 0

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
				card, err := s.cardRepo.GetByIDForUpdate(ctx, id)
				if err != nil {
					return err
				}
				card.MethodologyIDs = combineMethodologies(card.MethodologyIDs, methodologyIDs, mode)
				card.Version++
				return s.cardRepo.Update(ctx, card)
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

	s.logger.Info("Bulk methodology update finished",
		zap.String("mode", string(mode)),
		zap.Int("requested", len(ids)),
		zap.Int("updated", updated))
	return results, nil
}

// combineMethodologies returns the sorted, de-duplicated result of applying
// ids to current under mode.
func combineMethodologies(current, ids []int64, mode models.MethodologyMode) []int64 {
	set := make(map[int64]struct{})
	switch mode {
	case models.MethodologyReplace:
		for _, id := range ids {
			set[id] = struct{}{}
		}
	case models.MethodologyAppend:
		for _, id := range current {
			set[id] = struct{}{}
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	case models.MethodologyRemove:
		for _, id := range current {
			set[id] = struct{}{}
		}
		for _, id := range ids {
			delete(set, id)
		}
	}
	out := slices.Sorted(maps.Keys(set))
	if out == nil {
		out = []int64{}
	}
	return out
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []int64{}
	}
	return out
}
