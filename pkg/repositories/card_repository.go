package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
)

// CardRepository provides data access for nomenclature cards and their version records.
type CardRepository interface {
	Create(ctx context.Context, card *models.NomenclatureCard) error
	GetByID(ctx context.Context, id int64) (*models.NomenclatureCard, error)
	// GetByIDForUpdate locks the card row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.NomenclatureCard, error)
	// Update persists every mutable column of the card.
	Update(ctx context.Context, card *models.NomenclatureCard) error
	SetEmbedding(ctx context.Context, id int64, embedding []float32) error

	CreateVersion(ctx context.Context, version *models.CardVersion) error
	ListVersions(ctx context.Context, cardID int64) ([]*models.CardVersion, error)

	// List returns one page of cards plus the total matching count. A search
	// string filters by substring on name or code and ranks by trigram similarity.
	List(ctx context.Context, filter models.CardFilter) ([]*models.NomenclatureCard, int, error)
	// ListForRanking returns up to limit cards matching every filter except the
	// search substring, with embeddings loaded and SearchConfidence set to the
	// trigram similarity of filter.Search (nil when the search is empty).
	ListForRanking(ctx context.Context, filter models.CardFilter, requireEmbedding bool, limit int) ([]*models.NomenclatureCard, error)
	// ListMissingEmbedding returns up to limit cards without an embedding,
	// oldest first.
	ListMissingEmbedding(ctx context.Context, limit int) ([]*models.NomenclatureCard, error)
}

type cardRepository struct{}

// NewCardRepository creates a new CardRepository.
func NewCardRepository() CardRepository {
	return &cardRepository{}
}

var _ CardRepository = (*cardRepository)(nil)

const cardColumns = `id, code, canonical_name, node_id, node_version,
		       segment_code, family_code, class_code, category_code,
		       lifecycle_status, lifecycle_reason, effective_from, effective_to,
		       attributes, methodology_ids, manufacturer, standard_document, article, tags,
		       version, created_by, last_editor_id, last_reviewed_at, audit_log_id,
		       created_at, updated_at`

// ============================================================================
// CRUD Operations
// ============================================================================

func (r *cardRepository) Create(ctx context.Context, card *models.NomenclatureCard) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	attributes, err := marshalJSONB(card.Attributes)
	if err != nil {
		return err
	}
	tags, err := marshalNullableJSONB(card.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nomenclature_cards (
			code, canonical_name, node_id, node_version,
			segment_code, family_code, class_code, category_code,
			lifecycle_status, lifecycle_reason, effective_from, effective_to,
			attributes, methodology_ids, manufacturer, standard_document, article, tags,
			version, created_by, last_editor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		card.Code,
		card.CanonicalName,
		card.NodeID,
		card.NodeVersion,
		card.SegmentCode,
		card.FamilyCode,
		card.ClassCode,
		card.CategoryCode,
		card.LifecycleStatus,
		card.LifecycleReason,
		card.EffectiveFrom,
		card.EffectiveTo,
		attributes,
		methodologyIDs(card.MethodologyIDs),
		card.Manufacturer,
		card.StandardDocument,
		card.Article,
		tags,
		card.Version,
		card.CreatedBy,
		card.LastEditorID,
	).Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create card: %w", err)
	}

	return nil
}

func (r *cardRepository) GetByID(ctx context.Context, id int64) (*models.NomenclatureCard, error) {
	return r.getOne(ctx, `SELECT `+cardColumns+` FROM nomenclature_cards WHERE id = $1`, id)
}

func (r *cardRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.NomenclatureCard, error) {
	return r.getOne(ctx, `SELECT `+cardColumns+` FROM nomenclature_cards WHERE id = $1 FOR UPDATE`, id)
}

func (r *cardRepository) getOne(ctx context.Context, query string, args ...any) (*models.NomenclatureCard, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	card, err := scanCard(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return card, nil
}

func (r *cardRepository) Update(ctx context.Context, card *models.NomenclatureCard) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	attributes, err := marshalJSONB(card.Attributes)
	if err != nil {
		return err
	}
	tags, err := marshalNullableJSONB(card.Tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE nomenclature_cards
		SET canonical_name = $2, node_id = $3, node_version = $4,
		    segment_code = $5, family_code = $6, class_code = $7, category_code = $8,
		    lifecycle_status = $9, lifecycle_reason = $10, effective_from = $11, effective_to = $12,
		    attributes = $13, methodology_ids = $14, manufacturer = $15, standard_document = $16,
		    article = $17, tags = $18, version = $19, last_editor_id = $20,
		    last_reviewed_at = $21, audit_log_id = $22, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = q.QueryRow(ctx, query,
		card.ID,
		card.CanonicalName,
		card.NodeID,
		card.NodeVersion,
		card.SegmentCode,
		card.FamilyCode,
		card.ClassCode,
		card.CategoryCode,
		card.LifecycleStatus,
		card.LifecycleReason,
		card.EffectiveFrom,
		card.EffectiveTo,
		attributes,
		methodologyIDs(card.MethodologyIDs),
		card.Manufacturer,
		card.StandardDocument,
		card.Article,
		tags,
		card.Version,
		card.LastEditorID,
		card.LastReviewedAt,
		card.AuditLogID,
	).Scan(&card.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update card: %w", err)
	}

	return nil
}

func (r *cardRepository) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `UPDATE nomenclature_cards SET ai_embedding = $2 WHERE id = $1`, id, embedding)
	if err != nil {
		return fmt.Errorf("failed to store card embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ============================================================================
// Card Versions
// ============================================================================

func (r *cardRepository) CreateVersion(ctx context.Context, v *models.CardVersion) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	diff, err := json.Marshal(v.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal card diff: %w", err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO nomenclature_card_versions (card_id, version, diff, status, author_id, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		v.CardID, v.Version, diff, v.Status, v.AuthorID, v.Comment,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create card version: %w", err)
	}
	return nil
}

func (r *cardRepository) ListVersions(ctx context.Context, cardID int64) ([]*models.CardVersion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, card_id, version, diff, status, author_id, comment, created_at
		FROM nomenclature_card_versions
		WHERE card_id = $1
		ORDER BY version DESC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.CardVersion
	for rows.Next() {
		var v models.CardVersion
		var diff []byte
		if err := rows.Scan(&v.ID, &v.CardID, &v.Version, &diff, &v.Status, &v.AuthorID, &v.Comment, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card version: %w", err)
		}
		if err := json.Unmarshal(diff, &v.Diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal card diff: %w", err)
		}
		versions = append(versions, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating card versions: %w", err)
	}

	return versions, nil
}

// ============================================================================
// Listing and Search
// ============================================================================

func (r *cardRepository) List(ctx context.Context, filter models.CardFilter) ([]*models.NomenclatureCard, int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	conditions, args, argIdx := cardConditions(filter)

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	confidence := "NULL::float8"
	if search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(lower(canonical_name) LIKE $%d OR lower(code) LIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+escapeLike(search)+"%")
		argIdx++

		confidence = fmt.Sprintf(
			"COALESCE(GREATEST(similarity(lower(canonical_name), $%d), similarity(lower(code), $%d)), 0)::float8",
			argIdx, argIdx)
		args = append(args, search)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM nomenclature_cards WHERE %s`, where)
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	orderBy := cardOrder(filter)
	if search != "" {
		orderBy = "search_confidence DESC, " + orderBy
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s, %s AS search_confidence
		FROM nomenclature_cards
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, cardColumns, confidence, where, orderBy, argIdx, argIdx+1)

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := q.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.NomenclatureCard
	for rows.Next() {
		card, err := scanCard(rows, withConfidence())
		if err != nil {
			return nil, 0, err
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, total, nil
}

func (r *cardRepository) ListForRanking(ctx context.Context, filter models.CardFilter, requireEmbedding bool, limit int) ([]*models.NomenclatureCard, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	conditions, args, argIdx := cardConditions(filter)
	if requireEmbedding {
		conditions = append(conditions, "ai_embedding IS NOT NULL")
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	confidence := "NULL::float8"
	if search != "" {
		confidence = fmt.Sprintf(
			"COALESCE(GREATEST(similarity(lower(canonical_name), $%d), similarity(lower(code), $%d)), 0)::float8",
			argIdx, argIdx)
		args = append(args, search)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s, %s AS search_confidence, ai_embedding
		FROM nomenclature_cards
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, cardColumns, confidence, strings.Join(conditions, " AND "), cardOrder(filter), argIdx)

	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for ranking: %w", err)
	}
	defer rows.Close()

	var cards []*models.NomenclatureCard
	for rows.Next() {
		card, err := scanCard(rows, withConfidence(), withEmbedding())
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

func (r *cardRepository) ListMissingEmbedding(ctx context.Context, limit int) ([]*models.NomenclatureCard, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM nomenclature_cards
		WHERE ai_embedding IS NULL
		ORDER BY id
		LIMIT $1`, cardColumns)

	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards without embedding: %w", err)
	}
	defer rows.Close()

	var cards []*models.NomenclatureCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// cardConditions builds the WHERE clauses shared by List and ListForRanking.
// The search substring is not included.
func cardConditions(filter models.CardFilter) ([]string, []any, int) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.NodeID != nil {
		conditions = append(conditions, fmt.Sprintf("node_id = $%d", argIdx))
		args = append(args, *filter.NodeID)
		argIdx++
	}
	if filter.LifecycleStatus != nil {
		conditions = append(conditions, fmt.Sprintf("lifecycle_status = $%d", argIdx))
		args = append(args, *filter.LifecycleStatus)
		argIdx++
	}
	if filter.Manufacturer != "" {
		conditions = append(conditions, fmt.Sprintf("lower(manufacturer) LIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Manufacturer))+"%")
		argIdx++
	}
	if filter.Code != "" {
		conditions = append(conditions, fmt.Sprintf("lower(code) = $%d", argIdx))
		args = append(args, strings.ToLower(filter.Code))
		argIdx++
	}
	if filter.HasMethodology != nil {
		if *filter.HasMethodology {
			conditions = append(conditions, "cardinality(methodology_ids) > 0")
		} else {
			conditions = append(conditions, "COALESCE(cardinality(methodology_ids), 0) = 0")
		}
	}

	return conditions, args, argIdx
}

func cardOrder(filter models.CardFilter) string {
	column := "updated_at"
	if filter.Sort == models.CardSortCode {
		column = "code"
	}
	direction := "ASC"
	if filter.Descending {
		direction = "DESC"
	}
	return fmt.Sprintf("%s %s, id", column, direction)
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// methodologyIDs keeps the NOT NULL column satisfied for nil slices.
func methodologyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// marshalNullableJSONB encodes v for a nullable JSONB column; nil stays NULL.
func marshalNullableJSONB(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSONB(v)
}

type cardScanOptions struct {
	confidence bool
	embedding  bool
}

type cardScanOption func(*cardScanOptions)

func withConfidence() cardScanOption { return func(o *cardScanOptions) { o.confidence = true } }
func withEmbedding() cardScanOption  { return func(o *cardScanOptions) { o.embedding = true } }

func scanCard(row pgx.Row, opts ...cardScanOption) (*models.NomenclatureCard, error) {
	var o cardScanOptions
	for _, opt := range opts {
		opt(&o)
	}

	var c models.NomenclatureCard
	var attributes, tags []byte
	var confidence *float64
	var embedding []float32

	dest := []any{
		&c.ID,
		&c.Code,
		&c.CanonicalName,
		&c.NodeID,
		&c.NodeVersion,
		&c.SegmentCode,
		&c.FamilyCode,
		&c.ClassCode,
		&c.CategoryCode,
		&c.LifecycleStatus,
		&c.LifecycleReason,
		&c.EffectiveFrom,
		&c.EffectiveTo,
		&attributes,
		&c.MethodologyIDs,
		&c.Manufacturer,
		&c.StandardDocument,
		&c.Article,
		&tags,
		&c.Version,
		&c.CreatedBy,
		&c.LastEditorID,
		&c.LastReviewedAt,
		&c.AuditLogID,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if o.confidence {
		dest = append(dest, &confidence)
	}
	if o.embedding {
		dest = append(dest, &embedding)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}

	var err error
	if c.Attributes, err = unmarshalJSONBMap(attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card attributes: %w", err)
	}
	if c.Attributes == nil {
		c.Attributes = map[string]any{}
	}
	if c.Tags, err = unmarshalJSONBMap(tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card tags: %w", err)
	}
	if c.MethodologyIDs == nil {
		c.MethodologyIDs = []int64{}
	}
	c.SearchConfidence = confidence
	c.Embedding = embedding

	return &c, nil
}
