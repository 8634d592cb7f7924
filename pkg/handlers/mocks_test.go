package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/services"
)

// ============================================================================
// Mock Services
// ============================================================================

type mockNodeService struct {
	node     *models.ClassifierNode
	nodes    []*models.ClassifierNode
	err      error
	created  *models.NodeCreate
	filter   models.NodeFilter
	archived int64
}

var _ services.NodeService = (*mockNodeService)(nil)

func (m *mockNodeService) CreateNode(_ context.Context, input *models.NodeCreate) (*models.ClassifierNode, error) {
	m.created = input
	return m.node, m.err
}
func (m *mockNodeService) UpdateNode(context.Context, int64, *models.NodeUpdate) (*models.ClassifierNode, error) {
	return m.node, m.err
}
func (m *mockNodeService) ArchiveNode(_ context.Context, id int64) (*models.ClassifierNode, error) {
	m.archived = id
	return m.node, m.err
}
func (m *mockNodeService) GetNode(context.Context, int64) (*models.ClassifierNode, error) {
	return m.node, m.err
}
func (m *mockNodeService) ListNodes(_ context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error) {
	m.filter = filter
	return m.nodes, m.err
}
func (m *mockNodeService) ListNodeVersions(context.Context, int64) ([]*models.NodeVersionSnapshot, error) {
	return []*models.NodeVersionSnapshot{}, m.err
}
func (m *mockNodeService) AdoptSchemaVersion(context.Context, int64, int) (*models.ClassifierNode, error) {
	return m.node, m.err
}

type mockSchemaService struct {
	version   *models.SchemaVersion
	entry     *models.SchemaEntry
	err       error
	actorID   *uuid.UUID
	published int
}

var _ services.SchemaService = (*mockSchemaService)(nil)

func (m *mockSchemaService) CreateVersion(_ context.Context, _ int64, _ *models.SchemaDraft, authorID *uuid.UUID) (*models.SchemaVersion, error) {
	m.actorID = authorID
	return m.version, m.err
}
func (m *mockSchemaService) PublishVersion(_ context.Context, _ int64, version int, actorID *uuid.UUID) (*models.SchemaVersion, error) {
	m.published = version
	m.actorID = actorID
	return m.version, m.err
}
func (m *mockSchemaService) GetVersion(context.Context, int64, int) (*models.SchemaVersion, error) {
	return m.version, m.err
}
func (m *mockSchemaService) ListVersions(context.Context, int64) ([]*models.SchemaVersion, error) {
	return []*models.SchemaVersion{m.version}, m.err
}
func (m *mockSchemaService) GetDiff(context.Context, int64, int) (*models.SchemaDiffRecord, error) {
	return &models.SchemaDiffRecord{}, m.err
}
func (m *mockSchemaService) ResolveSchema(context.Context, int64) (*models.SchemaEntry, error) {
	return m.entry, m.err
}

type mockRegistry struct {
	entry   *models.SchemaEntry
	err     error
	payload map[string]any
}

var _ services.SchemaRegistry = (*mockRegistry)(nil)

func (m *mockRegistry) GetEntry(context.Context, int64) (*models.SchemaEntry, error) {
	return m.entry, m.err
}
func (m *mockRegistry) ValidatePayload(_ context.Context, _ int64, payload map[string]any) (*models.SchemaEntry, error) {
	m.payload = payload
	return m.entry, m.err
}
func (m *mockRegistry) Invalidate(context.Context, int64)        {}
func (m *mockRegistry) InvalidateSubtree(context.Context, int64) {}

type mockPresetService struct {
	preset *models.AttributePreset
	err    error
	status *models.SchemaStatus
}

var _ services.PresetService = (*mockPresetService)(nil)

func (m *mockPresetService) CreatePreset(context.Context, *models.PresetCreate) (*models.AttributePreset, error) {
	return m.preset, m.err
}
func (m *mockPresetService) GetPreset(context.Context, int64) (*models.AttributePreset, error) {
	return m.preset, m.err
}
func (m *mockPresetService) ListPresets(_ context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error) {
	m.status = status
	return []*models.AttributePreset{}, m.err
}
func (m *mockPresetService) UpdatePreset(context.Context, int64, *models.PresetUpdate) (*models.AttributePreset, error) {
	return m.preset, m.err
}
func (m *mockPresetService) ArchivePreset(context.Context, int64) (*models.AttributePreset, error) {
	return m.preset, m.err
}

type mockCardService struct {
	card    *models.NomenclatureCard
	page    *models.CardPage
	results []models.BulkItemResult
	err     error

	actorID *uuid.UUID
	filter  models.CardFilter
	change  *models.LifecycleChange
	ids     []int64
	mode    models.MethodologyMode
}

var _ services.CardService = (*mockCardService)(nil)

func (m *mockCardService) CreateCard(_ context.Context, _ *models.CardCreate, authorID *uuid.UUID) (*models.NomenclatureCard, error) {
	m.actorID = authorID
	return m.card, m.err
}
func (m *mockCardService) UpdateCard(_ context.Context, _ int64, _ *models.CardUpdate, editorID *uuid.UUID) (*models.NomenclatureCard, error) {
	m.actorID = editorID
	return m.card, m.err
}
func (m *mockCardService) RefreshNodeVersion(_ context.Context, _ int64, editorID *uuid.UUID) (*models.NomenclatureCard, error) {
	m.actorID = editorID
	return m.card, m.err
}
func (m *mockCardService) GetCard(context.Context, int64) (*models.NomenclatureCard, error) {
	return m.card, m.err
}
func (m *mockCardService) ListCardVersions(context.Context, int64) ([]*models.CardVersion, error) {
	return []*models.CardVersion{}, m.err
}
func (m *mockCardService) ListCards(_ context.Context, filter models.CardFilter) (*models.CardPage, error) {
	m.filter = filter
	return m.page, m.err
}
func (m *mockCardService) ChangeLifecycle(_ context.Context, _ int64, change *models.LifecycleChange, actorID *uuid.UUID) (*models.NomenclatureCard, error) {
	m.change = change
	m.actorID = actorID
	return m.card, m.err
}
func (m *mockCardService) BulkChangeLifecycle(_ context.Context, ids []int64, change *models.LifecycleChange, actorID *uuid.UUID) ([]models.BulkItemResult, error) {
	m.ids = ids
	m.change = change
	m.actorID = actorID
	return m.results, m.err
}
func (m *mockCardService) BulkUpdateMethodologies(_ context.Context, ids []int64, _ []int64, mode models.MethodologyMode) ([]models.BulkItemResult, error) {
	m.ids = ids
	m.mode = mode
	return m.results, m.err
}

// passthrough stands in for the scoped connection middleware.
func passthrough(next http.HandlerFunc) http.HandlerFunc { return next }

type mockBackfill struct {
	result *models.EmbeddingBackfillResult
	err    error
	limit  int
}

var _ services.EmbeddingBackfill = (*mockBackfill)(nil)

func (m *mockBackfill) Run(_ context.Context, limit int) (*models.EmbeddingBackfillResult, error) {
	m.limit = limit
	return m.result, m.err
}
