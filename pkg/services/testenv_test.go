package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/cache"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/schemadoc"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// testEnv wires every service over one memStore.
type testEnv struct {
	store      *memStore
	nodeRepo   *fakeNodeRepo
	presetRepo *fakePresetRepo
	schemaRepo *fakeSchemaRepo
	auditRepo  *fakeAuditRepo
	cardRepo   *fakeCardRepo
	cache      cache.SchemaCache
	embedder   *fakeEmbedder

	registry  SchemaRegistry
	nodes     NodeService
	schemas   SchemaService
	presets   PresetService
	lifecycle LifecycleService
	cards     CardService
}

type envOption func(*testEnv)

func withCache(c cache.SchemaCache) envOption {
	return func(e *testEnv) { e.cache = c }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store := newMemStore()
	env := &testEnv{
		store:      store,
		nodeRepo:   &fakeNodeRepo{s: store},
		presetRepo: &fakePresetRepo{s: store},
		schemaRepo: &fakeSchemaRepo{s: store},
		auditRepo:  &fakeAuditRepo{s: store},
		cardRepo:   &fakeCardRepo{s: store},
		cache:      cache.NewMemoryCache(),
		embedder:   &fakeEmbedder{vectors: map[string][]float32{}},
	}
	for _, opt := range opts {
		opt(env)
	}

	logger := zap.NewNop()
	tx := &fakeTx{store: store}
	clock := func() time.Time { return testNow }

	env.registry = NewSchemaRegistry(env.nodeRepo, env.schemaRepo, env.cache, RegistryConfig{TTL: time.Minute, ValidatorCapacity: 16}, logger)

	nodes := NewNodeService(env.nodeRepo, tx, env.registry, logger)
	nodes.(*nodeService).now = clock
	env.nodes = nodes

	schemas := NewSchemaService(env.nodeRepo, env.schemaRepo, env.presetRepo, env.auditRepo, nodes, env.registry, tx, logger)
	schemas.(*schemaService).now = clock
	env.schemas = schemas

	env.presets = NewPresetService(env.presetRepo, env.schemaRepo, env.registry, tx, logger)

	lifecycle := NewLifecycleService(env.cardRepo, env.nodeRepo, env.auditRepo, tx, logger)
	lifecycle.(*lifecycleService).now = clock
	env.lifecycle = lifecycle

	env.cards = NewCardService(env.cardRepo, env.nodeRepo, env.registry, lifecycle, env.embedder, tx, logger)
	return env
}

func (e *testEnv) mustNode(t *testing.T, code string, nodeType models.NodeType, parentID *int64) *models.ClassifierNode {
	t.Helper()
	node, err := e.nodes.CreateNode(context.Background(), &models.NodeCreate{
		Code:     code,
		Name:     code + " node",
		NodeType: nodeType,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return node
}

func (e *testEnv) mustPublish(t *testing.T, nodeID int64, doc schemadoc.Document, presetIDs ...int64) *models.SchemaVersion {
	t.Helper()
	ctx := context.Background()
	sv, err := e.schemas.CreateVersion(ctx, nodeID, &models.SchemaDraft{Document: doc, PresetIDs: presetIDs}, nil)
	require.NoError(t, err)
	published, err := e.schemas.PublishVersion(ctx, nodeID, sv.Version, nil)
	require.NoError(t, err)
	return published
}

func (e *testEnv) mustPreset(t *testing.T, code string, doc schemadoc.Document) *models.AttributePreset {
	t.Helper()
	preset, err := e.presets.CreatePreset(context.Background(), &models.PresetCreate{
		Code:     code,
		Title:    code,
		Document: doc,
	})
	require.NoError(t, err)
	return preset
}

// objectSchema builds {"type":"object","properties":props,"required":required}.
func objectSchema(props map[string]any, required ...string) schemadoc.Document {
	doc := schemadoc.Document{"type": "object", "properties": props}
	if len(required) > 0 {
		list := make([]any, len(required))
		for i, r := range required {
			list[i] = r
		}
		doc["required"] = list
	}
	return doc
}

func numberProp() map[string]any { return map[string]any{"type": "number"} }
func stringProp() map[string]any { return map[string]any{"type": "string"} }

func ptr[T any](v T) *T { return &v }
