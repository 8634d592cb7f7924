package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/cache"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
	"github.com/uralreduktor/seny/pkg/schemadoc"
)

const (
	schemaCacheKeyPrefix   = "nomenclature:schema:"
	defaultSchemaCacheTTL  = time.Hour
	maxClassifierDepthWalk = 64
)

// SchemaRegistry resolves the effective attribute schema of a classifier node
// and validates card payloads against it.
type SchemaRegistry interface {
	// GetEntry returns the schema composed from every published schema on the
	// node's ancestor chain, root to node. Fails with *apperrors.RegistryError
	// when no chain node has a published schema.
	GetEntry(ctx context.Context, nodeID int64) (*models.SchemaEntry, error)

	// ValidatePayload resolves the node's schema and validates payload against
	// it. Violations are returned as *apperrors.SchemaValidationError.
	ValidatePayload(ctx context.Context, nodeID int64, payload map[string]any) (*models.SchemaEntry, error)

	// Invalidate drops the node's compiled validators and its cached entry.
	Invalidate(ctx context.Context, nodeID int64)

	// InvalidateSubtree invalidates the node and every descendant.
	InvalidateSubtree(ctx context.Context, nodeID int64)
}

// RegistryConfig tunes the registry caches.
type RegistryConfig struct {
	TTL               time.Duration
	ValidatorCapacity int
}

type validatorKey struct {
	nodeID  int64
	version int
}

type compiledSchema struct {
	fingerprint string
	validator   *schemadoc.Validator
}

// cachedEntry is the external cache encoding. Pointer fields detect entries
// written by an incompatible writer.
type cachedEntry struct {
	Version *int               `json:"version"`
	Schema  schemadoc.Document `json:"schema"`
}

type schemaRegistry struct {
	nodeRepo   repositories.NodeRepository
	schemaRepo repositories.SchemaVersionRepository
	cache      cache.SchemaCache
	ttl        time.Duration
	validators *cache.LRU[validatorKey, *compiledSchema]
	logger     *zap.Logger
}

// NewSchemaRegistry creates a SchemaRegistry. The cache may be any
// SchemaCache; its failures only cost recomputation.
func NewSchemaRegistry(
	nodeRepo repositories.NodeRepository,
	schemaRepo repositories.SchemaVersionRepository,
	schemaCache cache.SchemaCache,
	cfg RegistryConfig,
	logger *zap.Logger,
) SchemaRegistry {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSchemaCacheTTL
	}
	return &schemaRegistry{
		nodeRepo:   nodeRepo,
		schemaRepo: schemaRepo,
		cache:      schemaCache,
		ttl:        ttl,
		validators: cache.NewLRU[validatorKey, *compiledSchema](cfg.ValidatorCapacity),
		logger:     logger.Named("schema-registry"),
	}
}

var _ SchemaRegistry = (*schemaRegistry)(nil)

func schemaCacheKey(nodeID int64) string {
	return fmt.Sprintf("%s%d", schemaCacheKeyPrefix, nodeID)
}

// ============================================================================
// Resolution
// ============================================================================

func (r *schemaRegistry) GetEntry(ctx context.Context, nodeID int64) (*models.SchemaEntry, error) {
	key := schemaCacheKey(nodeID)

	if entry, ok := r.readCache(ctx, key, nodeID); ok {
		return entry, nil
	}

	entry, err := r.resolve(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cachedEntry{Version: &entry.Version, Schema: entry.Schema})
	if err != nil {
		r.logger.Warn("Failed to encode schema for cache",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
		return entry, nil
	}
	if err := r.cache.SetWithTTL(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn("Failed to cache schema",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
	}

	return entry, nil
}

// readCache returns the cached entry, treating backend errors and undecodable
// values as misses.
func (r *schemaRegistry) readCache(ctx context.Context, key string, nodeID int64) (*models.SchemaEntry, bool) {
	data, found, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Schema cache unavailable, recomputing",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cached cachedEntry
	if err := json.Unmarshal(data, &cached); err != nil || cached.Version == nil || cached.Schema == nil {
		r.logger.Warn("Failed to decode cached schema",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
		return nil, false
	}

	return &models.SchemaEntry{NodeID: nodeID, Version: *cached.Version, Schema: cached.Schema}, true
}

// resolve composes the entry from the store.
func (r *schemaRegistry) resolve(ctx context.Context, nodeID int64) (*models.SchemaEntry, error) {
	chain, err := r.collectChain(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	merged := schemadoc.Document{}
	version := 0
	found := false

	for _, node := range chain {
		sv, err := r.schemaRepo.GetLatestPublished(ctx, node.ID)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load published schema for node %d: %w", node.ID, err)
		}

		found = true
		if sv.Version > version {
			version = sv.Version
		}
		merged = schemadoc.DeepMerge(merged, applyPresets(sv))
	}

	if !found {
		return nil, &apperrors.RegistryError{NodeID: nodeID}
	}

	return &models.SchemaEntry{NodeID: nodeID, Version: version, Schema: merged}, nil
}

// collectChain returns the node's ancestors root first, ending with the node.
// A dangling parent reference or a cycle ends the walk.
func (r *schemaRegistry) collectChain(ctx context.Context, nodeID int64) ([]*models.ClassifierNode, error) {
	node, err := r.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	chain := []*models.ClassifierNode{node}
	visited := map[int64]bool{node.ID: true}

	for node.ParentID != nil && len(chain) < maxClassifierDepthWalk {
		parentID := *node.ParentID
		if visited[parentID] {
			r.logger.Warn("Cycle in classifier ancestry",
				zap.Int64("node_id", nodeID),
				zap.Int64("repeated_node_id", parentID))
			break
		}
		parent, err := r.nodeRepo.GetByID(ctx, parentID)
		if errors.Is(err, apperrors.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		node = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// applyPresets overlays the schema version's preset links in attachment order.
func applyPresets(sv *models.SchemaVersion) schemadoc.Document {
	doc := schemadoc.CloneDocument(sv.Document)
	for _, link := range sv.Presets {
		if link.Preset == nil {
			continue
		}
		switch link.Mode {
		case models.PresetModeExclude:
			doc = schemadoc.ExcludeProperties(doc, link.Preset.Document)
		default:
			doc = schemadoc.DeepMerge(doc, link.Preset.Document)
		}
	}
	return doc
}

// ============================================================================
// Validation
// ============================================================================

func (r *schemaRegistry) ValidatePayload(ctx context.Context, nodeID int64, payload map[string]any) (*models.SchemaEntry, error) {
	entry, err := r.GetEntry(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	validator, err := r.validatorFor(entry)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	if violations := validator.Validate(payload); len(violations) > 0 {
		return entry, &apperrors.SchemaValidationError{Errors: violations}
	}
	return entry, nil
}

// validatorFor returns the compiled validator for the entry. A cached
// validator whose document fingerprint differs is recompiled.
func (r *schemaRegistry) validatorFor(entry *models.SchemaEntry) (*schemadoc.Validator, error) {
	key := validatorKey{nodeID: entry.NodeID, version: entry.Version}
	fingerprint := schemadoc.Fingerprint(entry.Schema)

	if compiled, ok := r.validators.Get(key); ok && compiled.fingerprint == fingerprint {
		return compiled.validator, nil
	}

	validator, err := schemadoc.Compile(entry.Schema)
	if err != nil {
		return nil, fmt.Errorf("resolved schema for node %d: %w", entry.NodeID, err)
	}
	r.validators.Put(key, &compiledSchema{fingerprint: fingerprint, validator: validator})
	return validator, nil
}

// ============================================================================
// Invalidation
// ============================================================================

func (r *schemaRegistry) Invalidate(ctx context.Context, nodeID int64) {
	r.validators.DeleteFunc(func(k validatorKey) bool { return k.nodeID == nodeID })

	if err := r.cache.Delete(ctx, schemaCacheKey(nodeID)); err != nil {
		r.logger.Warn("Failed to invalidate schema cache",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
	}
}

func (r *schemaRegistry) InvalidateSubtree(ctx context.Context, nodeID int64) {
	ids, err := r.nodeRepo.ListSubtreeIDs(ctx, nodeID)
	if err != nil {
		r.logger.Warn("Failed to list subtree for invalidation, invalidating node only",
			zap.Int64("node_id", nodeID),
			zap.Error(err))
		ids = []int64{nodeID}
	}
	for _, id := range ids {
		r.Invalidate(ctx, id)
	}
	r.logger.Debug("Invalidated schema subtree",
		zap.Int64("node_id", nodeID),
		zap.Int("nodes", len(ids)))
}
