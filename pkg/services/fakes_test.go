package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

// memStore backs the fake repositories. Stored rows are never mutated in
// place, so a transaction snapshot only needs to copy the containers.
type memStore struct {
	mu     sync.Mutex
	nextID int64

	nodes        map[int64]*models.ClassifierNode
	snapshots    []*models.NodeVersionSnapshot
	presets      map[int64]*models.AttributePreset
	schemas      map[int64]*models.SchemaVersion
	diffs        []*models.SchemaDiffRecord
	cards        map[int64]*models.NomenclatureCard
	cardVersions []*models.CardVersion
	audit        []*models.AuditLogEntry

	// failures makes the named operation fail, e.g. "card.Update".
	failures map[string]error
	// calls counts operations by name.
	calls map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		nodes:    make(map[int64]*models.ClassifierNode),
		presets:  make(map[int64]*models.AttributePreset),
		schemas:  make(map[int64]*models.SchemaVersion),
		cards:    make(map[int64]*models.NomenclatureCard),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

type memSnapshot struct {
	nodes        map[int64]*models.ClassifierNode
	snapshots    []*models.NodeVersionSnapshot
	presets      map[int64]*models.AttributePreset
	schemas      map[int64]*models.SchemaVersion
	diffs        []*models.SchemaDiffRecord
	cards        map[int64]*models.NomenclatureCard
	cardVersions []*models.CardVersion
	audit        []*models.AuditLogEntry
}

func (s *memStore) save() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		nodes:        maps.Clone(s.nodes),
		snapshots:    slices.Clone(s.snapshots),
		presets:      maps.Clone(s.presets),
		schemas:      maps.Clone(s.schemas),
		diffs:        slices.Clone(s.diffs),
		cards:        maps.Clone(s.cards),
		cardVersions: slices.Clone(s.cardVersions),
		audit:        slices.Clone(s.audit),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = snap.nodes
	s.snapshots = snap.snapshots
	s.presets = snap.presets
	s.schemas = snap.schemas
	s.diffs = snap.diffs
	s.cards = snap.cards
	s.cardVersions = snap.cardVersions
	s.audit = snap.audit
}

// enter records a call and returns the configured failure, if any.
// Callers hold s.mu.
func (s *memStore) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// ============================================================================
// Transactions
// ============================================================================

// fakeTx rolls the store back when fn fails. Nested calls behave like
// savepoints.
type fakeTx struct {
	store *memStore
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := f.store.save()
	if err := fn(ctx); err != nil {
		f.store.restore(saved)
		return err
	}
	return nil
}

// ============================================================================
// Nodes
// ============================================================================

type fakeNodeRepo struct{ s *memStore }

var _ repositories.NodeRepository = (*fakeNodeRepo)(nil)

func copyNode(n *models.ClassifierNode) *models.ClassifierNode {
	c := *n
	c.Metadata = maps.Clone(n.Metadata)
	return &c
}

func (r *fakeNodeRepo) Create(_ context.Context, node *models.ClassifierNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("node.Create"); err != nil {
		return err
	}
	for _, n := range r.s.nodes {
		if n.Code == node.Code {
			return fmt.Errorf("node code %q: %w", node.Code, apperrors.ErrConflict)
		}
	}
	node.ID = r.s.id()
	node.CreatedAt = time.Now()
	node.UpdatedAt = node.CreatedAt
	r.s.nodes[node.ID] = copyNode(node)
	return nil
}

func (r *fakeNodeRepo) GetByID(_ context.Context, id int64) (*models.ClassifierNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("node.GetByID"); err != nil {
		return nil, err
	}
	n, ok := r.s.nodes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyNode(n), nil
}

func (r *fakeNodeRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.ClassifierNode, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeNodeRepo) GetByCode(_ context.Context, code string) (*models.ClassifierNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.nodes {
		if n.Code == code {
			return copyNode(n), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeNodeRepo) Update(_ context.Context, node *models.ClassifierNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("node.Update"); err != nil {
		return err
	}
	if _, ok := r.s.nodes[node.ID]; !ok {
		return apperrors.ErrNotFound
	}
	node.UpdatedAt = time.Now()
	r.s.nodes[node.ID] = copyNode(node)
	return nil
}

func (r *fakeNodeRepo) List(_ context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ClassifierNode
	for _, n := range r.s.nodes {
		if filter.ParentID != nil && (n.ParentID == nil || *n.ParentID != *filter.ParentID) {
			continue
		}
		if filter.Depth != nil && n.Depth != *filter.Depth {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		out = append(out, copyNode(n))
	}
	slices.SortFunc(out, func(a, b *models.ClassifierNode) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (r *fakeNodeRepo) ListSubtreeIDs(_ context.Context, id int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("node.ListSubtreeIDs"); err != nil {
		return nil, err
	}
	if _, ok := r.s.nodes[id]; !ok {
		return nil, nil
	}
	out := []int64{id}
	seen := map[int64]bool{id: true}
	for i := 0; i < len(out); i++ {
		var children []int64
		for _, n := range r.s.nodes {
			if n.ParentID != nil && *n.ParentID == out[i] && !seen[n.ID] {
				children = append(children, n.ID)
			}
		}
		slices.Sort(children)
		for _, c := range children {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeNodeRepo) CreateSnapshot(_ context.Context, snapshot *models.NodeVersionSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("node.CreateSnapshot"); err != nil {
		return err
	}
	for _, existing := range r.s.snapshots {
		if existing.NodeID == snapshot.NodeID && existing.Version == snapshot.Version {
			return fmt.Errorf("snapshot %d@%d: %w", snapshot.NodeID, snapshot.Version, apperrors.ErrConflict)
		}
	}
	snapshot.ID = r.s.id()
	snapshot.CreatedAt = time.Now()
	c := *snapshot
	r.s.snapshots = append(r.s.snapshots, &c)
	return nil
}

func (r *fakeNodeRepo) CloseSnapshot(_ context.Context, nodeID int64, version int, closedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, snap := range r.s.snapshots {
		if snap.NodeID == nodeID && snap.Version == version {
			c := *snap
			if c.EffectiveTo == nil || c.EffectiveTo.After(closedAt) {
				c.EffectiveTo = &closedAt
			}
			r.s.snapshots[i] = &c
		}
	}
	return nil
}

func (r *fakeNodeRepo) ListSnapshots(_ context.Context, nodeID int64) ([]*models.NodeVersionSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.NodeVersionSnapshot
	for _, snap := range r.s.snapshots {
		if snap.NodeID == nodeID {
			c := *snap
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.NodeVersionSnapshot) int { return cmp.Compare(b.Version, a.Version) })
	return out, nil
}

// ============================================================================
// Presets
// ============================================================================

type fakePresetRepo struct{ s *memStore }

var _ repositories.PresetRepository = (*fakePresetRepo)(nil)

func copyPreset(p *models.AttributePreset) *models.AttributePreset {
	c := *p
	return &c
}

func (r *fakePresetRepo) Create(_ context.Context, preset *models.AttributePreset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.presets {
		if p.Code == preset.Code {
			return fmt.Errorf("preset code %q: %w", preset.Code, apperrors.ErrConflict)
		}
	}
	preset.ID = r.s.id()
	preset.CreatedAt = time.Now()
	preset.UpdatedAt = preset.CreatedAt
	r.s.presets[preset.ID] = copyPreset(preset)
	return nil
}

func (r *fakePresetRepo) GetByID(_ context.Context, id int64) (*models.AttributePreset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.presets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyPreset(p), nil
}

func (r *fakePresetRepo) GetByIDs(_ context.Context, ids []int64) (map[int64]*models.AttributePreset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]*models.AttributePreset)
	for _, id := range ids {
		if p, ok := r.s.presets[id]; ok {
			out[id] = copyPreset(p)
		}
	}
	return out, nil
}

func (r *fakePresetRepo) GetByCode(_ context.Context, code string) (*models.AttributePreset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.presets {
		if p.Code == code {
			return copyPreset(p), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakePresetRepo) List(_ context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AttributePreset
	for _, p := range r.s.presets {
		if status == nil || p.Status == *status {
			out = append(out, copyPreset(p))
		}
	}
	slices.SortFunc(out, func(a, b *models.AttributePreset) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (r *fakePresetRepo) Update(_ context.Context, preset *models.AttributePreset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.presets[preset.ID]; !ok {
		return apperrors.ErrNotFound
	}
	preset.UpdatedAt = time.Now()
	r.s.presets[preset.ID] = copyPreset(preset)
	return nil
}

// ============================================================================
// Schema Versions
// ============================================================================

type fakeSchemaRepo struct{ s *memStore }

var _ repositories.SchemaVersionRepository = (*fakeSchemaRepo)(nil)

// loadSchema copies a stored schema and attaches current preset rows.
// Callers hold s.mu.
func (r *fakeSchemaRepo) loadSchema(sv *models.SchemaVersion) *models.SchemaVersion {
	c := *sv
	c.Presets = make([]models.PresetLink, len(sv.Presets))
	for i, link := range sv.Presets {
		link.Preset = nil
		if p, ok := r.s.presets[link.PresetID]; ok {
			link.Preset = copyPreset(p)
		}
		c.Presets[i] = link
	}
	return &c
}

func (r *fakeSchemaRepo) MaxVersion(_ context.Context, nodeID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	maxVersion := 0
	for _, sv := range r.s.schemas {
		if sv.NodeID == nodeID && sv.Version > maxVersion {
			maxVersion = sv.Version
		}
	}
	return maxVersion, nil
}

func (r *fakeSchemaRepo) Create(_ context.Context, schema *models.SchemaVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sv := range r.s.schemas {
		if sv.NodeID == schema.NodeID && sv.Version == schema.Version {
			return fmt.Errorf("schema %d@%d: %w", schema.NodeID, schema.Version, apperrors.ErrConflict)
		}
	}
	schema.ID = r.s.id()
	schema.CreatedAt = time.Now()
	schema.UpdatedAt = schema.CreatedAt
	c := *schema
	c.Presets = slices.Clone(schema.Presets)
	r.s.schemas[schema.ID] = &c
	return nil
}

func (r *fakeSchemaRepo) GetByNodeVersion(_ context.Context, nodeID int64, version int) (*models.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sv := range r.s.schemas {
		if sv.NodeID == nodeID && sv.Version == version {
			return r.loadSchema(sv), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeSchemaRepo) latestPublished(nodeID int64, before int) (*models.SchemaVersion, error) {
	var best *models.SchemaVersion
	for _, sv := range r.s.schemas {
		if sv.NodeID != nodeID || sv.Status != models.SchemaStatusPublished || sv.Version >= before {
			continue
		}
		if best == nil || sv.Version > best.Version {
			best = sv
		}
	}
	if best == nil {
		return nil, apperrors.ErrNotFound
	}
	return r.loadSchema(best), nil
}

func (r *fakeSchemaRepo) GetLatestPublished(_ context.Context, nodeID int64) (*models.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("schema.GetLatestPublished"); err != nil {
		return nil, err
	}
	return r.latestPublished(nodeID, int(^uint(0)>>1))
}

func (r *fakeSchemaRepo) GetPreviousPublished(_ context.Context, nodeID int64, before int) (*models.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.latestPublished(nodeID, before)
}

func (r *fakeSchemaRepo) MarkPublished(_ context.Context, id int64, publishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sv, ok := r.s.schemas[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c := *sv
	c.Status = models.SchemaStatusPublished
	c.PublishedAt = &publishedAt
	r.s.schemas[id] = &c
	return nil
}

func (r *fakeSchemaRepo) ListByNode(_ context.Context, nodeID int64) ([]*models.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SchemaVersion
	for _, sv := range r.s.schemas {
		if sv.NodeID == nodeID {
			out = append(out, r.loadSchema(sv))
		}
	}
	slices.SortFunc(out, func(a, b *models.SchemaVersion) int { return cmp.Compare(b.Version, a.Version) })
	return out, nil
}

func (r *fakeSchemaRepo) ListNodeIDsByPreset(_ context.Context, presetID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []int64
	for _, sv := range r.s.schemas {
		if sv.Status != models.SchemaStatusPublished {
			continue
		}
		for _, link := range sv.Presets {
			if link.PresetID == presetID && !slices.Contains(out, sv.NodeID) {
				out = append(out, sv.NodeID)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *fakeSchemaRepo) CreateDiff(_ context.Context, record *models.SchemaDiffRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("schema.CreateDiff"); err != nil {
		return err
	}
	for _, d := range r.s.diffs {
		if d.SchemaID == record.SchemaID {
			return fmt.Errorf("diff for schema %d: %w", record.SchemaID, apperrors.ErrConflict)
		}
	}
	record.ID = r.s.id()
	record.CreatedAt = time.Now()
	c := *record
	r.s.diffs = append(r.s.diffs, &c)
	return nil
}

func (r *fakeSchemaRepo) GetDiff(_ context.Context, nodeID int64, version int) (*models.SchemaDiffRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.diffs {
		if d.NodeID == nodeID && d.Version == version {
			c := *d
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// ============================================================================
// Audit
// ============================================================================

type fakeAuditRepo struct{ s *memStore }

var _ repositories.AuditRepository = (*fakeAuditRepo)(nil)

func (r *fakeAuditRepo) Create(_ context.Context, entry *models.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("audit.Create"); err != nil {
		return err
	}
	entry.ID = r.s.id()
	entry.CreatedAt = time.Now()
	c := *entry
	c.Details = maps.Clone(entry.Details)
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r *fakeAuditRepo) GetByEntity(_ context.Context, entityType string, entityID int64) ([]*models.AuditLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AuditLogEntry
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		e := r.s.audit[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// ============================================================================
// Cards
// ============================================================================

type fakeCardRepo struct{ s *memStore }

var _ repositories.CardRepository = (*fakeCardRepo)(nil)

func (r *fakeCardRepo) Create(_ context.Context, card *models.NomenclatureCard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("card.Create"); err != nil {
		return err
	}
	for _, c := range r.s.cards {
		if c.Code == card.Code {
			return fmt.Errorf("card code %q: %w", card.Code, apperrors.ErrConflict)
		}
	}
	card.ID = r.s.id()
	card.CreatedAt = time.Now()
	card.UpdatedAt = card.CreatedAt
	r.s.cards[card.ID] = card.Clone()
	return nil
}

func (r *fakeCardRepo) GetByID(_ context.Context, id int64) (*models.NomenclatureCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := c.Clone()
	out.Embedding = nil
	return out, nil
}

func (r *fakeCardRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.NomenclatureCard, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeCardRepo) Update(_ context.Context, card *models.NomenclatureCard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("card.Update"); err != nil {
		return err
	}
	existing, ok := r.s.cards[card.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	card.UpdatedAt = time.Now()
	stored := card.Clone()
	stored.Embedding = existing.Embedding
	r.s.cards[card.ID] = stored
	return nil
}

func (r *fakeCardRepo) SetEmbedding(_ context.Context, id int64, embedding []float32) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("card.SetEmbedding"); err != nil {
		return err
	}
	existing, ok := r.s.cards[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored := existing.Clone()
	stored.Embedding = slices.Clone(embedding)
	r.s.cards[id] = stored
	return nil
}

func (r *fakeCardRepo) ListMissingEmbedding(_ context.Context, limit int) ([]*models.NomenclatureCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("card.ListMissingEmbedding"); err != nil {
		return nil, err
	}
	var out []*models.NomenclatureCard
	for _, c := range r.s.cards {
		if len(c.Embedding) == 0 {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.NomenclatureCard) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeCardRepo) CreateVersion(_ context.Context, version *models.CardVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.cardVersions {
		if v.CardID == version.CardID && v.Version == version.Version {
			return fmt.Errorf("card version %d@%d: %w", version.CardID, version.Version, apperrors.ErrConflict)
		}
	}
	version.ID = r.s.id()
	version.CreatedAt = time.Now()
	c := *version
	c.Diff.Fields = slices.Clone(version.Diff.Fields)
	r.s.cardVersions = append(r.s.cardVersions, &c)
	return nil
}

func (r *fakeCardRepo) ListVersions(_ context.Context, cardID int64) ([]*models.CardVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.CardVersion
	for _, v := range r.s.cardVersions {
		if v.CardID == cardID {
			c := *v
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.CardVersion) int { return cmp.Compare(b.Version, a.Version) })
	return out, nil
}

// matches applies every filter except the search string.
func (r *fakeCardRepo) matches(c *models.NomenclatureCard, filter models.CardFilter) bool {
	if filter.NodeID != nil && (c.NodeID == nil || *c.NodeID != *filter.NodeID) {
		return false
	}
	if filter.LifecycleStatus != nil && c.LifecycleStatus != *filter.LifecycleStatus {
		return false
	}
	if filter.Manufacturer != "" && (c.Manufacturer == nil ||
		!strings.Contains(strings.ToLower(*c.Manufacturer), strings.ToLower(filter.Manufacturer))) {
		return false
	}
	if filter.Code != "" && !strings.EqualFold(c.Code, filter.Code) {
		return false
	}
	if filter.HasMethodology != nil && (len(c.MethodologyIDs) > 0) != *filter.HasMethodology {
		return false
	}
	return true
}

// textScore stands in for trigram similarity: 1 for a name or code
// substring match, otherwise 0.
func textScore(c *models.NomenclatureCard, search string) float64 {
	s := strings.ToLower(search)
	if strings.Contains(strings.ToLower(c.CanonicalName), s) || strings.Contains(strings.ToLower(c.Code), s) {
		return 1
	}
	return 0
}

func (r *fakeCardRepo) List(_ context.Context, filter models.CardFilter) ([]*models.NomenclatureCard, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.NomenclatureCard
	for _, c := range r.s.cards {
		if !r.matches(c, filter) {
			continue
		}
		card := c.Clone()
		card.Embedding = nil
		if filter.Search != "" {
			score := textScore(c, filter.Search)
			if score == 0 {
				continue
			}
			card.SearchConfidence = &score
		}
		out = append(out, card)
	}
	slices.SortFunc(out, func(a, b *models.NomenclatureCard) int {
		c := cmp.Compare(a.Code, b.Code)
		if filter.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	total := len(out)
	start := min((filter.Page-1)*filter.PageSize, total)
	end := min(start+filter.PageSize, total)
	return out[start:end], total, nil
}

func (r *fakeCardRepo) ListForRanking(_ context.Context, filter models.CardFilter, requireEmbedding bool, limit int) ([]*models.NomenclatureCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.NomenclatureCard
	for _, c := range r.s.cards {
		if !r.matches(c, filter) || (requireEmbedding && len(c.Embedding) == 0) {
			continue
		}
		card := c.Clone()
		if filter.Search != "" {
			score := textScore(c, filter.Search)
			card.SearchConfidence = &score
		}
		out = append(out, card)
	}
	slices.SortFunc(out, func(a, b *models.NomenclatureCard) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ============================================================================
// Cache and Embedder
// ============================================================================

// failingCache is a SchemaCache whose backend is always down.
type failingCache struct {
	mu    sync.Mutex
	calls int
}

var errCacheDown = errors.New("cache backend unavailable")

func (c *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, false, errCacheDown
}

func (c *failingCache) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return errCacheDown
}

func (c *failingCache) Delete(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return errCacheDown
}

// fakeEmbedder returns fixed vectors per text, or err when set.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   []string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}
