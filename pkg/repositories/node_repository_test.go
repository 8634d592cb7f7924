//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/testhelpers"
)

func setupRepoTest(t *testing.T) (context.Context, func()) {
	t.Helper()
	tdb := testhelpers.GetTestDB(t)
	tdb.Truncate(t)
	return tdb.ScopedContext(t)
}

func createTestNode(t *testing.T, ctx context.Context, repo NodeRepository, code string, parent *models.ClassifierNode) *models.ClassifierNode {
	t.Helper()
	node := &models.ClassifierNode{
		Code:          code,
		Name:          "Node " + code,
		NodeType:      models.NodeTypeSegment,
		Version:       1,
		Status:        models.NodeStatusDraft,
		EffectiveFrom: time.Now().UTC(),
		Metadata:      map[string]any{},
	}
	if parent != nil {
		node.ParentID = &parent.ID
		node.Depth = parent.Depth + 1
		node.NodeType = models.NodeTypeFamily
	}
	require.NoError(t, repo.Create(ctx, node))
	return node
}

func TestNodeRepository_CreateAndGet(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	node := createTestNode(t, ctx, repo, "AA", nil)
	assert.NotZero(t, node.ID)

	got, err := repo.GetByID(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "AA", got.Code)
	assert.Equal(t, models.NodeTypeSegment, got.NodeType)
	assert.Equal(t, 1, got.Version)
	assert.Nil(t, got.ParentID)

	byCode, err := repo.GetByCode(ctx, "AA")
	require.NoError(t, err)
	assert.Equal(t, node.ID, byCode.ID)
}

func TestNodeRepository_DuplicateCode(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	createTestNode(t, ctx, repo, "AA", nil)

	dup := &models.ClassifierNode{Code: "AA", Name: "dup", NodeType: models.NodeTypeSegment, Version: 1, Status: models.NodeStatusDraft, EffectiveFrom: time.Now()}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestNodeRepository_GetByID_NotFound(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	_, err := NewNodeRepository().GetByID(ctx, 424242)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNodeRepository_ListFiltersAndOrders(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	root := createTestNode(t, ctx, repo, "BB", nil)
	createTestNode(t, ctx, repo, "AA", nil)
	createTestNode(t, ctx, repo, "BB-02", root)
	createTestNode(t, ctx, repo, "BB-01", root)

	all, err := repo.List(ctx, models.NodeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"AA", "BB", "BB-01", "BB-02"}, nodeCodes(all))

	children, err := repo.List(ctx, models.NodeFilter{ParentID: &root.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"BB-01", "BB-02"}, nodeCodes(children))

	depth := 0
	roots, err := repo.List(ctx, models.NodeFilter{Depth: &depth})
	require.NoError(t, err)
	assert.Equal(t, []string{"AA", "BB"}, nodeCodes(roots))
}

func TestNodeRepository_ListSubtreeIDs(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	root := createTestNode(t, ctx, repo, "AA", nil)
	child := createTestNode(t, ctx, repo, "AA-01", root)
	grandchild := createTestNode(t, ctx, repo, "AA-01-01", child)
	createTestNode(t, ctx, repo, "BB", nil)

	ids, err := repo.ListSubtreeIDs(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID, child.ID, grandchild.ID}, ids)
}

func TestNodeRepository_Snapshots(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	node := createTestNode(t, ctx, repo, "AA", nil)
	require.NoError(t, repo.CreateSnapshot(ctx, node.Snapshot()))

	closedAt := time.Now().UTC()
	require.NoError(t, repo.CloseSnapshot(ctx, node.ID, 1, closedAt))

	node.Version = 2
	node.Name = "Renamed"
	require.NoError(t, repo.Update(ctx, node))
	require.NoError(t, repo.CreateSnapshot(ctx, node.Snapshot()))

	snapshots, err := repo.ListSnapshots(ctx, node.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, 2, snapshots[0].Version)
	assert.Equal(t, "Renamed", snapshots[0].Name)
	assert.Nil(t, snapshots[0].EffectiveTo)
	require.NotNil(t, snapshots[1].EffectiveTo)
	assert.WithinDuration(t, closedAt, *snapshots[1].EffectiveTo, time.Millisecond)

	err = repo.CreateSnapshot(ctx, node.Snapshot())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestNodeRepository_CloseSnapshot_ClampsFutureEnd(t *testing.T) {
	ctx, cleanup := setupRepoTest(t)
	defer cleanup()

	repo := NewNodeRepository()
	closedAt := time.Now().UTC().Truncate(time.Microsecond)

	future := createTestNode(t, ctx, repo, "AA", nil)
	until := closedAt.AddDate(1, 0, 0)
	future.EffectiveTo = &until
	require.NoError(t, repo.CreateSnapshot(ctx, future.Snapshot()))

	past := createTestNode(t, ctx, repo, "BB", nil)
	earlier := closedAt.Add(-time.Hour)
	past.EffectiveTo = &earlier
	require.NoError(t, repo.CreateSnapshot(ctx, past.Snapshot()))

	require.NoError(t, repo.CloseSnapshot(ctx, future.ID, 1, closedAt))
	require.NoError(t, repo.CloseSnapshot(ctx, past.ID, 1, closedAt))

	snapshots, err := repo.ListSnapshots(ctx, future.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.NotNil(t, snapshots[0].EffectiveTo)
	assert.WithinDuration(t, closedAt, *snapshots[0].EffectiveTo, time.Millisecond)

	snapshots, err = repo.ListSnapshots(ctx, past.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.NotNil(t, snapshots[0].EffectiveTo)
	assert.WithinDuration(t, earlier, *snapshots[0].EffectiveTo, time.Millisecond)
}

func nodeCodes(nodes []*models.ClassifierNode) []string {
	codes := make([]string, len(nodes))
	for i, n := range nodes {
		codes[i] = n.Code
	}
	return codes
}
