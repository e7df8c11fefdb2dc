package models

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteSupportProcessWithDocumentsConflicts(t *testing.T) {
	env := setupTestEnv(t)
	d := env.direction(t, "D1")
	p := env.process(t, "P1", d.ID)
	env.document(t, "a", p)
	env.document(t, "b", p)

	_, err := DeleteSupportProcess(env.adminCtx(), p.ID)
	var conflict *utils.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, int64(2), conflict.DependentCount)

	stats, err := GetProcessStats(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DocumentCount)
}

func TestDeleteEmptySupportProcess(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	d := env.direction(t, "D1")
	p := env.process(t, "P1", d.ID)

	stats, err := GetDirectionStats(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ProcessCount)

	_, err = DeleteSupportProcess(env.adminCtx(), p.ID)
	require.NoError(t, err)

	stats, err = GetDirectionStats(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ProcessCount)
	list, err := ListSupportProcesses(ctx, &d.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReassignSupportProcessMovesDocuments(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	d1 := env.direction(t, "D1")
	d2 := env.direction(t, "D2")
	p := env.process(t, "P1", d1.ID)
	doc := env.document(t, "a", p)
	env.document(t, "b", p)

	// warm listings and aggregates on both sides
	page, err := SearchDocuments(ctx, DocumentFilter{DirectionId: &d1.ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.TotalCount)
	_, err = GetDirectionStats(ctx, d2.ID)
	require.NoError(t, err)
	_, err = GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	_, err = ListSupportProcesses(ctx, &d2.ID)
	require.NoError(t, err)

	_, err = UpdateSupportProcess(env.adminCtx(), p.ID, &NewSupportProcess{Name: "Process P1", Code: "P1", DirectionId: &d2.ID})
	require.NoError(t, err)

	assertStatsConsistent(t, env)
	page, err = SearchDocuments(ctx, DocumentFilter{DirectionId: &d1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.TotalCount)
	page, err = SearchDocuments(ctx, DocumentFilter{DirectionId: &d2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)

	moved, err := GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, d2.ID, moved.DirectionId)

	list, err := ListSupportProcesses(ctx, &d2.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestDetachSupportProcessWithDocumentsConflicts(t *testing.T) {
	env := setupTestEnv(t)
	d := env.direction(t, "D1")
	p := env.process(t, "P1", d.ID)
	env.document(t, "a", p)

	_, err := UpdateSupportProcess(env.adminCtx(), p.ID, &NewSupportProcess{Name: "Process P1", Code: "P1"})
	var conflict *utils.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)

	got, err := GetSupportProcess(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, *got.DirectionId)
}

func TestCreateSupportProcessUnknownDirection(t *testing.T) {
	env := setupTestEnv(t)

	_, err := CreateSupportProcess(env.adminCtx(), &NewSupportProcess{Name: "Orphan", Code: "ORPH", DirectionId: utils.Ptr(42)})
	var verr *utils.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Contains(t, verr.Fields, "direction_id")
}

func TestToggleActiveSupportProcessRefreshesListing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	d := env.direction(t, "D1")
	p := env.process(t, "P1", d.ID)

	list, err := ListSupportProcesses(ctx, nil)
	require.NoError(t, err)
	require.True(t, *list[0].IsActive)

	_, err = ToggleActiveSupportProcess(env.adminCtx(), p.ID, false)
	require.NoError(t, err)

	list, err = ListSupportProcesses(ctx, nil)
	require.NoError(t, err)
	assert.False(t, *list[0].IsActive)
	list, err = ListSupportProcesses(ctx, &d.ID)
	require.NoError(t, err)
	assert.False(t, *list[0].IsActive)
}
