package gormpersistence_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collaborative-sketchpad/internal/domain"
	gormpersistence "collaborative-sketchpad/internal/infra/persistence/gorm"
	"collaborative-sketchpad/internal/infra/setup"
	"collaborative-sketchpad/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, setup.MigrateDB(db))
	return db
}

func TestGormUserRepository_SaveAndFind(t *testing.T) {
	repo := gormpersistence.NewGormUserRepository(newTestDB(t))
	ctx := context.Background()

	user := &domain.User{Username: "alice", Password: "hash", Email: "alice@example.com"}
	require.NoError(t, repo.Save(ctx, user))
	require.NotZero(t, user.ID)

	found, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	byID, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	_, err = repo.FindByUsername(ctx, "bob")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	dup := &domain.User{Username: "alice", Password: "x", Email: "other@example.com"}
	assert.ErrorIs(t, repo.Save(ctx, dup), repository.ErrDuplicateEntry)
}

func TestGormSketchpadRepository_CreateFindSnapshot(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormSketchpadRepository(db)
	strokes := gormpersistence.NewGormStrokeRepository(db)
	ctx := context.Background()

	drawn := &domain.Sketchpad{PublicID: "pad-1", CreatedBy: "1"}
	empty := &domain.Sketchpad{PublicID: "pad-2", CreatedBy: "1"}
	require.NoError(t, repo.Create(ctx, drawn))
	require.NoError(t, repo.Create(ctx, empty))
	assert.ErrorIs(t, repo.Create(ctx, &domain.Sketchpad{PublicID: "pad-1", CreatedBy: "2"}), repository.ErrDuplicateEntry)

	got, err := repo.FindByPublicID(ctx, "pad-1")
	require.NoError(t, err)
	assert.Equal(t, drawn.ID, got.ID)
	assert.Nil(t, got.SnapshotAt)

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrSketchpadNotFound)

	require.NoError(t, strokes.ApplyBatch(ctx, drawn.ID, []domain.Action{dot(1, "1")}))
	stale, err := repo.ListStaleSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{drawn.ID}, stale)

	require.NoError(t, repo.SaveSnapshot(ctx, drawn.ID, "data:image/png;base64,AAAA", time.Now().Add(time.Hour)))
	got, err = repo.FindByID(ctx, drawn.ID)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", got.Snapshot)
	require.NotNil(t, got.SnapshotAt)

	stale, err = repo.ListStaleSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	assert.ErrorIs(t, repo.SaveSnapshot(ctx, 999, "x", time.Now()), repository.ErrSketchpadNotFound)
}

func TestGormStrokeRepository_ApplyBatchKeepsOrderAndJSON(t *testing.T) {
	repo := gormpersistence.NewGormStrokeRepository(newTestDB(t))
	ctx := context.Background()

	rect := domain.Action{ID: 1, Kind: domain.KindFilledRect, User: "u", Params: domain.Params{
		InitialCoordinates: &domain.Point{X: 1, Y: 2},
		CurrentCoordinates: &domain.Point{X: 30, Y: 40},
		StrokeColor:        "#FF0000",
	}}
	require.NoError(t, repo.ApplyBatch(ctx, 7, []domain.Action{rect, dot(2, "u")}))

	records, err := repo.ListBySketchpad(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].LocalStrokeID)
	assert.Equal(t, "fillRect", records[0].Kind)

	var decoded domain.Action
	require.NoError(t, json.Unmarshal(records[0].Stroke, &decoded))
	assert.Equal(t, rect, decoded)

	other, err := repo.ListBySketchpad(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGormStrokeRepository_ApplyBatchInsertsInChunks(t *testing.T) {
	repo := gormpersistence.NewGormStrokeRepository(newTestDB(t))
	ctx := context.Background()

	actions := make([]domain.Action, 250)
	for i := range actions {
		actions[i] = dot(i+1, "u")
	}
	require.NoError(t, repo.ApplyBatch(ctx, 1, actions))

	records, err := repo.ListBySketchpad(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 250)
	assert.Equal(t, 250, records[249].LocalStrokeID)
}

func TestGormStrokeRepository_DeletionInstructions(t *testing.T) {
	repo := gormpersistence.NewGormStrokeRepository(newTestDB(t))
	ctx := context.Background()

	// u 画一个矩形，然后拖动它 (deleteOne 原图形 + 新图形)，最后撤销拖动
	rect := domain.Action{ID: 1, Kind: domain.KindFilledRect, User: "u", Params: domain.Params{
		InitialCoordinates: &domain.Point{X: 0, Y: 0},
		CurrentCoordinates: &domain.Point{X: 10, Y: 10},
	}}
	require.NoError(t, repo.ApplyBatch(ctx, 1, []domain.Action{rect}))

	moved := rect.Clone()
	moved.ID = 4
	move := []domain.Action{
		{ID: 2, Kind: domain.KindGroupStart, User: "u"},
		{ID: 3, Kind: domain.KindDeleteOne, User: "u", Params: domain.Params{LocalID: domain.IntPtr(1), CreatedBy: "u"}},
		moved,
		{ID: 5, Kind: domain.KindGroupEnd, User: "u"},
		{ID: 6, Kind: domain.KindTemplate, User: "u", Params: domain.Params{ImgSrc: ""}},
	}
	require.NoError(t, repo.ApplyBatch(ctx, 1, move))
	assert.Equal(t, map[int]bool{1: true, 2: false, 3: false, 4: false, 5: false, 6: false}, deletedByID(t, repo, 1))

	undo := domain.Action{ID: 7, Kind: domain.KindDeleteMany, User: "u", Params: domain.Params{
		Start:     domain.IntPtr(2),
		End:       domain.IntPtr(6),
		CreatedBy: "u",
		Restore:   &domain.Ref{LocalID: 1, CreatedBy: "u"},
	}}
	require.NoError(t, repo.ApplyBatch(ctx, 1, []domain.Action{undo}))
	assert.Equal(t, map[int]bool{1: false, 2: true, 3: true, 4: true, 5: true, 6: false, 7: false}, deletedByID(t, repo, 1))
}

func TestGormStrokeRepository_SkipsUndoneDeletion(t *testing.T) {
	repo := gormpersistence.NewGormStrokeRepository(newTestDB(t))
	ctx := context.Background()

	del := domain.Action{ID: 2, Kind: domain.KindDeleteOne, User: "u", Deleted: true,
		Params: domain.Params{LocalID: domain.IntPtr(1), CreatedBy: "u"}}
	require.NoError(t, repo.ApplyBatch(ctx, 1, []domain.Action{dot(1, "u"), del}))
	assert.Equal(t, map[int]bool{1: false, 2: true}, deletedByID(t, repo, 1))
}

func dot(id int, user string) domain.Action {
	return domain.Action{ID: id, Kind: domain.KindDot, User: user, Params: domain.Params{
		CurrentCoordinates: &domain.Point{X: float64(id), Y: 1},
	}}
}

func deletedByID(t *testing.T, repo *gormpersistence.GormStrokeRepository, sketchpadID uint) map[int]bool {
	t.Helper()
	records, err := repo.ListBySketchpad(context.Background(), sketchpadID)
	require.NoError(t, err)
	out := make(map[int]bool, len(records))
	for _, r := range records {
		out[r.LocalStrokeID] = r.Deleted
	}
	return out
}
