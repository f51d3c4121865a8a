package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/models"
)

func TestRelationRepositoryPairIsUnique(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRelationRepository(db)
	ctx := context.Background()

	first := models.Relation{FromID: "a", ToID: "b", Type: models.RelationFollow}
	require.NoError(t, repo.Create(ctx, &first))

	duplicate := models.Relation{FromID: "a", ToID: "b", Type: models.RelationBlock}
	require.ErrorIs(t, repo.Create(ctx, &duplicate), gorm.ErrDuplicatedKey)

	require.NoError(t, repo.UpdateType(ctx, &first, models.RelationBlock))
	stored, err := repo.FindPair(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, models.RelationBlock, stored.Type)

	_, err = repo.FindPair(ctx, "b", "a")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRelationRepositoryListsAndCounts(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRelationRepository(db)
	ctx := context.Background()

	for _, relation := range []models.Relation{
		{FromID: "a", ToID: "c", Type: models.RelationFollow},
		{FromID: "b", ToID: "c", Type: models.RelationFollow},
		{FromID: "c", ToID: "a", Type: models.RelationBlock},
	} {
		relation := relation
		require.NoError(t, repo.Create(ctx, &relation))
	}

	followers, err := repo.ListTo(ctx, "c", models.RelationFollow)
	require.NoError(t, err)
	require.Len(t, followers, 2)

	count, err := repo.CountTo(ctx, "c", models.RelationFollow)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	count, err = repo.CountFrom(ctx, "c", models.RelationFollow)
	require.NoError(t, err)
	require.Zero(t, count)

	between, err := repo.ListBetween(ctx, "a", "c")
	require.NoError(t, err)
	require.Len(t, between, 2)

	removed, err := repo.DeletePair(ctx, "c", "a", models.RelationFollow)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = repo.DeletePair(ctx, "c", "a", models.RelationBlock)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
