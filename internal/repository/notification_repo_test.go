package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sayit-api/internal/models"
)

func TestNotificationRepositoryListAndReadState(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	older := models.Notification{UserID: "u1", Type: models.NotificationFollow, Data: map[string]interface{}{"actor_name": "Bob"}, CreatedAt: base}
	newer := models.Notification{UserID: "u1", Type: models.NotificationMessage, Data: map[string]interface{}{"anonymous": true}, CreatedAt: base.Add(time.Minute)}
	foreign := models.Notification{UserID: "u2", Type: models.NotificationReply, CreatedAt: base}
	require.NoError(t, repo.Create(ctx, &older))
	require.NoError(t, repo.Create(ctx, &newer))
	require.NoError(t, repo.Create(ctx, &foreign))

	items, err := repo.ListByUser(ctx, "u1", 10, 0, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, newer.ID, items[0].ID)
	require.Equal(t, true, items[0].Data["anonymous"])

	require.NoError(t, repo.MarkRead(ctx, &older))
	unread, err := repo.ListByUser(ctx, "u1", 10, 0, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, newer.ID, unread[0].ID)

	count, err := repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	updated, err := repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), updated)

	updated, err = repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestNotificationRepositoryDeleteReadBefore(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	oldRead := models.Notification{UserID: "u1", Type: models.NotificationFollow, IsRead: true, CreatedAt: base.Add(-48 * time.Hour)}
	oldUnread := models.Notification{UserID: "u1", Type: models.NotificationFollow, CreatedAt: base.Add(-48 * time.Hour)}
	recentRead := models.Notification{UserID: "u1", Type: models.NotificationFollow, IsRead: true, CreatedAt: base}
	require.NoError(t, repo.Create(ctx, &oldRead))
	require.NoError(t, repo.Create(ctx, &oldUnread))
	require.NoError(t, repo.Create(ctx, &recentRead))

	deleted, err := repo.DeleteReadBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, oldRead.ID)
	require.Error(t, err)
}
