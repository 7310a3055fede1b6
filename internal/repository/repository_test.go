package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragchat/internal/model"
)

func setupRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	repos := New(db)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.Error(t, err)
}

func TestUserEnsureIsIdempotent(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	u1, err := repos.Users.Ensure(ctx, 7)
	require.NoError(t, err)
	u2, err := repos.Users.Ensure(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)

	n, err := repos.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	missing, err := repos.Users.GetByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDocumentLookups(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	doc := &model.Document{UserID: 1, Filename: "a.pdf", ContentHash: "abc"}
	require.NoError(t, repos.Documents.Create(ctx, doc))
	require.NotZero(t, doc.ID)

	got, err := repos.Documents.GetByHash(ctx, 1, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)

	other, err := repos.Documents.GetByIDAndUserID(ctx, doc.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, other, "documents are scoped to their owner")

	require.NoError(t, repos.Documents.UpdateCollectionRef(ctx, doc.ID, "user_1_default"))
	byName, err := repos.Documents.GetByFilename(ctx, 1, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "user_1_default", byName.CollectionRef)

	require.NoError(t, repos.Documents.DeleteByIDAndUserID(ctx, doc.ID, 1))
	n, err := repos.Documents.CountByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecentMessagesAndSaveReply(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	conv := &model.Conversation{UserID: 1}
	require.NoError(t, repos.Conversations.Create(ctx, conv))

	var last *model.Message
	for i := 0; i < 12; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		last = &model.Message{ConversationID: conv.ID, Role: role, Content: string(rune('a' + i))}
		require.NoError(t, repos.Messages.Create(ctx, last))
	}

	recent, err := repos.Messages.Recent(ctx, conv.ID, 10, last.ID)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, "b", recent[0].Content)
	assert.Equal(t, "k", recent[9].Content)

	reply := &model.Message{ConversationID: conv.ID, Role: model.RoleAssistant, Content: "done", ModelUsed: "gpt-4"}
	require.NoError(t, repos.Messages.SaveReply(ctx, reply, "First question"))
	assert.NotZero(t, reply.ID)

	got, err := repos.Conversations.GetByIDAndUserID(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "First question", got.Title)

	// empty title leaves it alone
	require.NoError(t, repos.Messages.SaveReply(ctx, &model.Message{ConversationID: conv.ID, Role: model.RoleAssistant, Content: "x"}, ""))
	got, err = repos.Conversations.GetByIDAndUserID(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "First question", got.Title)
}

func TestAPIKeyUpsertAndDelete(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.APIKeys.Upsert(ctx, &model.APIKey{UserID: 1, Provider: "openai", EncryptedKey: "one"}))
	require.NoError(t, repos.APIKeys.Upsert(ctx, &model.APIKey{UserID: 1, Provider: "openai", EncryptedKey: "two"}))

	keys, err := repos.APIKeys.ListByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "two", keys[0].EncryptedKey)

	removed, err := repos.APIKeys.Delete(ctx, 1, "openai")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repos.APIKeys.Delete(ctx, 1, "openai")
	require.NoError(t, err)
	assert.False(t, removed)

	missing, err := repos.APIKeys.Get(ctx, 1, "openai")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDocumentDeleteWithRollsBack(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	doc := &model.Document{UserID: 1, Filename: "a.pdf", ContentHash: "abc"}
	require.NoError(t, repos.Documents.Create(ctx, doc))

	err := repos.Documents.DeleteWith(ctx, doc.ID, 1, func(context.Context) error {
		return errors.New("vectors still there")
	})
	require.Error(t, err)
	kept, err := repos.Documents.GetByIDAndUserID(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	called := false
	require.NoError(t, repos.Documents.DeleteWith(ctx, doc.ID, 1, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	gone, err := repos.Documents.GetByIDAndUserID(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
