package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatehub/internal/domain"
	"estatehub/internal/store/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sqlite.Open(ctx, fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db))
	// Running it twice must be harmless.
	require.NoError(t, sqlite.Migrate(ctx, db))
	return db
}

func createUser(t *testing.T, repo *sqlite.UserRepo, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, DisplayName: "Display " + name, HashedPassword: "x"}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

type fixture struct {
	db       *sql.DB
	users    *sqlite.UserRepo
	convs    *sqlite.ConversationRepo
	parts    *sqlite.ParticipantRepo
	messages *sqlite.MessageRepo
	sender   *domain.User
	viewers  []*domain.User
	conv     *domain.Conversation
	taskID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := openTestDB(t)
	f := &fixture{
		db:       db,
		users:    sqlite.NewUserRepo(db),
		convs:    sqlite.NewConversationRepo(db),
		parts:    sqlite.NewParticipantRepo(db),
		messages: sqlite.NewMessageRepo(db),
	}
	f.sender = createUser(t, f.users, "agent")
	f.viewers = []*domain.User{createUser(t, f.users, "client1"), createUser(t, f.users, "client2")}

	res, err := db.ExecContext(ctx, `INSERT INTO listings (title) VALUES ('12 Rue des Lilas')`)
	require.NoError(t, err)
	listingID, _ := res.LastInsertId()
	res, err = db.ExecContext(ctx, `INSERT INTO tasks (listing_id, title) VALUES (?, 'Schedule visit')`, listingID)
	require.NoError(t, err)
	f.taskID, _ = res.LastInsertId()

	f.conv = &domain.Conversation{ListingID: &listingID, Title: "Lilas"}
	require.NoError(t, f.convs.Create(ctx, f.conv, []domain.Assignment{
		{UserID: f.sender.ID, Role: domain.RoleAgent},
		{UserID: f.viewers[0].ID, Role: domain.RoleClient},
		{UserID: f.viewers[1].ID, Role: domain.RoleClient},
	}))
	return f
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM `+table).Scan(&n))
	return n
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := sqlite.NewUserRepo(db)

	u := createUser(t, repo, "alice")
	assert.NotZero(t, u.ID)

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.IsOnline)

	require.NoError(t, repo.SetOnlineStatus(ctx, u.ID, true))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepo_ClearOnlineStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := sqlite.NewUserRepo(db)

	a, b := createUser(t, repo, "alice"), createUser(t, repo, "bob")
	createUser(t, repo, "carol")
	require.NoError(t, repo.SetOnlineStatus(ctx, a.ID, true))
	require.NoError(t, repo.SetOnlineStatus(ctx, b.ID, true))

	n, err := repo.ClearOnlineStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []int64{a.ID, b.ID} {
		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.IsOnline)
	}

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParticipantRepo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.parts.IsParticipant(ctx, f.conv.ID, f.sender.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.parts.IsParticipant(ctx, f.conv.ID, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := f.parts.ListParticipantIDs(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.sender.ID, f.viewers[0].ID, f.viewers[1].ID}, ids)

	convs, err := f.convs.ListForUser(ctx, f.viewers[1].ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Lilas", convs[0].Title)
}

func TestCreateWithReceipts_WritesEverythingTogether(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given a conversation last touched long ago
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, old, f.conv.ID)
	require.NoError(t, err)

	// When the sender posts with a task attachment while both clients view the thread
	msg := &domain.Message{ConversationID: f.conv.ID, SenderID: f.sender.ID, Content: "ciphertext"}
	atts := []domain.Attachment{{TaskID: &f.taskID}}
	readers := []int64{f.sender.ID, f.viewers[0].ID, f.viewers[1].ID}
	require.NoError(t, f.messages.CreateWithReceipts(ctx, msg, atts, readers))

	// Then one message, one attachment and three read rows exist
	assert.NotZero(t, msg.ID)
	assert.Equal(t, 1, countRows(t, f.db, "messages"))
	assert.Equal(t, 1, countRows(t, f.db, "message_attachments"))
	assert.Equal(t, 3, countRows(t, f.db, "message_reads"))
	assert.Equal(t, msg.ID, atts[0].MessageID)

	conv, err := f.convs.GetByID(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.True(t, conv.UpdatedAt.After(old))

	detail, err := f.messages.GetDetail(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent", detail.SenderUsername)
	assert.ElementsMatch(t, readers, detail.ReadBy)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "Schedule visit", detail.Attachments[0].Label)
}

func TestCreateWithReceipts_DuplicateReadersCollapse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg := &domain.Message{ConversationID: f.conv.ID, SenderID: f.sender.ID, Content: "c"}
	require.NoError(t, f.messages.CreateWithReceipts(ctx, msg, nil, []int64{f.sender.ID, f.sender.ID}))
	assert.Equal(t, 1, countRows(t, f.db, "message_reads"))
}

func TestCreateWithReceipts_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// An attachment pointing at a missing task fails after the message insert
	missing := int64(4242)
	msg := &domain.Message{ConversationID: f.conv.ID, SenderID: f.sender.ID, Content: "c"}
	err := f.messages.CreateWithReceipts(ctx, msg,
		[]domain.Attachment{{TaskID: &missing}},
		[]int64{f.sender.ID, f.viewers[0].ID, f.viewers[1].ID},
	)
	require.Error(t, err)

	assert.Equal(t, 0, countRows(t, f.db, "messages"))
	assert.Equal(t, 0, countRows(t, f.db, "message_attachments"))
	assert.Equal(t, 0, countRows(t, f.db, "message_reads"))
}

func TestCreateWithReceipts_UnknownConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg := &domain.Message{ConversationID: 777, SenderID: f.sender.ID, Content: "c"}
	err := f.messages.CreateWithReceipts(ctx, msg, nil, []int64{f.sender.ID})
	require.Error(t, err)
	assert.Equal(t, 0, countRows(t, f.db, "messages"))
}

func TestCreateWithReceipts_RejectsAmbiguousAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg := &domain.Message{ConversationID: f.conv.ID, SenderID: f.sender.ID, Content: "c"}
	err := f.messages.CreateWithReceipts(ctx, msg, []domain.Attachment{{}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAttachment)
	assert.Equal(t, 0, countRows(t, f.db, "messages"))
}

func TestListForConversation_PagesBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		msg := &domain.Message{ConversationID: f.conv.ID, SenderID: f.sender.ID, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, f.messages.CreateWithReceipts(ctx, msg, nil, []int64{f.sender.ID}))
		ids = append(ids, msg.ID)
	}

	page, err := f.messages.ListForConversation(ctx, f.conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = f.messages.ListForConversation(ctx, f.conv.ID, page[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, []int64{f.sender.ID}, page[0].ReadBy)
}
