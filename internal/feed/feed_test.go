package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/lan-chat/internal/database"
	"github.com/npezzotti/lan-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = database.User{Id: 1, Name: "A", Image: "/images/image-1.png", BgColor: "#fff"}
	bob   = database.User{Id: 2, Name: "B", Image: "/images/image-2.png", BgColor: "#000"}

	day1 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func at(d time.Duration) time.Time {
	return day1.Add(d)
}

func ptr[T any](v T) *T {
	return &v
}

func kinds(items []types.FeedItem) []types.FeedItemType {
	out := make([]types.FeedItemType, len(items))
	for i, it := range items {
		out[i] = it.Type
	}
	return out
}

func TestBuild_Scenario(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice, bob},
		Messages: []database.Message{
			{Id: 1, UserId: alice.Id, Content: "hi", CreatedAt: at(0)},
			{Id: 2, UserId: bob.Id, Content: "yo", CreatedAt: at(time.Minute)},
		},
	}

	items, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []types.FeedItemType{types.FeedItemDate, types.FeedItemMessage, types.FeedItemMessage}, kinds(items))
	assert.Equal(t, "2025-03-01", items[0].Date)
	assert.Equal(t, "hi", items[1].Message)
	assert.False(t, items[1].IsContinue)
	assert.True(t, items[1].IsMine)
	assert.Equal(t, "yo", items[2].Message)
	assert.False(t, items[2].IsContinue)
	assert.False(t, items[2].IsMine)

	snap.Messages = append(snap.Messages, database.Message{Id: 3, UserId: alice.Id, Content: "there", CreatedAt: at(2 * time.Minute)})
	items, err = Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "there", items[3].Message)
	assert.False(t, items[3].IsContinue, "expected author change to break continuation")
}

func TestBuild_Continuation(t *testing.T) {
	tcases := []struct {
		name     string
		messages []database.Message
		logs     []database.LogEntry
		// expected isContinue for each MSG item in feed order
		expected []bool
	}{
		{
			name: "same author run",
			messages: []database.Message{
				{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: at(0)},
				{Id: 2, UserId: alice.Id, Content: "b", CreatedAt: at(time.Second)},
				{Id: 3, UserId: alice.Id, Content: "c", CreatedAt: at(2 * time.Second)},
			},
			expected: []bool{false, true, true},
		},
		{
			name: "log breaks run",
			messages: []database.Message{
				{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: at(0)},
				{Id: 2, UserId: alice.Id, Content: "b", CreatedAt: at(2 * time.Second)},
			},
			logs: []database.LogEntry{
				{Id: 1, UserId: bob.Id, Action: database.ActionNameChange, Details: "x", CreatedAt: at(time.Second)},
			},
			expected: []bool{false, false},
		},
		{
			name: "date breaks run",
			messages: []database.Message{
				{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: at(0)},
				{Id: 2, UserId: alice.Id, Content: "b", CreatedAt: at(24 * time.Hour)},
			},
			expected: []bool{false, false},
		},
		{
			name: "deleted predecessor breaks run",
			messages: []database.Message{
				{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: at(0)},
				{Id: 2, UserId: alice.Id, CreatedAt: at(time.Second), DeletedAt: ptr(at(time.Minute))},
				{Id: 3, UserId: alice.Id, Content: "c", CreatedAt: at(2 * time.Second)},
			},
			expected: []bool{false, true, false},
		},
		{
			name: "alternating authors",
			messages: []database.Message{
				{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: at(0)},
				{Id: 2, UserId: bob.Id, Content: "b", CreatedAt: at(time.Second)},
				{Id: 3, UserId: bob.Id, Content: "c", CreatedAt: at(2 * time.Second)},
				{Id: 4, UserId: alice.Id, Content: "d", CreatedAt: at(3 * time.Second)},
			},
			expected: []bool{false, false, true, false},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			snap := database.Snapshot{
				Users:    []database.User{alice, bob},
				Messages: tc.messages,
				Logs:     tc.logs,
			}

			items, err := Build(snap, bob.Id, time.UTC)
			require.NoError(t, err)

			var got []bool
			for _, it := range items {
				if it.Type == types.FeedItemMessage {
					got = append(got, it.IsContinue)
				}
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestBuild_Ordering(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice, bob},
		// deliberately out of order
		Messages: []database.Message{
			{Id: 4, UserId: bob.Id, Content: "day2", CreatedAt: at(25 * time.Hour)},
			{Id: 2, UserId: alice.Id, Content: "tie-b", CreatedAt: at(time.Hour)},
			{Id: 1, UserId: alice.Id, Content: "tie-a", CreatedAt: at(time.Hour)},
			{Id: 3, UserId: bob.Id, Content: "later", CreatedAt: at(2 * time.Hour)},
		},
		Logs: []database.LogEntry{
			{Id: 1, UserId: alice.Id, Details: "early log", CreatedAt: at(0)},
			{Id: 2, UserId: alice.Id, Details: "tie log", CreatedAt: at(time.Hour)},
		},
	}

	items, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)

	var order []string
	for _, it := range items {
		switch it.Type {
		case types.FeedItemDate:
			order = append(order, "DATE "+it.Date)
		default:
			order = append(order, it.Message)
		}
	}

	assert.Equal(t, []string{
		"early log",
		"DATE 2025-03-01",
		"tie-a",
		"tie-b",
		"tie log",
		"later",
		"DATE 2025-03-02",
		"day2",
	}, order)

	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].CreatedAt.Before(items[i-1].CreatedAt), "expected non-decreasing timestamps at %d", i)
	}
}

func TestBuild_DisplayTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 16:00 and 14:00 UTC on the same UTC day straddle midnight in Seoul (UTC+9)
	snap := database.Snapshot{
		Users: []database.User{alice},
		Messages: []database.Message{
			{Id: 1, UserId: alice.Id, Content: "a", CreatedAt: time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)},
			{Id: 2, UserId: alice.Id, Content: "b", CreatedAt: time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)},
		},
	}

	items, err := Build(snap, alice.Id, seoul)
	require.NoError(t, err)
	assert.Equal(t, []types.FeedItemType{
		types.FeedItemDate, types.FeedItemMessage, types.FeedItemDate, types.FeedItemMessage,
	}, kinds(items))
	assert.Equal(t, "2025-03-01", items[0].Date)
	assert.Equal(t, "2025-03-02", items[2].Date)

	items, err = Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	assert.Len(t, items, 3, "expected a single date marker in UTC")
}

func TestBuild_Reactions(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice, bob},
		Messages: []database.Message{
			{Id: 1, UserId: alice.Id, Content: "hi", CreatedAt: at(0)},
			{Id: 2, UserId: bob.Id, CreatedAt: at(time.Second), DeletedAt: ptr(at(time.Minute))},
		},
		Reactions: []database.Reaction{
			{Id: 10, MessageId: 1, UserId: bob.Id, Type: "FIRE"},
			{Id: 11, MessageId: 1, UserId: alice.Id, Type: "CLAP"},
			{Id: 12, MessageId: 1, UserId: alice.Id, Type: "FIRE"},
			{Id: 13, MessageId: 2, UserId: alice.Id, Type: "BEE"},
		},
	}

	items, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, []types.Reaction{
		{Type: "FIRE", Count: 2, IsMine: true},
		{Type: "CLAP", Count: 1, IsMine: true},
	}, items[1].Reactions)

	deleted := items[2]
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Message)
	assert.Empty(t, deleted.Reactions, "expected deleted messages to carry no reactions")

	items, err = Build(snap, bob.Id, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []types.Reaction{
		{Type: "FIRE", Count: 2, IsMine: true},
		{Type: "CLAP", Count: 1, IsMine: false},
	}, items[1].Reactions, "expected ownership to be recomputed for each viewer")
}

func TestBuild_DeletedMessageRedacted(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice},
		Messages: []database.Message{
			{Id: 1, UserId: alice.Id, Content: "secret", ImageKey: "abc.png", CreatedAt: at(0), DeletedAt: ptr(at(time.Second))},
		},
	}

	items, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Empty(t, items[1].Message)
	assert.Empty(t, items[1].ImageFile)
	assert.True(t, items[1].IsMine)
}

func TestBuild_ImageFile(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice},
		Messages: []database.Message{
			{Id: 1, UserId: alice.Id, ImageKey: "abc.png", CreatedAt: at(0)},
		},
	}

	items, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "/images/uploads/abc.png", items[1].ImageFile)
}

func TestBuild_UnknownViewer(t *testing.T) {
	_, err := Build(database.Snapshot{Users: []database.User{alice}}, 99, time.UTC)
	assert.ErrorIs(t, err, ErrViewerNotFound)
}

func TestBuild_Empty(t *testing.T) {
	items, err := Build(database.Snapshot{Users: []database.User{alice}}, alice.Id, time.UTC)
	assert.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestBuild_Idempotent(t *testing.T) {
	snap := database.Snapshot{
		Users: []database.User{alice, bob},
		Messages: []database.Message{
			{Id: 2, UserId: bob.Id, Content: "yo", CreatedAt: at(time.Minute)},
			{Id: 1, UserId: alice.Id, Content: "hi", CreatedAt: at(0)},
		},
		Reactions: []database.Reaction{{Id: 1, MessageId: 1, UserId: bob.Id, Type: "PLUS"}},
	}
	before := database.Snapshot{
		Users:     append([]database.User(nil), snap.Users...),
		Messages:  append([]database.Message(nil), snap.Messages...),
		Reactions: append([]database.Reaction(nil), snap.Reactions...),
	}

	first, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)
	second, err := Build(snap, alice.Id, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snap, "expected Build not to mutate the snapshot")
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FeedSnapshot(ctx context.Context) (database.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(database.Snapshot), args.Error(1)
}

func TestAssembler_BuildFeed(t *testing.T) {
	t.Run("builds from snapshot", func(t *testing.T) {
		src := &mockSource{}
		defer src.AssertExpectations(t)
		src.On("FeedSnapshot", mock.Anything).Return(database.Snapshot{
			Users:    []database.User{alice},
			Messages: []database.Message{{Id: 1, UserId: alice.Id, Content: "hi", CreatedAt: at(0)}},
		}, nil).Once()

		items, err := NewAssembler(src, time.UTC).BuildFeed(context.Background(), alice.Id)
		assert.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("propagates store error", func(t *testing.T) {
		src := &mockSource{}
		defer src.AssertExpectations(t)
		src.On("FeedSnapshot", mock.Anything).Return(database.Snapshot{}, errors.New("db error")).Once()

		_, err := NewAssembler(src, nil).BuildFeed(context.Background(), alice.Id)
		assert.Error(t, err)
	})
}
