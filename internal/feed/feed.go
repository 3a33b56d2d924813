// Package feed turns the stored message, log and reaction history into the
// ordered, viewer-relative timeline shown by clients.
package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/lan-chat/internal/blob"
	"github.com/npezzotti/lan-chat/internal/database"
	"github.com/npezzotti/lan-chat/internal/types"
)

const (
	dayKeyLayout   = "2006-01-02"
	dayLabelLayout = "Monday, January 2, 2006"
)

var ErrViewerNotFound = errors.New("viewer not found")

type SnapshotSource interface {
	FeedSnapshot(ctx context.Context) (database.Snapshot, error)
}

type Assembler struct {
	src SnapshotSource
	loc *time.Location
}

func NewAssembler(src SnapshotSource, loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{src: src, loc: loc}
}

// BuildFeed reads the current store state and assembles the feed as seen by
// viewerId.
func (a *Assembler) BuildFeed(ctx context.Context, viewerId int) ([]types.FeedItem, error) {
	snap, err := a.src.FeedSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed snapshot: %w", err)
	}

	return Build(snap, viewerId, a.loc)
}

// streams are ordered so that at equal timestamps a date marker sorts
// first, then messages, then logs.
const (
	streamDate = iota
	streamMessage
	streamLog
)

type entry struct {
	at     time.Time
	stream int
	seq    int
	item   types.FeedItem
}

// Build is the pure part of BuildFeed. It never mutates snap.
func Build(snap database.Snapshot, viewerId int, loc *time.Location) ([]types.FeedItem, error) {
	users := make(map[int]database.User, len(snap.Users))
	for _, u := range snap.Users {
		users[u.Id] = u
	}
	if _, ok := users[viewerId]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrViewerNotFound, viewerId)
	}

	messages := slices.Clone(snap.Messages)
	slices.SortStableFunc(messages, func(a, b database.Message) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Id, b.Id))
	})
	logs := slices.Clone(snap.Logs)
	slices.SortStableFunc(logs, func(a, b database.LogEntry) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Id, b.Id))
	})

	reactions := aggregateReactions(snap.Reactions, viewerId)

	entries := make([]entry, 0, len(messages)+len(logs))
	seenDays := make(map[string]struct{})
	for i, m := range messages {
		local := m.CreatedAt.In(loc)
		day := local.Format(dayKeyLayout)
		if _, ok := seenDays[day]; !ok {
			seenDays[day] = struct{}{}
			// messages are sorted, so the first one seen is the day's earliest
			entries = append(entries, entry{
				at:     m.CreatedAt,
				stream: streamDate,
				seq:    len(seenDays),
				item: types.FeedItem{
					Type:      types.FeedItemDate,
					Date:      day,
					Message:   local.Format(dayLabelLayout),
					CreatedAt: local,
				},
			})
		}

		entries = append(entries, entry{
			at:     m.CreatedAt,
			stream: streamMessage,
			seq:    i,
			item:   messageItem(m, users[m.UserId], viewerId, reactions[m.Id], loc),
		})
	}

	for i, l := range logs {
		author := users[l.UserId]
		entries = append(entries, entry{
			at:     l.CreatedAt,
			stream: streamLog,
			seq:    i,
			item: types.FeedItem{
				Type:      types.FeedItemLog,
				Id:        l.Id,
				UserId:    l.UserId,
				Name:      author.Name,
				Message:   l.Details,
				Action:    l.Action,
				CreatedAt: l.CreatedAt.In(loc),
			},
		})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return cmp.Or(
			a.at.Compare(b.at),
			cmp.Compare(a.stream, b.stream),
			cmp.Compare(a.seq, b.seq),
		)
	})

	items := make([]types.FeedItem, len(entries))
	for i, e := range entries {
		items[i] = e.item
		if e.item.Type != types.FeedItemMessage || i == 0 {
			continue
		}
		items[i].IsContinue = continues(items[i-1], items[i])
	}

	return items, nil
}

// continues reports whether cur is grouped under prev's header. A deleted
// predecessor ends the run.
func continues(prev, cur types.FeedItem) bool {
	return prev.Type == types.FeedItemMessage &&
		!prev.IsDeleted &&
		prev.UserId == cur.UserId
}

func messageItem(m database.Message, author database.User, viewerId int, reactions []types.Reaction, loc *time.Location) types.FeedItem {
	item := types.FeedItem{
		Type:      types.FeedItemMessage,
		Id:        m.Id,
		UserId:    m.UserId,
		Name:      author.Name,
		Image:     author.Image,
		BgColor:   author.BgColor,
		CreatedAt: m.CreatedAt.In(loc),
		IsMine:    m.UserId == viewerId,
		IsDeleted: m.IsDeleted(),
	}

	if item.IsDeleted {
		return item
	}

	item.Message = m.Content
	if m.ImageKey != "" {
		item.ImageFile = blob.URL(m.ImageKey)
	}
	item.Reactions = reactions
	return item
}

// aggregateReactions groups reactions per message and type. Types keep the
// order in which they first appear in rows.
func aggregateReactions(rows []database.Reaction, viewerId int) map[int][]types.Reaction {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b database.Reaction) int {
		return cmp.Compare(a.Id, b.Id)
	})

	out := make(map[int][]types.Reaction)
	for _, r := range sorted {
		group := out[r.MessageId]
		idx := slices.IndexFunc(group, func(x types.Reaction) bool { return x.Type == r.Type })
		if idx < 0 {
			group = append(group, types.Reaction{Type: r.Type})
			idx = len(group) - 1
		}
		group[idx].Count++
		if r.UserId == viewerId {
			group[idx].IsMine = true
		}
		out[r.MessageId] = group
	}

	return out
}
