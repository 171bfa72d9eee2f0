package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
)

// InboxMarker is the literal sentinel every inbox context message begins
// with (spec.md §4.7), so prior instances can be found and pruned before a
// new one is injected.
const InboxMarker = "<!-- RECENT_WORKER_CONTEXT -->"

// staleAfter is how old a marked inbox message must be before it is
// considered safe to delete. A message younger than this may belong to a
// concurrent in-flight turn on the same owner and is left alone.
const staleAfter = 5 * time.Second

const (
	maxActiveWorkers = 5
	maxUnreadResults = 5
	maxRecentAcked   = 3
)

// metaInboxMarker and metaInsertedAt are the model.Message.Meta keys the
// inbox builder stamps onto the messages it produces, since model.Message
// carries no timestamp of its own (ordering is by monotonic insertion id).
const (
	metaInboxMarker = "inboxMarker"
	metaInsertedAt  = "insertedAt"
	metaContentHash = "contentHash"
)

// InboxBuilder builds the per-turn "inbox context" system message (spec.md
// §4.7): a snapshot of a owner's in-flight and recently-finished worker
// jobs, so the supervisor's next model call can see background progress
// without blocking on it.
type InboxBuilder struct {
	Jobs      store.WorkerJobStore
	Artifacts artifact.Store
}

// Build assembles the inbox message content for ownerID and returns the
// IDs of the WorkerJobs it surfaced as "unread" - the caller must
// acknowledge exactly these IDs, and only after the message this content
// belongs to has been durably persisted (spec.md §4.7 "atomic see-then-mark").
// Returns empty content and a nil ack list if every section would be empty.
func (b *InboxBuilder) Build(ctx context.Context, ownerID string) (content string, ackIDs []string, err error) {
	jobs, err := b.Jobs.ListByOwner(ctx, ownerID)
	if err != nil {
		return "", nil, fmt.Errorf("inbox: list jobs: %w", err)
	}

	var active, unread, recent []*store.WorkerJob
	for _, j := range jobs {
		switch {
		case j.Status == store.JobQueued || j.Status == store.JobRunning:
			active = append(active, j)
		case j.Status.Terminal() && !j.Acknowledged:
			unread = append(unread, j)
		case j.Status.Terminal() && j.Acknowledged:
			recent = append(recent, j)
		}
	}
	active = capJobs(active, maxActiveWorkers)
	unread = capJobs(unread, maxUnreadResults)
	recent = capJobs(recent, maxRecentAcked)

	if len(active) == 0 && len(unread) == 0 && len(recent) == 0 {
		return "", nil, nil
	}

	var sb strings.Builder
	sb.WriteString(InboxMarker)
	sb.WriteString("\n\n")

	if len(active) > 0 {
		sb.WriteString("Active workers:\n")
		for _, j := range active {
			elapsed := "unknown"
			if j.StartedAt != nil {
				elapsed = time.Since(*j.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(&sb, "- %s: %q (running %s)\n", j.ID, j.Task, elapsed)
		}
		sb.WriteString("\n")
	}

	if len(unread) > 0 {
		sb.WriteString("Unread results:\n")
		for _, j := range unread {
			fmt.Fprintf(&sb, "- %s: %q -> %s\n", j.ID, j.Task, b.summarize(ctx, ownerID, j))
		}
		sb.WriteString("\n")
		for _, j := range unread {
			ackIDs = append(ackIDs, j.ID)
		}
	}

	if len(recent) > 0 {
		sb.WriteString("Recently acknowledged:\n")
		for _, j := range recent {
			fmt.Fprintf(&sb, "- %s: %q (%s)\n", j.ID, j.Task, j.Status)
		}
	}

	return strings.TrimRight(sb.String(), "\n"), ackIDs, nil
}

// summarize fetches the short result summary for a finished worker job,
// falling back to its terminal status when the artifact is unavailable
// (e.g. the worker failed before producing any result artifact).
func (b *InboxBuilder) summarize(ctx context.Context, ownerID string, j *store.WorkerJob) string {
	if b.Artifacts == nil || j.WorkerID == "" {
		return string(j.Status)
	}
	md, err := b.Artifacts.Metadata(ctx, j.WorkerID, ownerID)
	if err != nil || md.Summary == "" {
		return string(j.Status)
	}
	return md.Summary
}

func capJobs(jobs []*store.WorkerJob, n int) []*store.WorkerJob {
	if len(jobs) > n {
		return jobs[:n]
	}
	return jobs
}

// Stamp attaches the metadata an inbox message needs for later pruning:
// the marker flag, a wall-clock insertion time (model.Message itself
// carries none), and a content hash used to skip re-injecting an identical
// snapshot.
func Stamp(msg *model.Message, now time.Time) {
	if msg.Meta == nil {
		msg.Meta = map[string]any{}
	}
	msg.Meta[metaInboxMarker] = true
	msg.Meta[metaInsertedAt] = now.Format(time.RFC3339Nano)
	msg.Meta[metaContentHash] = contentHash(msg.Text())
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PruneStale scans threadID's history for prior inbox messages and returns
// the subset safe to delete: those older than staleAfter. A message
// younger than that is left in place even though it will be superseded,
// since it may belong to a concurrent in-flight turn on the same owner
// (spec.md §4.7 "Staleness pruning").
func PruneStale(messages []model.Message, now time.Time) []int64 {
	var marked []model.Message
	for _, m := range messages {
		if isInboxMessage(m) {
			marked = append(marked, m)
		}
	}
	sort.Slice(marked, func(i, k int) bool { return marked[i].ID < marked[k].ID })

	var toDelete []int64
	for _, m := range marked {
		ts, ok := insertedAt(m)
		if !ok || now.Sub(ts) > staleAfter {
			toDelete = append(toDelete, m.ID)
		}
	}
	return toDelete
}

// Unchanged reports whether content exactly matches the freshest surviving
// inbox message in messages, letting the caller skip injecting a duplicate
// snapshot when nothing has changed since the last turn.
func Unchanged(messages []model.Message, content string) bool {
	var newest *model.Message
	for i := range messages {
		if isInboxMessage(messages[i]) {
			if newest == nil || messages[i].ID > newest.ID {
				newest = &messages[i]
			}
		}
	}
	if newest == nil {
		return false
	}
	hash, ok := newest.Meta[metaContentHash].(string)
	return ok && hash == contentHash(content)
}

func isInboxMessage(m model.Message) bool {
	if m.Meta == nil {
		return false
	}
	v, ok := m.Meta[metaInboxMarker].(bool)
	return ok && v
}

func insertedAt(m model.Message) (time.Time, bool) {
	raw, ok := m.Meta[metaInsertedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
