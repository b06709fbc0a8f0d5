package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailmerge-lite/internal/evidence"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func testSummary(name, dir string, started time.Time) evidence.Summary {
	finished := started.Add(time.Minute)
	return evidence.Summary{
		Campaign:   name,
		StartedAt:  started,
		FinishedAt: &finished,
		Total:      2,
		Sent:       1,
		Failed:     1,
		Method:     "direct-smtp",
		Sender:     "sender@example.com",
		Subject:    "Hello",
		Directory:  dir,
		Entries: []evidence.Entry{
			{Email: "a@x.com", Status: evidence.StatusSent, Message: "sent", ProviderMessageID: "p1", MessageID: "<m1@x>", RawSHA256: "abc", EMLPath: dir + "/a.eml", Timestamp: started},
			{Email: "", Status: evidence.StatusFailed, Message: "missing address", Timestamp: started},
		},
	}
}

func TestRecordAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	firstID, err := s.RecordCampaign(ctx, testSummary("first", "/tmp/first", base))
	require.NoError(t, err)
	secondID, err := s.RecordCampaign(ctx, testSummary("second", "/tmp/second", base.Add(time.Hour)))
	require.NoError(t, err)

	campaigns, err := s.ListCampaigns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, secondID, campaigns[0].ID, "newest first")
	assert.Equal(t, "second", campaigns[0].Name)
	assert.Equal(t, 2, campaigns[0].Total)
	assert.Equal(t, base.Add(time.Hour).Unix(), campaigns[0].StartedAt.Unix())
	assert.Equal(t, base.Add(time.Hour+time.Minute).Unix(), campaigns[0].FinishedAt.Unix())

	deliveries, err := s.Deliveries(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "a@x.com", deliveries[0].Email)
	assert.Equal(t, "p1", deliveries[0].ProviderMessageID)
	assert.Equal(t, evidence.StatusFailed, deliveries[1].Status)
	assert.Equal(t, "missing address", deliveries[1].Message)

	limited, err := s.ListCampaigns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordCampaign_DuplicateDirectoryRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	started := time.Now()
	_, err := s.RecordCampaign(ctx, testSummary("a", "/tmp/same", started))
	require.NoError(t, err)
	_, err = s.RecordCampaign(ctx, testSummary("b", "/tmp/same", started))
	require.Error(t, err)

	campaigns, err := s.ListCampaigns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, campaigns, 1, "failed insert is rolled back")
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s := openTestStore(t, path)
	_, err := s.RecordCampaign(ctx, testSummary("persisted", "/tmp/p", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	campaigns, err := reopened.ListCampaigns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "persisted", campaigns[0].Name)
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "  ")
	require.ErrorIs(t, err, ErrNoPath)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "history.db")
	s := openTestStore(t, path)

	campaigns, err := s.ListCampaigns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, campaigns)
	assert.FileExists(t, path)
}
