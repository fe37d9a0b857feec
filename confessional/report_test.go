package confessional

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestReportLog returns a ReportLog backed by a temporary sqlite database
func newTestReportLog(t testing.TB) *ReportLog {
	t.Helper()
	ctx := context.Background()
	db, err := CreateDB(
		ctx,
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "test.sqlite3"),
		newGORMLogger(newLogHandler(io.Discard, slog.LevelWarn), time.Second),
	)
	require.NoError(t, err)
	reports := &ReportLog{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	t.Cleanup(
		func() {
			_ = reports.Close()
		},
	)
	return reports
}

func TestReportMessage(t *testing.T) {
	c, session := newTestConfessional(t, nil)
	c.reports = newTestReportLog(t)
	ctx := context.Background()

	post := postAndBind(t, c, testPoster, "reported")
	report, err := c.ReportMessage(
		ctx, ReportInput{
			Reporter:  testRequester,
			GuildID:   testGuildID,
			ChannelID: testPostChannelID,
			MessageID: post.MessageID,
		},
	)
	require.NoError(t, err)

	expectedLink := messageLink(testGuildID, testPostChannelID, post.MessageID)
	assert.Equal(t, expectedLink, report.Link)
	assert.Equal(t, testRequester.ID, report.ReporterID)

	logged := session.sentTo(testModLogID)
	require.Len(t, logged, 1)
	assert.Equal(t, logged[0].Message.ID, report.LogMessageID)

	embed := logged[0].Data.Embeds[0]
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, expectedLink, embed.Fields[0].Value)
	assert.Equal(t, testRequester.Mention(), embed.Fields[1].Value)
	for _, f := range embed.Fields {
		assert.NotContains(t, f.Value, testPoster.ID, "the author isn't revealed")
	}

	stored, err := c.reports.ForMessage(ctx, post.MessageID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, testRequester.ID, stored[0].ReporterID)
	assert.Equal(t, report.LogMessageID, stored[0].LogMessageID)
	assert.NotZero(t, stored[0].CreatedAt)

	n, err := c.reports.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReportMessage_WithoutDatabase(t *testing.T) {
	c, session := newTestConfessional(t, nil)

	_, err := c.ReportMessage(
		context.Background(), ReportInput{
			Reporter:  testRequester,
			GuildID:   testGuildID,
			ChannelID: testPostChannelID,
			MessageID: "123",
		},
	)
	require.NoError(t, err)
	assert.Len(t, session.sentTo(testModLogID), 1)
}

func TestReportMessage_LogChannelUnavailable(t *testing.T) {
	t.Run(
		"not configured", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Channels.ModLog = ""
			c, session := newTestConfessional(t, cfg)

			_, err := c.ReportMessage(
				context.Background(),
				ReportInput{Reporter: testRequester, MessageID: "123"},
			)
			assert.ErrorIs(t, err, ErrLogChannelUnavailable)
			assert.Equal(t, 0, session.sentCount())
		},
	)
	t.Run(
		"send fails", func(t *testing.T) {
			c, session := newTestConfessional(t, nil)
			c.reports = newTestReportLog(t)
			session.failSend(testModLogID, errors.New("HTTP 404 Unknown Channel"))

			_, err := c.ReportMessage(
				context.Background(),
				ReportInput{Reporter: testRequester, MessageID: "123"},
			)
			assert.ErrorIs(t, err, ErrLogChannelUnavailable)

			n, err := c.reports.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "unsent reports aren't recorded")
		},
	)
	t.Run(
		"missing message", func(t *testing.T) {
			c, _ := newTestConfessional(t, nil)
			_, err := c.ReportMessage(context.Background(), ReportInput{Reporter: testRequester})
			assert.ErrorIs(t, err, ErrValidation)
		},
	)
}

func TestInitStorage(t *testing.T) {
	setLogWriter(t)
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.Database = filepath.Join(dir, "db", "confessional.sqlite3")
	cfg.Avatar.Dir = filepath.Join(dir, "avatars")

	require.NoError(t, InitStorage(context.Background(), cfg))
	assert.FileExists(t, cfg.Database)
	assert.DirExists(t, cfg.Avatar.Dir)

	// idempotent
	require.NoError(t, InitStorage(context.Background(), cfg))
}
