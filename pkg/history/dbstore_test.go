package history

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

// newMockStore wires a DBStore to a sqlmock-backed gorm connection
func newMockStore(t *testing.T) (*DBStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewDBStore(db), mock
}

func jobColumns() []string {
	return []string{
		"id", "panel_name", "database_name", "database_id", "trigger_kind",
		"state", "created_at", "completed_at", "artifact_name", "artifact_size",
		"delivery_status", "delivery_ref", "error_message", "transitions",
	}
}

func TestDBStoreRecordUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `backup_jobs`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Record(jobs.Record{
		ID:        "j1",
		PanelName: "panel-a",
		Database:  "shop",
		Trigger:   jobs.TriggerManual,
		State:     jobs.StateSucceeded,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreGetJobs(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(jobColumns()).
		AddRow("j2", "panel-a", "shop", 3, "scheduled", "succeeded", now, now.Add(time.Minute),
			"shop.sql.gz", 1024, "success", "msg-1", "", "").
		AddRow("j1", "panel-a", "shop", 3, "manual", "failed", now.Add(-time.Hour), now.Add(-time.Hour),
			"", 0, "none", "", "panel backup failed", "")

	mock.ExpectQuery("SELECT .* FROM `backup_jobs`").
		WillReturnRows(rows)

	recs, err := store.GetJobs(Filter{PanelName: "panel-a", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "j2", recs[0].ID)
	assert.Equal(t, jobs.StateSucceeded, recs[0].State)
	assert.Equal(t, jobs.DeliverySuccess, recs[0].DeliveryStatus)
	assert.Equal(t, "panel backup failed", recs[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreGetJobByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM `backup_jobs`").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	_, found, err := store.GetJobByID("missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreActiveJob(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(jobColumns()).
		AddRow("j3", "panel-a", "shop", 3, "scheduled", "downloading", now, nil,
			"", 0, "none", "", "", "")

	mock.ExpectQuery("SELECT .* FROM `backup_jobs`").
		WillReturnRows(rows)

	rec, found, err := store.ActiveJob("panel-a", "shop")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "j3", rec.ID)
	assert.Equal(t, jobs.StateDownloading, rec.State)
	assert.True(t, rec.CompletedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorePurgeOldJobs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `backup_jobs`").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	purged, err := store.PurgeOldJobs(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRecordRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	rec := jobs.Record{
		ID:             "j1",
		PanelName:      "panel-a",
		Database:       "shop",
		DatabaseID:     3,
		Trigger:        jobs.TriggerScheduled,
		State:          jobs.StateSucceeded,
		CreatedAt:      now,
		CompletedAt:    now.Add(2 * time.Minute),
		ArtifactName:   "shop_20250830_031500.sql.gz",
		ArtifactSize:   2048,
		DeliveryStatus: jobs.DeliverySuccess,
		DeliveryRef:    "msg-42",
		Transitions: []jobs.Transition{
			{State: jobs.StateTriggering, At: now},
			{State: jobs.StateAwaitingArtifact, At: now.Add(time.Second)},
		},
	}

	entry := toEntry(rec)
	assert.Equal(t, "shop", entry.DatabaseName)
	assert.Equal(t, "succeeded", entry.State)
	require.NotNil(t, entry.CompletedAt)
	assert.NotEmpty(t, entry.Transitions)

	back := toRecord(entry)
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.State, back.State)
	assert.Equal(t, rec.DeliveryStatus, back.DeliveryStatus)
	assert.True(t, rec.CompletedAt.Equal(back.CompletedAt))
	require.Len(t, back.Transitions, 2)
	assert.Equal(t, jobs.StateTriggering, back.Transitions[0].State)
}

func TestEntryRecordZeroCompletedAt(t *testing.T) {
	entry := toEntry(jobs.Record{ID: "j1", State: jobs.StateDownloading})
	assert.Nil(t, entry.CompletedAt)

	back := toRecord(entry)
	assert.True(t, back.CompletedAt.IsZero())
	assert.Empty(t, back.Transitions)
}
