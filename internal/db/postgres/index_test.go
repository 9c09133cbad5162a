package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

func TestInsertIndexRows_Success(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)
	acquired := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM extended_query_tag_version WHERE id = 1 FOR SHARE`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO extended_query_tag_long AS t`).
		WithArgs(int64(1), 2, int64(10), int64(0), int64(0), int64(5), int64(300)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO extended_query_tag_datetime AS t .* WHERE t.watermark <= EXCLUDED.watermark`).
		WithArgs(int64(2), 0, int64(10), int64(20), int64(30), int64(5), acquired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InsertIndexRows(context.Background(), db.IndexBatch{
		Watermark:   5,
		TagsVersion: 7,
		Rows: []db.IndexRow{
			{TagKey: 1, Level: 2, Partition: db.PartitionLong, StudyKey: 10, Watermark: 5, Int: 300},
			{TagKey: 2, Level: 0, Partition: db.PartitionDateTime, StudyKey: 10, SeriesKey: 20, InstanceKey: 30, Watermark: 5, Time: acquired},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIndexRows_TagsVersionMismatch(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM extended_query_tag_version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(8)))
	mock.ExpectRollback()

	err := s.InsertIndexRows(context.Background(), db.IndexBatch{
		Watermark:   5,
		TagsVersion: 7,
		Rows:        []db.IndexRow{{TagKey: 1, Partition: db.PartitionString, Text: "x"}},
	})
	require.ErrorIs(t, err, db.ErrTagsVersionMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIndexRows_UnknownPartition(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.InsertIndexRows(context.Background(), db.IndexBatch{Rows: []db.IndexRow{{Partition: "blob"}}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIndexRowBatch(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectExec(`DELETE FROM extended_query_tag_person_name WHERE ctid IN`).
		WithArgs(int64(3), 500).
		WillReturnResult(sqlmock.NewResult(0, 120))

	n, err := s.DeleteIndexRowBatch(context.Background(), 3, db.PartitionPersonName, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginInstance_Duplicate(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO study`).WithArgs("1.2").
		WillReturnRows(sqlmock.NewRows([]string{"study_key"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO series`).WithArgs(int64(1), "1.2.3").
		WillReturnRows(sqlmock.NewRows([]string{"series_key"}).AddRow(int64(2)))
	mock.ExpectQuery(`INSERT INTO instance`).WillReturnError(&pq.Error{Code: codeUniqueViolation})
	mock.ExpectRollback()

	_, err := s.BeginInstance(context.Background(), "1.2", "1.2.3", "1.2.3.4")
	require.ErrorIs(t, err, db.ErrKeyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginInstance_Success(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV1)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO study`).WillReturnRows(sqlmock.NewRows([]string{"study_key"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO series`).WillReturnRows(sqlmock.NewRows([]string{"series_key"}).AddRow(int64(2)))
	mock.ExpectQuery(`INSERT INTO instance`).
		WithArgs(int64(1), int64(2), "1.2", "1.2.3", "1.2.3.4", db.InstancePending).
		WillReturnRows(sqlmock.NewRows([]string{"watermark", "instance_key", "created_at"}).AddRow(int64(77), int64(5), created))
	mock.ExpectCommit()

	row, err := s.BeginInstance(context.Background(), "1.2", "1.2.3", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(77), row.Watermark)
	assert.Equal(t, int64(5), row.InstanceKey)
	assert.Equal(t, db.InstancePending, row.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitInstance_NotFound(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV1)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE instance SET status`).WithArgs(int64(9), db.InstanceCreated).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.ErrorIs(t, s.CommitInstance(context.Background(), db.IndexBatch{Watermark: 9}), db.ErrKeyNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitInstance_WritesRowsInSameTransaction(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM extended_query_tag_version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectExec(`UPDATE instance SET status`).WithArgs(int64(6), db.InstanceCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO extended_query_tag_string AS t .* WHERE t.watermark <= EXCLUDED.watermark`).
		WithArgs(int64(1), 2, int64(10), int64(0), int64(0), int64(6), "CT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CommitInstance(context.Background(), db.IndexBatch{
		Watermark:   6,
		TagsVersion: 4,
		Rows:        []db.IndexRow{{TagKey: 1, Level: 2, Partition: db.PartitionString, StudyKey: 10, Watermark: 6, Text: "CT"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitInstance_TagsVersionMismatchWritesNothing(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM extended_query_tag_version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
	mock.ExpectRollback()

	err := s.CommitInstance(context.Background(), db.IndexBatch{
		Watermark:   6,
		TagsVersion: 4,
		Rows:        []db.IndexRow{{TagKey: 1, Partition: db.PartitionString, Watermark: 6, Text: "CT"}},
	})
	require.ErrorIs(t, err, db.ErrTagsVersionMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbortInstance_CreatedConflicts(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM instance`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(db.InstanceCreated))
	mock.ExpectRollback()

	require.ErrorIs(t, s.AbortInstance(context.Background(), 3), db.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbortInstance_RemovesOnlyInstance(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM instance`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(db.InstancePending))
	mock.ExpectExec(`DELETE FROM instance`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.AbortInstance(context.Background(), 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstancesAtOrBelow(t *testing.T) {
	mock, s := setupMockDB(t, NewStoreV2)

	cols := []string{"watermark", "study_key", "series_key", "instance_key", "study_uid", "series_uid", "sop_uid", "status", "created_at"}
	mock.ExpectQuery(`WHERE watermark <= \$1 AND status = \$2 ORDER BY watermark DESC LIMIT \$3`).
		WithArgs(int64(100), db.InstanceCreated, 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(100), int64(1), int64(1), int64(9), "1.2", "1.2.3", "1.2.3.9", db.InstanceCreated, created).
			AddRow(int64(98), int64(1), int64(1), int64(8), "1.2", "1.2.3", "1.2.3.8", db.InstanceCreated, created))

	out, err := s.InstancesAtOrBelow(context.Background(), 100, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(100), out[0].Watermark)
	assert.Equal(t, "1.2.3.8", out[1].SOPUID)
	require.NoError(t, mock.ExpectationsWereMet())
}
