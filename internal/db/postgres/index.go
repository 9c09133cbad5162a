package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

var partitionTables = map[db.Partition]string{
	db.PartitionString:     "extended_query_tag_string",
	db.PartitionLong:       "extended_query_tag_long",
	db.PartitionDouble:     "extended_query_tag_double",
	db.PartitionDateTime:   "extended_query_tag_datetime",
	db.PartitionPersonName: "extended_query_tag_person_name",
}

func partitionTable(p db.Partition) (string, error) {
	t, ok := partitionTables[p]
	if !ok {
		return "", fmt.Errorf("unknown partition %q", p)
	}
	return t, nil
}

func partitionValue(r db.IndexRow) any {
	switch r.Partition {
	case db.PartitionLong:
		return r.Int
	case db.PartitionDouble:
		return r.Float
	case db.PartitionDateTime:
		return r.Time
	default:
		return r.Text
	}
}

func upsertQuery(table string) string {
	return `INSERT INTO ` + table + ` AS t (tag_key, tag_level, study_key, series_key, instance_key, watermark, tag_value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (tag_key, study_key, series_key, instance_key)
	DO UPDATE SET tag_value = EXCLUDED.tag_value, watermark = EXCLUDED.watermark
	WHERE t.watermark <= EXCLUDED.watermark`
}

// InsertIndexRows upserts every row of one instance in a single transaction.
func (s *Store) InsertIndexRows(ctx context.Context, batch db.IndexBatch) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkTagsVersion(ctx, tx, batch.TagsVersion); err != nil {
			return err
		}
		return upsertRows(ctx, tx, batch.Rows)
	})
	return db.Wrap(db.OpInsertIndexRows, err)
}

func upsertRows(ctx context.Context, tx *sql.Tx, rows []db.IndexRow) error {
	for _, r := range rows {
		table, err := partitionTable(r.Partition)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertQuery(table),
			r.TagKey, r.Level, r.StudyKey, r.SeriesKey, r.InstanceKey, r.Watermark, partitionValue(r)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteIndexRowBatch removes up to batchSize rows of tagKey from partition.
func (s *Store) DeleteIndexRowBatch(ctx context.Context, tagKey int64, partition db.Partition, batchSize int) (int64, error) {
	table, err := partitionTable(partition)
	if err != nil {
		return 0, db.Wrap(db.OpDeleteIndexRowBatch, err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ctid IN (
	SELECT ctid FROM `+table+` WHERE tag_key = $1 LIMIT $2)`, tagKey, batchSize)
	if err != nil {
		return 0, db.Wrap(db.OpDeleteIndexRowBatch, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Wrap(db.OpDeleteIndexRowBatch, err)
	}
	return n, nil
}
