package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	"github.com/kailas-cloud/dicomtags/internal/logger"
)

// Service stores new instances and indexes their extended query tags.
type Service struct {
	instances InstanceStore
	metadata  MetadataStore
	indexer   RecordIndexer
}

// New creates an ingestion service.
func New(instances InstanceStore, metadata MetadataStore, indexer RecordIndexer) *Service {
	return &Service{instances: instances, metadata: metadata, indexer: indexer}
}

// Store persists one DICOM JSON record. Its index rows are published together with
// the commit that makes it visible to backfill; any failure rolls back the pending
// instance and its metadata.
func (s *Service) Store(ctx context.Context, data []byte) (dominst.Instance, error) {
	ds, err := dicom.ParseJSON(data)
	if err != nil {
		return dominst.Instance{}, fmt.Errorf("%w: %w", domain.ErrInvalidInstance, err)
	}
	ids, err := dominst.IdentifiersFrom(ds)
	if err != nil {
		return dominst.Instance{}, err
	}

	inst, err := s.instances.Begin(ctx, ids)
	if err != nil {
		return dominst.Instance{}, fmt.Errorf("store instance %s: %w", ids.SOPUID, err)
	}
	ctx, log := logger.With(ctx,
		zap.String("sop_instance_uid", ids.SOPUID), zap.Int64("watermark", inst.Watermark))

	if err := s.persist(ctx, inst, ds, data); err != nil {
		if rerr := s.rollback(ctx, inst.Watermark); rerr != nil {
			log.Error("roll back instance", zap.Error(rerr))
			err = errors.Join(err, rerr)
		}
		return dominst.Instance{}, fmt.Errorf("store instance %s: %w", ids.SOPUID, err)
	}

	log.Debug("instance stored")
	return inst, nil
}

func (s *Service) persist(ctx context.Context, inst dominst.Instance, ds *dicom.Dataset, data []byte) error {
	if err := s.metadata.Save(ctx, inst.Watermark, data); err != nil {
		return err
	}
	version, err := s.indexer.IndexRecord(ctx, inst, ds)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("instance committed", zap.Int64("tags_version", version))
	return nil
}

func (s *Service) rollback(ctx context.Context, watermark int64) error {
	ctx = context.WithoutCancel(ctx)
	return errors.Join(
		s.instances.Abort(ctx, watermark),
		s.metadata.Delete(ctx, watermark),
	)
}
