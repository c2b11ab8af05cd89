package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-ephys/internal/api"
	"github.com/miradorstack/mirador-ephys/internal/engine"
	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/loader"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/query"
	"github.com/miradorstack/mirador-ephys/internal/store"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// Pipeline is the engine surface the service drives.
type Pipeline interface {
	Classify(ctx context.Context, names []string) (models.ClassificationRun, error)
	Query(ctx context.Context, names []string, spec query.Spec) (*query.Table, string, error)
	LoadRun(ctx context.Context, id string) (models.ClassificationRun, error)
}

var _ Pipeline = (*engine.Pipeline)(nil)

// EphysService implements the gRPC EphysEngine service.
type EphysService struct {
	logger    *slog.Logger
	pipeline  Pipeline
	latencies *utils.LatencyTracker
}

var _ api.EphysEngineServer = (*EphysService)(nil)

// NewEphysService constructs the service facade.
func NewEphysService(logger *slog.Logger, pipeline Pipeline) *EphysService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EphysService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Classify runs the subtype classifier over the requested cells.
func (s *EphysService) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	names, err := api.FromStructCellNames(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("Classify called", slog.Int("cells", len(names)))

	start := time.Now()
	run, err := s.pipeline.Classify(ctx, names)
	if err != nil {
		s.logger.Error("classification failed", slog.Any("error", err))
		return nil, statusFor(err)
	}
	s.observe(time.Since(start))
	return api.ToStructRun(run), nil
}

// RunQuery evaluates a feature query and returns the table.
func (s *EphysService) RunQuery(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	names, spec, err := api.FromStructQuery(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	table, id, err := s.pipeline.Query(ctx, names, spec)
	if err != nil {
		s.logger.Error("query failed", slog.Any("error", err))
		return nil, statusFor(err)
	}
	s.observe(time.Since(start))
	return api.ToStructTable(id, table), nil
}

// GetRun returns a persisted classification run.
func (s *EphysService) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	id, err := api.FromStructRunID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	run, err := s.pipeline.LoadRun(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrRunNotFound) {
			s.logger.Error("load run failed", slog.String("run_id", id), slog.Any("error", err))
		}
		return nil, statusFor(err)
	}
	return api.ToStructRun(run), nil
}

// Health returns the current health state.
func (s *EphysService) Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return api.ToStructHealth("SERVING", s.LatencyP95()), nil
}

// LatencyP95 returns the current p95 request latency.
func (s *EphysService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *EphysService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("request latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func statusFor(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, ephys.ErrMalformedInput),
		errors.Is(err, ephys.ErrUnsupportedCondition),
		errors.Is(err, ephys.ErrInvalidArgument),
		errors.Is(err, query.ErrConflictingProperties),
		errors.Is(err, query.ErrEmptyQuery):
		code = codes.InvalidArgument
	case errors.Is(err, ephys.ErrMissingFeature),
		errors.Is(err, loader.ErrCellNotFound),
		errors.Is(err, store.ErrRunNotFound):
		code = codes.NotFound
	case errors.Is(err, ephys.ErrPrecondition),
		errors.Is(err, ephys.ErrWindowTooLarge),
		errors.Is(err, ephys.ErrInconsistentResponses),
		errors.Is(err, ephys.ErrNoResponses),
		errors.Is(err, engine.ErrStoreNotConfigured):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}
