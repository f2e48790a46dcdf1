package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RMahshie/plcsweep/internal/events"
	"github.com/RMahshie/plcsweep/internal/plc"
	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/internal/storage"
	"github.com/RMahshie/plcsweep/internal/sweep"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSweepInProgress is returned when a sweep is started while another runs
	ErrSweepInProgress = errors.New("a sweep is already in progress")
	// ErrUnknownKind is returned for a sweep kind other than reference or device
	ErrUnknownKind = errors.New("unknown sweep kind")
	// ErrShuttingDown is returned for work requested after Shutdown
	ErrShuttingDown = errors.New("the measurement service is shutting down")
)

// Sweeper runs blocking sweeps against the bench
type Sweeper interface {
	RunReferenceSweep(ctx context.Context) error
	RunDeviceSweep(ctx context.Context) error
	ConnectInstruments(ctx context.Context) ([]string, error)
	Dataset() *plc.PLCDataset
}

// MeasurementService runs sweeps in the background and records their outcome
type MeasurementService interface {
	StartSweep(ctx context.Context, kind models.SweepKind, label string) (*models.SweepRun, error)
	StopSweep() bool
	ConnectInstruments(ctx context.Context) ([]string, error)
	ChannelResults() []models.ChannelResult
	ChannelResult(index int) (models.ChannelResult, error)
	Curves() []models.ChannelCurves
	StatusMessage(runID string) string
	Shutdown(ctx context.Context) error
}

// Option configures the measurement service
type Option func(*measurementService)

// WithArchive stores the raw curves of every completed device sweep
func WithArchive(store storage.ArchiveStore) Option {
	return func(s *measurementService) { s.archive = store }
}

// WithFixture is told before each sweep whether the device is in the light path
func WithFixture(insert func(device bool)) Option {
	return func(s *measurementService) { s.fixture = insert }
}

type measurementService struct {
	sweeper    Sweeper
	repository repository.RunRepository
	hub        *events.Hub
	archive    storage.ArchiveStore
	fixture    func(device bool)

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	lastRun string
	wg      sync.WaitGroup
}

// NewMeasurementService creates the service. The hub must be the reporter the
// sweeper publishes to.
func NewMeasurementService(sweeper Sweeper, repo repository.RunRepository, hub *events.Hub, opts ...Option) MeasurementService {
	s := &measurementService{
		sweeper:    sweeper,
		repository: repo,
		hub:        hub,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSweep records a new run and starts it in the background
func (s *measurementService) StartSweep(ctx context.Context, kind models.SweepKind, label string) (*models.SweepRun, error) {
	if kind != models.SweepKindReference && kind != models.SweepKindDevice {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShuttingDown
	}
	if s.running {
		return nil, ErrSweepInProgress
	}
	if kind == models.SweepKindDevice && !s.sweeper.Dataset().HasReference() {
		return nil, plc.ErrNoReference
	}

	run := &models.SweepRun{
		ID:     uuid.New().String(),
		Kind:   kind,
		Label:  label,
		Status: models.StatusPending,
	}
	if err := s.repository.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sweep run: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.lastRun = run.ID
	s.wg.Add(1)

	log.Info().Str("runID", run.ID).Str("kind", string(kind)).Str("label", label).Msg("Starting sweep")
	go s.execute(sweepCtx, run)

	return run, nil
}

// execute runs the sweep and moves the run to its terminal status
func (s *measurementService) execute(ctx context.Context, run *models.SweepRun) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel()
		s.cancel = nil
		s.mu.Unlock()
	}()

	// Repository writes use their own context so a canceled sweep is still recorded.
	bg := context.Background()
	id := uuid.MustParse(run.ID)

	if err := s.repository.UpdateStatus(bg, id, models.StatusRunning, 0); err != nil {
		log.Error().Err(err).Str("runID", run.ID).Msg("Failed to mark run as running")
	}

	stopTracking := s.trackProgress(id)

	if s.fixture != nil {
		s.fixture(run.Kind == models.SweepKindDevice)
	}

	var err error
	if run.Kind == models.SweepKindDevice {
		err = s.sweeper.RunDeviceSweep(ctx)
	} else {
		err = s.sweeper.RunReferenceSweep(ctx)
	}
	progress := stopTracking()

	switch {
	case errors.Is(err, sweep.ErrCanceled):
		log.Info().Str("runID", run.ID).Int("progress", progress).Msg("Sweep canceled")
		if err := s.repository.UpdateStatus(bg, id, models.StatusCanceled, progress); err != nil {
			log.Error().Err(err).Str("runID", run.ID).Msg("Failed to mark run as canceled")
		}
	case err != nil:
		log.Error().Err(err).Str("runID", run.ID).Msg("Sweep failed")
		if err := s.repository.UpdateError(bg, id, err.Error()); err != nil {
			log.Error().Err(err).Str("runID", run.ID).Msg("Failed to mark run as failed")
		}
	default:
		if run.Kind == models.SweepKindDevice {
			if err := s.storeResults(bg, id, run); err != nil {
				log.Error().Err(err).Str("runID", run.ID).Msg("Failed to store results")
				if err := s.repository.UpdateError(bg, id, fmt.Sprintf("Failed to store results: %v", err)); err != nil {
					log.Error().Err(err).Str("runID", run.ID).Msg("Failed to mark run as failed")
				}
				return
			}
		}
		if err := s.repository.UpdateStatus(bg, id, models.StatusCompleted, 100); err != nil {
			log.Error().Err(err).Str("runID", run.ID).Msg("Failed to mark run as completed")
			return
		}
		log.Info().Str("runID", run.ID).Msg("Sweep completed")
	}
}

// trackProgress persists whole-percent progress while a sweep runs. The
// returned func stops tracking and reports the last persisted percentage.
func (s *measurementService) trackProgress(id uuid.UUID) func() int {
	ch, unsubscribe := s.hub.Subscribe()
	done := make(chan struct{})
	last := 0

	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Kind != events.KindProgress {
				continue
			}
			pct := int(ev.Progress * 100)
			if pct == last {
				continue
			}
			last = pct
			if err := s.repository.UpdateStatus(context.Background(), id, models.StatusRunning, pct); err != nil {
				log.Warn().Err(err).Str("runID", id.String()).Msg("Failed to persist progress")
			}
		}
	}()

	return func() int {
		unsubscribe()
		<-done
		return last
	}
}

// storeResults persists the metrics of every channel and archives the curves
func (s *measurementService) storeResults(ctx context.Context, id uuid.UUID, run *models.SweepRun) error {
	results := s.ChannelResults()
	if err := s.repository.StoreResults(ctx, id, results); err != nil {
		return err
	}

	if s.archive == nil {
		return nil
	}

	archive := &models.SweepArchive{
		RunID:     run.ID,
		Label:     run.Label,
		CreatedAt: run.CreatedAt,
		Channels:  s.Curves(),
		Results:   results,
	}
	key, err := storage.SaveArchive(ctx, s.archive, archive)
	if err != nil {
		// The metrics are already stored; a missing archive does not fail the run.
		log.Warn().Err(err).Str("runID", run.ID).Msg("Failed to archive sweep data")
		return nil
	}
	if err := s.repository.SetArchiveKey(ctx, id, key); err != nil {
		return err
	}
	log.Info().Str("runID", run.ID).Str("key", key).Msg("Sweep data archived")
	return nil
}

// StopSweep cancels the running sweep and reports whether one was running
func (s *measurementService) StopSweep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	log.Info().Str("runID", s.lastRun).Msg("Stopping sweep")
	s.cancel()
	return true
}

// ConnectInstruments identifies the bench instruments. It is refused while a
// sweep owns the instruments.
func (s *measurementService) ConnectInstruments(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	running, closed := s.running, s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if running {
		return nil, ErrSweepInProgress
	}
	return s.sweeper.ConnectInstruments(ctx)
}

// ChannelResults returns the current metrics of every channel. Metrics that
// cannot be derived yet are left nil.
func (s *measurementService) ChannelResults() []models.ChannelResult {
	results, err := s.sweeper.Dataset().Results()
	if err != nil {
		log.Debug().Err(err).Msg("Some channel metrics are undefined")
	}

	out := make([]models.ChannelResult, len(results))
	for i, r := range results {
		out[i] = r.Model()
	}
	return out
}

// ChannelResult returns the current metrics of one channel
func (s *measurementService) ChannelResult(index int) (models.ChannelResult, error) {
	r, err := s.sweeper.Dataset().ChannelResult(index)
	if errors.Is(err, plc.ErrChannelIndex) {
		return models.ChannelResult{}, err
	}
	return r.Model(), nil
}

// Curves copies the current curves of every channel
func (s *measurementService) Curves() []models.ChannelCurves {
	return s.sweeper.Dataset().Snapshot()
}

// StatusMessage returns the latest coordinator message if runID is the most
// recent run, and "" otherwise
func (s *measurementService) StatusMessage(runID string) string {
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()

	if runID != last {
		return ""
	}
	return s.hub.LastMessage()
}

// Shutdown refuses new work, stops the running sweep and waits until its
// instrument cleanup has finished and the run is recorded
func (s *measurementService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopSweep()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
