package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RMahshie/plcsweep/internal/events"
	"github.com/RMahshie/plcsweep/internal/instrument"
	"github.com/RMahshie/plcsweep/internal/plc"
	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/internal/repository/memory"
	"github.com/RMahshie/plcsweep/internal/sweep"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockArchiveStore is a mock implementation of storage.ArchiveStore
type MockArchiveStore struct {
	mock.Mock
}

func (m *MockArchiveStore) PutArchive(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockArchiveStore) GetArchive(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchiveStore) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockArchiveStore) DeleteArchive(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// fakeSweeper writes two samples per sweep and can be held open until
// released or canceled.
type fakeSweeper struct {
	dataset  *plc.PLCDataset
	reporter events.Reporter
	hold     chan struct{}
	started  chan struct{}
	err      error
	// cleanup is how long a canceled sweep takes to shut the instruments down
	cleanup   time.Duration
	cleanedUp atomic.Bool

	mu       sync.Mutex
	sweeps   []string
	connects int
}

func newFakeSweeper(t *testing.T, reporter events.Reporter) *fakeSweeper {
	t.Helper()
	ds, err := plc.New(2, []float64{1550, 1551})
	require.NoError(t, err)
	return &fakeSweeper{dataset: ds, reporter: reporter, started: make(chan struct{}, 4)}
}

func (f *fakeSweeper) RunReferenceSweep(ctx context.Context) error {
	f.dataset.ClearReferenceData()
	return f.sweep(ctx, "reference", f.dataset.AddReferenceData, 1.0)
}

func (f *fakeSweeper) RunDeviceSweep(ctx context.Context) error {
	f.dataset.ClearTestedData()
	return f.sweep(ctx, "device", f.dataset.AddTestedData, 0.1)
}

func (f *fakeSweeper) sweep(ctx context.Context, kind string, add func(float64, []float64) error, value float64) error {
	f.mu.Lock()
	f.sweeps = append(f.sweeps, kind)
	f.mu.Unlock()
	f.started <- struct{}{}

	for i, wl := range []float64{1550, 1551} {
		if err := add(wl, []float64{value, value}); err != nil {
			return err
		}
		f.reporter.Progress(float64(i+1) / 2)
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			time.Sleep(f.cleanup)
			f.cleanedUp.Store(true)
			f.reporter.Message(sweep.CanceledMessage)
			return sweep.ErrCanceled
		}
	}
	return f.err
}

func (f *fakeSweeper) ConnectInstruments(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return []string{"Keysight Technologies,8164B", "KEITHLEY INSTRUMENTS INC.,MODEL 2400"}, nil
}

func (f *fakeSweeper) Dataset() *plc.PLCDataset { return f.dataset }

// waitForStatus polls the repository until the run reaches a terminal status
func waitForStatus(t *testing.T, repo repository.RunRepository, id string) *models.SweepRun {
	t.Helper()
	var run *models.SweepRun
	require.Eventually(t, func() bool {
		var err error
		run, err = repo.GetByID(context.Background(), uuid.MustParse(id))
		return err == nil && repository.IsTerminal(run.Status)
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestReferenceSweepCompletes(t *testing.T) {
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	repo := memory.NewRunRepository()
	var inserted []bool
	svc := NewMeasurementService(sweeper, repo, hub, WithFixture(func(device bool) { inserted = append(inserted, device) }))

	run, err := svc.StartSweep(context.Background(), models.SweepKindReference, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, run.Status)

	got := waitForStatus(t, repo, run.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.ArchiveKey)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, []bool{false}, inserted)
	assert.True(t, sweeper.dataset.HasReference())

	// reference sweeps store no results
	results, err := repo.GetResults(context.Background(), uuid.MustParse(run.ID))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeviceSweepStoresResultsAndArchive(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	require.NoError(t, sweeper.RunReferenceSweep(ctx))
	<-sweeper.started

	repo := memory.NewRunRepository()
	archive := new(MockArchiveStore)
	archive.On("PutArchive", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	svc := NewMeasurementService(sweeper, repo, hub, WithArchive(archive))
	run, err := svc.StartSweep(ctx, models.SweepKindDevice, "chip-9")
	require.NoError(t, err)

	got := waitForStatus(t, repo, run.ID)
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ArchiveKey)
	assert.Equal(t, "archive/"+run.ID+".json", *got.ArchiveKey)

	results, err := repo.GetResults(ctx, uuid.MustParse(run.ID))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].LossMin)
	assert.InDelta(t, 10.0, results[0].LossMin.Value, 1e-9)

	archive.AssertCalled(t, "PutArchive", mock.Anything, "archive/"+run.ID+".json", mock.Anything)
}

func TestArchiveFailureDoesNotFailRun(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	require.NoError(t, sweeper.RunReferenceSweep(ctx))
	<-sweeper.started

	repo := memory.NewRunRepository()
	archive := new(MockArchiveStore)
	archive.On("PutArchive", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("bucket unavailable"))

	svc := NewMeasurementService(sweeper, repo, hub, WithArchive(archive))
	run, err := svc.StartSweep(ctx, models.SweepKindDevice, "")
	require.NoError(t, err)

	got := waitForStatus(t, repo, run.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Nil(t, got.ArchiveKey)
}

// brokenResultsRepo loses the results of a finished sweep and cannot record
// the failure either.
type brokenResultsRepo struct {
	*memory.RunRepository
}

func (r brokenResultsRepo) StoreResults(ctx context.Context, runID uuid.UUID, results []models.ChannelResult) error {
	return errors.New("disk full")
}

func (r brokenResultsRepo) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return errors.New("connection reset")
}

func TestResultStorageFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	ctx := context.Background()
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	require.NoError(t, sweeper.RunReferenceSweep(ctx))
	<-sweeper.started

	repo := brokenResultsRepo{memory.NewRunRepository()}
	svc := NewMeasurementService(sweeper, repo, hub)
	run, err := svc.StartSweep(ctx, models.SweepKindDevice, "")
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(ctx))

	out := buf.String()
	assert.Contains(t, out, "Failed to store results")
	assert.Contains(t, out, "Failed to mark run as failed")
	assert.Contains(t, out, "connection reset")
	assert.Contains(t, out, run.ID)

	got, err := repo.GetByID(ctx, uuid.MustParse(run.ID))
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusCompleted, got.Status)
}

func TestDeviceSweepRequiresReference(t *testing.T) {
	hub := events.NewHub(0)
	repo := memory.NewRunRepository()
	svc := NewMeasurementService(newFakeSweeper(t, hub), repo, hub)

	_, err := svc.StartSweep(context.Background(), models.SweepKindDevice, "")
	assert.ErrorIs(t, err, plc.ErrNoReference)

	runs, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestUnknownKind(t *testing.T) {
	hub := events.NewHub(0)
	svc := NewMeasurementService(newFakeSweeper(t, hub), memory.NewRunRepository(), hub)

	_, err := svc.StartSweep(context.Background(), models.SweepKind("dark"), "")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSecondSweepRejectedAndStop(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	sweeper.hold = make(chan struct{})
	repo := memory.NewRunRepository()
	svc := NewMeasurementService(sweeper, repo, hub)

	assert.False(t, svc.StopSweep())

	run, err := svc.StartSweep(ctx, models.SweepKindReference, "")
	require.NoError(t, err)
	<-sweeper.started

	_, err = svc.StartSweep(ctx, models.SweepKindReference, "")
	assert.ErrorIs(t, err, ErrSweepInProgress)
	_, err = svc.ConnectInstruments(ctx)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	assert.True(t, svc.StopSweep())
	got := waitForStatus(t, repo, run.ID)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Nil(t, got.ErrorMsg)
	assert.Equal(t, sweep.CanceledMessage, svc.StatusMessage(run.ID))
	assert.Empty(t, svc.StatusMessage(uuid.New().String()))

	// the service accepts a new sweep once the canceled one is recorded
	sweeper.hold = nil
	var next *models.SweepRun
	require.Eventually(t, func() bool {
		next, err = svc.StartSweep(ctx, models.SweepKindReference, "")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusCompleted, waitForStatus(t, repo, next.ID).Status)
}

func TestShutdownWaitsForCleanupAndRefusesWork(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	sweeper.hold = make(chan struct{})
	sweeper.cleanup = 200 * time.Millisecond
	repo := memory.NewRunRepository()
	svc := NewMeasurementService(sweeper, repo, hub)

	run, err := svc.StartSweep(ctx, models.SweepKindReference, "")
	require.NoError(t, err)
	<-sweeper.started

	require.NoError(t, svc.Shutdown(ctx))
	assert.True(t, sweeper.cleanedUp.Load(), "Shutdown returned before the sweep cleaned up")
	got, err := repo.GetByID(ctx, uuid.MustParse(run.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)

	_, err = svc.StartSweep(ctx, models.SweepKindReference, "")
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = svc.ConnectInstruments(ctx)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownGivesUpAtDeadline(t *testing.T) {
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	sweeper.hold = make(chan struct{})
	sweeper.cleanup = 500 * time.Millisecond
	svc := NewMeasurementService(sweeper, memory.NewRunRepository(), hub)

	_, err := svc.StartSweep(context.Background(), models.SweepKindReference, "")
	require.NoError(t, err)
	<-sweeper.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, sweeper.cleanedUp.Load())

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.True(t, sweeper.cleanedUp.Load())
}

func TestSweepFaultRecorded(t *testing.T) {
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	sweeper.err = errors.New("read channel 1 at 1551.000nm: instrument read timed out")
	repo := memory.NewRunRepository()
	svc := NewMeasurementService(sweeper, repo, hub)

	run, err := svc.StartSweep(context.Background(), models.SweepKindReference, "")
	require.NoError(t, err)

	got := waitForStatus(t, repo, run.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMsg)
	assert.Contains(t, *got.ErrorMsg, "timed out")
}

func TestChannelQueries(t *testing.T) {
	hub := events.NewHub(0)
	sweeper := newFakeSweeper(t, hub)
	svc := NewMeasurementService(sweeper, memory.NewRunRepository(), hub)

	results := svc.ChannelResults()
	require.Len(t, results, 2)
	assert.Equal(t, "Channel1", results[0].Label)
	assert.Nil(t, results[0].MSR)

	_, err := svc.ChannelResult(2)
	assert.ErrorIs(t, err, plc.ErrChannelIndex)

	r, err := svc.ChannelResult(1)
	require.NoError(t, err)
	assert.Equal(t, 1551.0, r.ITU)

	ids, err := svc.ConnectInstruments(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

// simulatedCoordinator wires a coordinator to simulated instruments sweeping
// 1265..1297nm without settle delays
func simulatedCoordinator(t *testing.T, itu []float64, hub *events.Hub) (*sweep.Coordinator, *instrument.SimulatedBench) {
	t.Helper()
	sim := instrument.NewSimulatedBench(itu, instrument.DefaultSimulatedOptions())
	meters := make([]sweep.SourceMeter, len(itu))
	for i, m := range sim.Meters() {
		meters[i] = m
	}

	ds, err := plc.New(len(itu), itu)
	require.NoError(t, err)

	cfg := sweep.DefaultConfig()
	cfg.Start, cfg.Step, cfg.End = 1265, 0.5, 1297
	cfg.SettleDelay, cfg.DiscardInterval, cfg.DiscardReads = 0, 0, 1
	coord, err := sweep.NewCoordinator(cfg, sim.Laser(), meters, ds, hub)
	require.NoError(t, err)
	return coord, sim
}

// TestSimulatedBenchSweeps runs both sweeps through the real coordinator and
// the simulated instruments.
func TestSimulatedBenchSweeps(t *testing.T) {
	ctx := context.Background()
	itu := []float64{1271, 1291}
	hub := events.NewHub(0)
	coord, sim := simulatedCoordinator(t, itu, hub)

	repo := memory.NewRunRepository()
	svc := NewMeasurementService(coord, repo, hub, WithFixture(sim.Insert))

	ref, err := svc.StartSweep(ctx, models.SweepKindReference, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, waitForStatus(t, repo, ref.ID).Status)

	dev, err := svc.StartSweep(ctx, models.SweepKindDevice, "sim")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, waitForStatus(t, repo, dev.ID).Status)
	require.NoError(t, svc.Shutdown(ctx))

	results, err := repo.GetResults(ctx, uuid.MustParse(dev.ID))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		require.NotNil(t, r.MSR, "channel %d", i)
		assert.InDelta(t, itu[i], *r.MSR, 0.5)
		require.NotNil(t, r.LossMin)
		assert.InDelta(t, 1.5, r.LossMin.Value, 0.2)
	}
}
