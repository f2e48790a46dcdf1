package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/RMahshie/plcsweep/internal/plc"
	"github.com/RMahshie/plcsweep/internal/processing"
	"github.com/RMahshie/plcsweep/internal/report"
	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/internal/storage"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SweepHandler handles bench and sweep HTTP requests
type SweepHandler struct {
	repo    repository.RunRepository
	archive storage.ArchiveStore
	service processing.MeasurementService
}

// NewSweepHandler creates a new sweep handler. archive may be nil when
// archiving is disabled.
func NewSweepHandler(repo repository.RunRepository, archive storage.ArchiveStore, service processing.MeasurementService) *SweepHandler {
	return &SweepHandler{
		repo:    repo,
		archive: archive,
		service: service,
	}
}

// ConnectInstruments identifies the laser and every source-meter
func (h *SweepHandler) ConnectInstruments(ctx context.Context, input *struct{}) (*models.ConnectInstrumentsResponse, error) {
	found, err := h.service.ConnectInstruments(ctx)
	if errors.Is(err, processing.ErrSweepInProgress) {
		return nil, huma.Error409Conflict("A sweep is running", err)
	}
	if errors.Is(err, processing.ErrShuttingDown) {
		return nil, huma.Error503ServiceUnavailable("Server is shutting down", err)
	}

	if err != nil {
		log.Warn().Err(err).Strs("found", found).Msg("Instrument check failed")
		return nil, huma.Error502BadGateway("Some instruments did not respond as expected", err)
	}

	resp := &models.ConnectInstrumentsResponse{}
	resp.Body.Instruments = found
	return resp, nil
}

// StartReferenceSweep records the light path without the device
func (h *SweepHandler) StartReferenceSweep(ctx context.Context, req *models.StartSweepRequest) (*models.StartSweepResponse, error) {
	return h.startSweep(ctx, models.SweepKindReference, req.Body.Label)
}

// StartDeviceSweep records the device response against the current reference
func (h *SweepHandler) StartDeviceSweep(ctx context.Context, req *models.StartSweepRequest) (*models.StartSweepResponse, error) {
	return h.startSweep(ctx, models.SweepKindDevice, req.Body.Label)
}

func (h *SweepHandler) startSweep(ctx context.Context, kind models.SweepKind, label string) (*models.StartSweepResponse, error) {
	log.Info().Str("kind", string(kind)).Str("label", label).Msg("Sweep start request received")

	run, err := h.service.StartSweep(ctx, kind, label)
	switch {
	case errors.Is(err, processing.ErrSweepInProgress):
		return nil, huma.Error409Conflict("A sweep is already running", err)
	case errors.Is(err, plc.ErrNoReference):
		return nil, huma.Error409Conflict("Run a reference sweep first", err)
	case errors.Is(err, processing.ErrShuttingDown):
		return nil, huma.Error503ServiceUnavailable("Server is shutting down", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("Failed to start sweep", err)
	}

	return &models.StartSweepResponse{
		Body: models.StartSweepResponseBody{
			ID:     run.ID,
			Kind:   run.Kind,
			Status: run.Status,
		},
	}, nil
}

// StopSweep cancels the running sweep
func (h *SweepHandler) StopSweep(ctx context.Context, input *struct{}) (*models.StopSweepResponse, error) {
	if !h.service.StopSweep() {
		return nil, huma.Error409Conflict("No sweep is running")
	}

	resp := &models.StopSweepResponse{}
	resp.Body.Message = "Stop requested"
	return resp, nil
}

// GetSweep returns the status of a sweep run
func (h *SweepHandler) GetSweep(ctx context.Context, req *models.GetSweepRequest) (*models.GetSweepResponse, error) {
	run, err := h.getRun(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	message := h.service.StatusMessage(run.ID)
	if message == "" {
		message = statusMessage(run.Status)
	}

	return &models.GetSweepResponse{
		Body: models.GetSweepResponseBody{
			ID:         run.ID,
			Kind:       run.Kind,
			Label:      run.Label,
			Status:     run.Status,
			Progress:   run.Progress,
			Message:    message,
			Error:      run.ErrorMsg,
			ArchiveKey: run.ArchiveKey,
		},
	}, nil
}

// ListChannels returns the live metrics of every channel
func (h *SweepHandler) ListChannels(ctx context.Context, input *struct{}) (*models.ListChannelsResponse, error) {
	resp := &models.ListChannelsResponse{}
	resp.Body.Channels = h.service.ChannelResults()
	return resp, nil
}

// GetChannel returns the live metrics of one channel
func (h *SweepHandler) GetChannel(ctx context.Context, req *models.GetChannelRequest) (*models.GetChannelResponse, error) {
	result, err := h.service.ChannelResult(req.Index)
	if err != nil {
		return nil, huma.Error404NotFound("Channel not found", err)
	}
	return &models.GetChannelResponse{Body: result}, nil
}

// GetRunResults returns the metrics stored for a completed device sweep
func (h *SweepHandler) GetRunResults(ctx context.Context, req *models.GetRunResultsRequest) (*models.GetRunResultsResponse, error) {
	run, err := h.getRun(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.Kind != models.SweepKindDevice {
		return nil, huma.Error409Conflict("Reference sweeps have no results")
	}
	if run.Status != models.StatusCompleted {
		return nil, huma.Error409Conflict("Sweep not yet completed",
			fmt.Errorf("sweep status is %s", run.Status))
	}

	results, err := h.repo.GetResults(ctx, uuid.MustParse(run.ID))
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get results", err)
	}

	return &models.GetRunResultsResponse{
		Body: models.GetRunResultsResponseBody{
			ID:       run.ID,
			Label:    run.Label,
			Channels: results,
		},
	}, nil
}

// GetArchive returns a download URL for the raw curves of a device sweep
func (h *SweepHandler) GetArchive(ctx context.Context, req *models.GetArchiveRequest) (*models.GetArchiveResponse, error) {
	if h.archive == nil {
		return nil, huma.Error404NotFound("Archiving is disabled")
	}

	run, err := h.getRun(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.ArchiveKey == nil {
		return nil, huma.Error404NotFound("No archive for this sweep")
	}

	url, err := h.archive.GenerateDownloadURL(ctx, *run.ArchiveKey)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate download URL", err)
	}

	resp := &models.GetArchiveResponse{}
	resp.Body.URL = url
	resp.Body.ExpiresIn = int(storage.DownloadURLExpiry.Seconds())
	return resp, nil
}

// Plot renders the current insertion loss curves
func (h *SweepHandler) Plot(ctx context.Context, req *models.PlotRequest) (*models.PlotResponse, error) {
	title := req.Title
	if title == "" {
		title = "Insertion loss"
	}
	return renderPlot(title, h.service.Curves())
}

// GetRunPlot renders the insertion loss curves archived with a device sweep
func (h *SweepHandler) GetRunPlot(ctx context.Context, req *models.GetRunPlotRequest) (*models.PlotResponse, error) {
	if h.archive == nil {
		return nil, huma.Error404NotFound("Archiving is disabled")
	}

	run, err := h.getRun(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.ArchiveKey == nil {
		return nil, huma.Error404NotFound("No archive for this sweep")
	}

	archive, err := storage.LoadArchive(ctx, h.archive, *run.ArchiveKey)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load archive", err)
	}

	title := archive.Label
	if title == "" {
		title = archive.RunID
	}
	return renderPlot(title, archive.Channels)
}

func renderPlot(title string, curves []models.ChannelCurves) (*models.PlotResponse, error) {
	png, err := report.InsertionLossPNG(title, curves)
	if errors.Is(err, report.ErrNoData) {
		return nil, huma.Error404NotFound("No insertion loss data yet", err)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to render plot", err)
	}
	return &models.PlotResponse{ContentType: report.PNGContentType, Body: png}, nil
}

// getRun parses id and loads the run, mapping failures to HTTP errors
func (h *SweepHandler) getRun(ctx context.Context, id string) (*models.SweepRun, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid sweep ID", err)
	}

	run, err := h.repo.GetByID(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, huma.Error404NotFound("Sweep not found", err)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get sweep", err)
	}
	return run, nil
}

// statusMessage creates a human-readable status message
func statusMessage(status string) string {
	switch status {
	case models.StatusPending:
		return "Sweep queued..."
	case models.StatusRunning:
		return "Sweeping..."
	case models.StatusCompleted:
		return "Sweep complete"
	case models.StatusCanceled:
		return "Sweep canceled"
	case models.StatusFailed:
		return "Sweep failed"
	default:
		return "Unknown status"
	}
}
