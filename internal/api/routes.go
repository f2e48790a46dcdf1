package api

import (
	"net/http"

	"github.com/RMahshie/plcsweep/internal/api/handlers"
	"github.com/RMahshie/plcsweep/internal/processing"
	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/internal/storage"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
)

// RegisterRoutes sets up all API routes. archive may be nil.
func RegisterRoutes(api huma.API, repo repository.RunRepository, archive storage.ArchiveStore, service processing.MeasurementService, source handlers.EventSource) {
	sweepHandler := handlers.NewSweepHandler(repo, archive, service)
	eventHandler := handlers.NewEventHandler(source)

	huma.Register(api, huma.Operation{
		OperationID: "connectInstruments",
		Method:      http.MethodPost,
		Path:        "/api/instruments/connect",
		Summary:     "Connect instruments",
		Description: "Identifies the laser and every source-meter and labels the meter displays",
		Tags:        []string{"Instruments"},
	}, sweepHandler.ConnectInstruments)

	huma.Register(api, huma.Operation{
		OperationID:   "startReferenceSweep",
		Method:        http.MethodPost,
		Path:          "/api/sweeps/reference",
		Summary:       "Start a reference sweep",
		Description:   "Clears the reference curves and sweeps the light path without the device",
		Tags:          []string{"Sweeps"},
		DefaultStatus: http.StatusAccepted,
	}, sweepHandler.StartReferenceSweep)

	huma.Register(api, huma.Operation{
		OperationID:   "startDeviceSweep",
		Method:        http.MethodPost,
		Path:          "/api/sweeps/device",
		Summary:       "Start a device sweep",
		Description:   "Clears the tested curves and sweeps the device against the current reference",
		Tags:          []string{"Sweeps"},
		DefaultStatus: http.StatusAccepted,
	}, sweepHandler.StartDeviceSweep)

	huma.Register(api, huma.Operation{
		OperationID: "stopSweep",
		Method:      http.MethodPost,
		Path:        "/api/sweeps/stop",
		Summary:     "Stop the running sweep",
		Description: "Requests cancellation; the sweep stops after its current step",
		Tags:        []string{"Sweeps"},
	}, sweepHandler.StopSweep)

	huma.Register(api, huma.Operation{
		OperationID: "getSweep",
		Method:      http.MethodGet,
		Path:        "/api/sweeps/{id}",
		Summary:     "Get sweep status",
		Description: "Returns the status, progress and latest message of a sweep run",
		Tags:        []string{"Sweeps"},
	}, sweepHandler.GetSweep)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      http.MethodGet,
		Path:        "/api/channels",
		Summary:     "List channel metrics",
		Description: "Returns the metrics of every channel computed from the current curves",
		Tags:        []string{"Channels"},
	}, sweepHandler.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      http.MethodGet,
		Path:        "/api/channels/{index}",
		Summary:     "Get channel metrics",
		Description: "Returns the metrics of one channel computed from the current curves",
		Tags:        []string{"Channels"},
	}, sweepHandler.GetChannel)

	huma.Register(api, huma.Operation{
		OperationID: "getRunResults",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/results",
		Summary:     "Get stored results",
		Description: "Returns the channel metrics stored when a device sweep completed",
		Tags:        []string{"Runs"},
	}, sweepHandler.GetRunResults)

	huma.Register(api, huma.Operation{
		OperationID: "getRunArchive",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/archive",
		Summary:     "Get archive download URL",
		Description: "Returns a pre-signed URL for the raw curves of a device sweep",
		Tags:        []string{"Runs"},
	}, sweepHandler.GetArchive)

	huma.Register(api, huma.Operation{
		OperationID: "plotChannels",
		Method:      http.MethodGet,
		Path:        "/api/plot",
		Summary:     "Plot insertion loss",
		Description: "Renders the current insertion loss curves of every channel as a PNG",
		Tags:        []string{"Channels"},
	}, sweepHandler.Plot)

	huma.Register(api, huma.Operation{
		OperationID: "getRunPlot",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/plot",
		Summary:     "Plot archived insertion loss",
		Description: "Renders the insertion loss curves archived with a device sweep as a PNG",
		Tags:        []string{"Runs"},
	}, sweepHandler.GetRunPlot)

	sse.Register(api, huma.Operation{
		OperationID: "streamEvents",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Stream sweep events",
		Description: "Server-sent events carrying sweep progress and status messages",
		Tags:        []string{"Events"},
	}, handlers.EventTypes, eventHandler.StreamEvents)
}
