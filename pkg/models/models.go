package models

import (
	"time"
)

// SweepKind identifies which curve a sweep records
type SweepKind string

const (
	SweepKindReference SweepKind = "reference"
	SweepKindDevice    SweepKind = "device"
)

// Sweep run statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// SweepRun represents one reference or device sweep (for internal use)
type SweepRun struct {
	ID          string     `json:"id"`
	Kind        SweepKind  `json:"kind"`
	Label       string     `json:"label,omitempty"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	ErrorMsg    *string    `json:"error_message,omitempty"`
	ArchiveKey  *string    `json:"archive_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ChannelResult holds the derived optical metrics of one PLC channel.
// Nil values are undefined (no data yet, or the curve did not allow the search).
type ChannelResult struct {
	Channel     int              `json:"channel" doc:"Zero-based channel index"`
	Label       string           `json:"label" doc:"Channel display label"`
	ITU         float64          `json:"itu" doc:"ITU target wavelength in nm"`
	Points      int              `json:"points" doc:"Number of insertion loss points"`
	MSR         *float64         `json:"msr,omitempty" doc:"Measured center wavelength in nm"`
	DeltaLambda *float64         `json:"delta_lambda,omitempty" doc:"|MSR - ITU| in nm"`
	LossMin     *WavelengthPoint `json:"loss_min,omitempty" doc:"Minimum insertion loss within ITU ±1nm"`
	LossMax     *WavelengthPoint `json:"loss_max,omitempty" doc:"Maximum insertion loss within ITU ±1nm"`
	LossRipple  *float64         `json:"loss_ripple,omitempty" doc:"LossMax - LossMin in dB"`
	PassBand1dB *float64         `json:"passband_1db,omitempty" doc:"1dB passband width in nm"`
	PassBand3dB *float64         `json:"passband_3db,omitempty" doc:"3dB passband width in nm"`
	AxN         *WavelengthPoint `json:"ax_n,omitempty" doc:"Crosstalk from the previous channel"`
	AxP         *WavelengthPoint `json:"ax_p,omitempty" doc:"Crosstalk from the next channel"`
	NX          *float64         `json:"nx,omitempty" doc:"Non-adjacent crosstalk in dB"`
}

// ChannelCurves is the raw data of one channel as archived after a device sweep
type ChannelCurves struct {
	Channel       int               `json:"channel"`
	Label         string            `json:"label"`
	ITU           float64           `json:"itu"`
	Reference     []WavelengthPoint `json:"reference"`
	ThroughPLC    []WavelengthPoint `json:"through_plc"`
	InsertionLoss []WavelengthPoint `json:"insertion_loss"`
}

// SweepArchive is the document written to object storage for a completed device sweep
type SweepArchive struct {
	RunID     string          `json:"run_id"`
	Label     string          `json:"label,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Channels  []ChannelCurves `json:"channels"`
	Results   []ChannelResult `json:"results"`
}

// ProgressEvent is streamed to subscribers after every sweep step
type ProgressEvent struct {
	Progress float64   `json:"progress" minimum:"0" maximum:"1" doc:"Fraction of the sweep completed"`
	Time     time.Time `json:"time" doc:"When the step finished"`
}

// MessageEvent is a free-text status line from the sweep coordinator
type MessageEvent struct {
	Message string    `json:"message" doc:"Status message"`
	Time    time.Time `json:"time" doc:"When the message was published"`
}

// ConnectInstrumentsResponse represents the result of probing the bench
type ConnectInstrumentsResponse struct {
	Body struct {
		Instruments []string `json:"instruments" doc:"Identification strings of the instruments found"`
	}
}

// StartSweepRequest represents a request to start a sweep
type StartSweepRequest struct {
	Body struct {
		Label string `json:"label,omitempty" maxLength:"100" doc:"Free text label such as a chip identifier"`
	}
}

// StartSweepResponseBody is the body of the start sweep response
type StartSweepResponseBody struct {
	ID     string    `json:"id" doc:"Sweep run identifier"`
	Kind   SweepKind `json:"kind" enum:"reference,device" doc:"Sweep kind"`
	Status string    `json:"status" doc:"Initial run status"`
}

// StartSweepResponse represents the response from starting a sweep
type StartSweepResponse struct {
	Body StartSweepResponseBody
}

// StopSweepResponse represents the response from a stop request
type StopSweepResponse struct {
	Body struct {
		Message string `json:"message" doc:"Confirmation message"`
	}
}

// GetSweepRequest represents a request to get a sweep run
type GetSweepRequest struct {
	ID string `path:"id" doc:"Sweep run ID"`
}

// GetSweepResponseBody is the body of the sweep status response
type GetSweepResponseBody struct {
	ID         string    `json:"id" doc:"Sweep run ID"`
	Kind       SweepKind `json:"kind" doc:"Sweep kind"`
	Label      string    `json:"label,omitempty" doc:"Run label"`
	Status     string    `json:"status" enum:"pending,running,completed,canceled,failed" doc:"Run status"`
	Progress   int       `json:"progress" minimum:"0" maximum:"100" doc:"Sweep progress percentage"`
	Message    string    `json:"message,omitempty" doc:"Human-readable status message"`
	Error      *string   `json:"error,omitempty" doc:"Failure reason"`
	ArchiveKey *string   `json:"archive_key,omitempty" doc:"Raw data archive key"`
}

// GetSweepResponse represents the current status of a sweep run
type GetSweepResponse struct {
	Body GetSweepResponseBody
}

// ListChannelsResponse represents the live metrics of every channel
type ListChannelsResponse struct {
	Body struct {
		Channels []ChannelResult `json:"channels" doc:"Per channel metrics"`
	}
}

// GetChannelRequest represents a request for one channel's live metrics
type GetChannelRequest struct {
	Index int `path:"index" minimum:"0" doc:"Zero-based channel index"`
}

// GetChannelResponse represents one channel's live metrics
type GetChannelResponse struct {
	Body ChannelResult
}

// GetRunResultsRequest represents a request for persisted results
type GetRunResultsRequest struct {
	ID string `path:"id" doc:"Sweep run ID"`
}

// GetRunResultsResponseBody is the body of the persisted results response
type GetRunResultsResponseBody struct {
	ID       string          `json:"id" doc:"Sweep run ID"`
	Label    string          `json:"label,omitempty" doc:"Run label"`
	Channels []ChannelResult `json:"channels" doc:"Per channel metrics"`
}

// GetRunResultsResponse represents the persisted results of a device sweep
type GetRunResultsResponse struct {
	Body GetRunResultsResponseBody
}

// GetArchiveRequest represents a request for the raw data archive
type GetArchiveRequest struct {
	ID string `path:"id" doc:"Sweep run ID"`
}

// GetArchiveResponse represents a download URL for the raw data archive
type GetArchiveResponse struct {
	Body struct {
		URL       string `json:"url" doc:"Pre-signed download URL"`
		ExpiresIn int    `json:"expires_in" doc:"URL expiration time in seconds"`
	}
}

// PlotRequest represents a request for the live insertion loss chart
type PlotRequest struct {
	Title string `query:"title" maxLength:"100" doc:"Chart title"`
}

// GetRunPlotRequest represents a request for the chart of an archived sweep
type GetRunPlotRequest struct {
	ID string `path:"id" doc:"Sweep run ID"`
}

// PlotResponse is a rendered PNG chart
type PlotResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}
