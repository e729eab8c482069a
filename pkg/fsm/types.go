package fsm

// RemovalRequest is the FSM input
type RemovalRequest struct {
	RunID  string
	Source string
}

// RemovalResponse is the FSM output (accumulated across transitions)
type RemovalResponse struct {
	// From Resolve
	Name    string
	Started int64

	// From Resolve, Compress
	Path       string
	Compressed bool

	// From Validate
	Size int64

	// From Upload
	AssetID string

	// From RemoveBackground
	MethodCode  string
	MethodLabel string
	ResultPath  string

	// From Save
	OutputPath string
	OutputSize int64

	// Temporary files owned by the run
	Temps []string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateResolve          = "resolve"
	StateValidate         = "validate"
	StateCompress         = "compress"
	StateUpload           = "upload"
	StateRemoveBackground = "remove_background"
	StateSave             = "save"
	StateComplete         = "complete"
	StateFailed           = "failed"
)

// Response statuses
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)
