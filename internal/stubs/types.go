package stubs

// Fixture record shapes served by the stub realtime server. They mirror
// what the back-office emits on the two namespaces.

type APILog struct {
	Timestamp  string `json:"timestamp"`
	Method     string `json:"method"`
	Endpoint   string `json:"endpoint"`
	Status     int    `json:"status"`
	DurationMs int    `json:"duration_ms"`
	UserEmail  string `json:"user_email,omitempty"`
}

type APILogsFixture struct {
	Logs []APILog `json:"logs"`
}

type WorkflowError struct {
	ID           string `json:"id"`
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	Message      string `json:"message"`
	CreatedAt    string `json:"created_at"`
}

type WorkflowErrorsFixture struct {
	Errors []WorkflowError `json:"errors"`
}
