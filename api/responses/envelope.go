package responses

// Success is the /api/v1 body for 2xx responses.
type Success struct {
	Data any `json:"data"`
}

// Failure is the /api/v1 body for error responses.
type Failure struct {
	Error Problem `json:"error"`
}

type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// bareFailure is the unwrapped error body of the ML status callback.
type bareFailure struct {
	Error string `json:"error"`
}
