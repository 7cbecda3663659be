package dto

// PredictionResult is the response body of a successful classification.
type PredictionResult struct {
	ClassIndex int     `json:"class_index"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"` // Percent, rounded to 2 decimals
}

// ErrorResponse is the response body of any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by the liveness endpoint.
type StatusResponse struct {
	Message string `json:"message"`
}
