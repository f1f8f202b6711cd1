package api

// errorResponse is the JSON body returned for rejected requests.
type errorResponse struct {
	Error string `json:"error"`
}
