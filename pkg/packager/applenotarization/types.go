package applenotarization

import "time"

type submitResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Path    string `json:"path"`
}

type infoResponse struct {
	Message     string    `json:"message"`
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"createdDate"`
	Status      string    `json:"status"`
	Name        string    `json:"name"`
}
