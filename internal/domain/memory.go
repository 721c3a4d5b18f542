// Package domain contains core domain types for the carbot application.
package domain

// Memory holds the facts collected from a user during the car-purchase
// dialog. An empty string means the fact is not known yet; stored values
// are always trimmed and non-blank. Summary is never absent, only empty.
//
// Memory is an immutable value: it is replaced as a whole, never mutated
// in place.
type Memory struct {
	Budget   string `json:"budget"`
	Country  string `json:"country"`
	Purpose  string `json:"purpose"`
	BodyType string `json:"body_type"`
	Summary  string `json:"summary"`
}
