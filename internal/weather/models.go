package weather

import (
	"time"
)

// RequestMessage is one per-city unit of work published to the request topic.
// All messages belonging to one caller request share a CorrelationID and
// carry the same TotalCities so the aggregator can detect completion.
type RequestMessage struct {
	CorrelationID string    `json:"correlationId"`
	City          string    `json:"city"`
	TotalCities   int       `json:"totalCities"`
	Timestamp     time.Time `json:"timestamp"`
}

// ResponseMessage is a worker's answer for a single city. A failed lookup
// still produces a response with Success=false so the aggregate never has to
// wait out the timeout for a city that deterministically failed.
type ResponseMessage struct {
	CorrelationID string  `json:"correlationId"`
	City          string  `json:"city"`
	TotalCities   int     `json:"totalCities"`
	Temperature   float64 `json:"temperature"`
	Description   string  `json:"description"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	Success       bool    `json:"success"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// ResultEntry is one recorded per-city result inside an aggregation context.
// It is also the payload republished on the individual-result topic.
// Immutable once constructed.
type ResultEntry struct {
	CorrelationID string  `json:"correlationId"`
	City          string  `json:"city"`
	Temperature   float64 `json:"temperature"`
	Description   string  `json:"description"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	Success       bool    `json:"success"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// EntryFromResponse strips the aggregation-only fields from a response.
func EntryFromResponse(resp ResponseMessage) ResultEntry {
	return ResultEntry{
		CorrelationID: resp.CorrelationID,
		City:          resp.City,
		Temperature:   resp.Temperature,
		Description:   resp.Description,
		Humidity:      resp.Humidity,
		WindSpeed:     resp.WindSpeed,
		Success:       resp.Success,
		ErrorMessage:  resp.ErrorMessage,
	}
}

// AggregatedReport is the terminal artifact of one correlation id: every
// recorded entry plus tallies. Partial is set when the report was forced by
// the timeout reaper before all cities answered.
type AggregatedReport struct {
	CorrelationID string        `json:"correlationId"`
	TotalCities   int           `json:"totalCities"`
	SuccessCount  int           `json:"successCount"`
	FailureCount  int           `json:"failureCount"`
	Reports       []ResultEntry `json:"reports"`
	Timestamp     time.Time     `json:"timestamp"`
	Partial       bool          `json:"partial"`
	PartialReason string        `json:"partialReason,omitempty"`
}
