package delivery

import (
	"github.com/i474232898/weather-fanout/internal/weather"
)

// Envelope frame types pushed over a streaming session. For one correlation
// id the order is always PROCESSING_STARTED, zero or more INDIVIDUAL_RESULT,
// then exactly one FINAL_REPORT.
const (
	TypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	TypeProcessingStarted     = "PROCESSING_STARTED"
	TypeIndividualResult      = "INDIVIDUAL_RESULT"
	TypeFinalReport           = "FINAL_REPORT"
	TypeError                 = "ERROR"
	TypeConnectionClosing     = "CONNECTION_CLOSING"
)

// Envelope is one JSON frame on a streaming session.
type Envelope struct {
	Type          string   `json:"type"`
	SessionID     string   `json:"sessionId,omitempty"`
	CorrelationID string   `json:"correlationId,omitempty"`
	TotalCities   int      `json:"totalCities,omitempty"`
	Cities        []string `json:"cities,omitempty"`
	Data          any      `json:"data,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// ConnectionEstablished confirms a fresh session to the client.
func ConnectionEstablished(sessionID string) Envelope {
	return Envelope{
		Type:      TypeConnectionEstablished,
		SessionID: sessionID,
		Message:   "WebSocket connection successful",
	}
}

// ProcessingStarted announces a dispatched request on its session.
func ProcessingStarted(correlationID string, cities []string) Envelope {
	return Envelope{
		Type:          TypeProcessingStarted,
		CorrelationID: correlationID,
		TotalCities:   len(cities),
		Cities:        cities,
	}
}

// IndividualResult wraps one per-city result.
func IndividualResult(entry weather.ResultEntry) Envelope {
	return Envelope{Type: TypeIndividualResult, Data: entry}
}

// FinalReport wraps the terminal aggregated report.
func FinalReport(report weather.AggregatedReport) Envelope {
	return Envelope{Type: TypeFinalReport, Data: report}
}

// ErrorFrame carries a caller-facing failure.
func ErrorFrame(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}

// ConnectionClosing is the last frame before an orderly close.
func ConnectionClosing() Envelope {
	return Envelope{
		Type:    TypeConnectionClosing,
		Message: "All data received, closing connection",
	}
}
