package worker

import (
	"context"
	"encoding/json"
	"log"

	"github.com/i474232898/weather-fanout/internal/weather"
)

// HandleDeadLetter logs one dead-lettered request with full context for
// offline inspection. A passive sink: no retry, never an error, so the
// delivery is always acked.
func HandleDeadLetter(_ context.Context, body []byte) error {
	var msg weather.RequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("ERROR: === DEAD LETTER MESSAGE (unparseable) ===")
		log.Printf("ERROR: body: %s", body)
		log.Printf("ERROR: =========================================")
		return nil
	}

	log.Printf("ERROR: === DEAD LETTER MESSAGE RECEIVED ===")
	log.Printf("ERROR: correlation id: %s", msg.CorrelationID)
	log.Printf("ERROR: city: %s", msg.City)
	log.Printf("ERROR: total cities: %d", msg.TotalCities)
	log.Printf("ERROR: timestamp: %s", msg.Timestamp)
	log.Printf("ERROR: ====================================")
	return nil
}
