package ingest

import (
	"context"
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/sentineldispatch/core/pkg/messaging"
)

// Subscribe binds OnNewEvent/OnLiteResults to the ingest bus's two
// subjects, the NATS analog of integrate_with_mobile_api's closures.
func (in *Ingest) Subscribe(ctx context.Context, client *messaging.Client) error {
	if err := client.Subscribe(subjectNewEvent, func(msg *nats.Msg) {
		var payload NewEventPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Printf("ingest: bad %s payload: %v", subjectNewEvent, err)
			return
		}
		if err := in.OnNewEvent(ctx, payload); err != nil {
			log.Printf("ingest: on new event %s: %v", payload.EventID, err)
		}
	}); err != nil {
		return err
	}

	return client.Subscribe(subjectLiteResults, func(msg *nats.Msg) {
		var payload LiteResultsPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Printf("ingest: bad %s payload: %v", subjectLiteResults, err)
			return
		}
		if err := in.OnLiteResults(ctx, payload); err != nil {
			log.Printf("ingest: on lite results %s: %v", payload.EventID, err)
		}
	})
}
