package ledger

import (
	"github.com/dokzlo13/towerd/internal/eventbus"
)

// recorded lists the bus events kept in the ledger. Ambient readings change on
// nearly every poll and are left to metrics.
var recorded = []eventbus.EventType{
	eventbus.EventTypeRequest,
	eventbus.EventTypeLeds,
	eventbus.EventTypeMute,
	eventbus.EventTypeSettings,
	eventbus.EventTypeReset,
}

// Subscribe records bus events through the batcher.
func Subscribe(bus *eventbus.Bus, batcher *Batcher) {
	handler := func(e eventbus.Event) {
		requestID, _ := e.Data["request_id"].(string)
		batcher.Add(Record{
			EventType: EventType(e.Type),
			Timestamp: e.Time,
			RequestID: requestID,
			Payload:   e.Data,
		})
	}
	bus.SubscribeTypes(handler, recorded...)
}
