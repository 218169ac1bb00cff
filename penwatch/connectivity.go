package penwatch

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/penwatch/connectivity"
)

// Connectivity service names.
const (
	MessageService = "penwatch_message"
	StatusService  = "penwatch_status"
)

// RegisterConnectivity registers the Watcher's services on router.
//
// Registered services:
//
//	penwatch_message: message envelope → reply (see HandleMessage)
//	penwatch_status:  {} → [PageStatus]
func (w *Watcher) RegisterConnectivity(router *connectivity.Router, mws ...connectivity.HandlerMiddleware) {
	chain := connectivity.Chain(mws...)
	router.RegisterLocal(MessageService, chain(w.HandleMessage))
	router.RegisterLocal(StatusService, chain(w.handleStatus))
}

func (w *Watcher) handleStatus(ctx context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(w.Status(ctx))
}
