// Package events defines the event types published on the bus.
package events

// Operation lifecycle events, published by the session coordinator.
const (
	OperationStarted   = "operation.started"
	OperationCompleted = "operation.completed"
	OperationFailed    = "operation.failed"
	OperationCancelled = "operation.cancelled"
)

// Connection lifecycle events, published by the gateway.
const (
	ClientConnected    = "client.connected"
	ClientDisconnected = "client.disconnected"
)
