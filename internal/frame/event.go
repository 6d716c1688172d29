// Package frame implements the payment frame pipeline: signed-event
// validation, the opaque wizard state codec, and the step state machine.
package frame

// InteractionEvent is the normalized view of a validated inbound frame
// event. Nothing here may be trusted unless it came out of the Validator.
type InteractionEvent struct {
	ActorFID       int64
	ActorUsername  string
	ActorAddresses []string

	// Button is the 1-based index of the tapped control, 0 when absent.
	Button int
	// Input is the free-text field content, empty when absent.
	Input string
	// State is the opaque wizard state echoed back by the client.
	State string

	CastHash      string
	CastAuthorFID int64

	// TxHash is set when the event is a settlement callback.
	TxHash string

	// Client labels the originating feed client.
	Client string
}
