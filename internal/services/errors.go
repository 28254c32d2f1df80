package services

import "github.com/pkg/errors"

// Domain errors raised by the fulfillment core. All of them abort and roll
// back the enclosing transaction; callers match with errors.Is.
var (
	// ErrInvalidQuantity is returned when a zero or negative quantity is
	// given where a positive one is required.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInsufficientStock is returned when a reservation would exceed a
	// lot's on-hand quantity.
	ErrInsufficientStock = errors.New("insufficient stock on hand")

	// ErrInvalidState is returned when a release or consume would drive a
	// lot's reserved quantity negative.
	ErrInvalidState = errors.New("inventory record in invalid state for operation")

	// ErrCyclicBOM is returned when a bill-of-materials walk trips the
	// recursion guard. A legitimate BOM is a DAG; a cycle is bad data.
	ErrCyclicBOM = errors.New("cycle detected in bill of materials")

	// ErrIllegalTransition is returned when an order or shipment status
	// change is not permitted by the lifecycle state machine.
	ErrIllegalTransition = errors.New("illegal lifecycle transition")

	// ErrOrderNotReady is returned when a shipment is built from an order
	// that is not in an allocatable state.
	ErrOrderNotReady = errors.New("order not ready for shipment")
)
