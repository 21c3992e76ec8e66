package sdk

import (
	"fmt"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// legalTransitions defines the allowed flow state transitions shared by all
// transfer variants. Each key is a "from" state, and the value is a set of
// valid "to" states.
//
// Terminal states (SUCCESS, ERROR) have no outgoing transitions.
var legalTransitions = map[anchorclient.FlowState]map[anchorclient.FlowState]bool{
	anchorclient.StateInitiated: {
		anchorclient.StateNeedsInput: true,
		anchorclient.StateCanProceed: true,
		anchorclient.StateNeedsKYC:   true,
		anchorclient.StatePending:    true,
		anchorclient.StateError:      true,
	},
	anchorclient.StateNeedsInput: {
		anchorclient.StateCanProceed: true,
		anchorclient.StateNeedsKYC:   true,
		anchorclient.StateError:      true,
	},
	anchorclient.StateNeedsKYC: {
		anchorclient.StateNeedsInput: true,
		anchorclient.StateCanProceed: true,
		anchorclient.StatePending:    true,
		anchorclient.StateError:      true,
	},
	anchorclient.StateCanProceed: {
		// A forbidden initiation can send the flow back to KYC.
		anchorclient.StateNeedsKYC: true,
		anchorclient.StatePending:  true,
		anchorclient.StateSuccess:  true,
		anchorclient.StateError:    true,
	},
	anchorclient.StatePending: {
		// pending_customer_info_update sends a transfer back to KYC.
		anchorclient.StateNeedsKYC: true,
		anchorclient.StateSuccess:  true,
		anchorclient.StateError:    true,
	},
	// Terminal states have no outgoing transitions
	anchorclient.StateSuccess: {},
	anchorclient.StateError:   {},
}

// ValidateTransition checks if a flow state transition from "from" to "to"
// is legal.
//
// Returns nil if the transition is valid, or an error with code
// TRANSITION_INVALID if the transition is not allowed.
func ValidateTransition(from, to anchorclient.FlowState) error {
	validToStates, exists := legalTransitions[from]
	if !exists {
		return errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("unknown source state: %s", from),
			nil,
		)
	}

	if !validToStates[to] {
		return errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("illegal transition from %s to %s", from, to),
			nil,
		)
	}

	return nil
}
