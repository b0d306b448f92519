package migration

// DriverState is one of the eight lifecycle states of the migration driver.
type DriverState string

const (
	StateUninitialized            DriverState = "UNINITIALIZED"
	StateInactive                 DriverState = "INACTIVE"
	StateWaitForControllerQuorum  DriverState = "WAIT_FOR_CONTROLLER_QUORUM"
	StateWaitForBrokers           DriverState = "WAIT_FOR_BROKERS"
	StateBecomeController         DriverState = "BECOME_CONTROLLER"
	StateZkMigration              DriverState = "ZK_MIGRATION"
	StateKRaftControllerToBroker  DriverState = "KRAFT_CONTROLLER_TO_BROKER_COMM"
	StateDualWrite                DriverState = "DUAL_WRITE"
)

// legalTransitions is the adjacency list of the driver state machine.
// Identity self-transitions are always legal and are not listed here.
var legalTransitions = map[DriverState][]DriverState{
	StateUninitialized:           {StateInactive},
	StateInactive:                {StateWaitForControllerQuorum},
	StateWaitForControllerQuorum: {StateInactive, StateBecomeController, StateWaitForBrokers},
	StateWaitForBrokers:          {StateInactive, StateBecomeController},
	StateBecomeController:       {StateInactive, StateZkMigration, StateKRaftControllerToBroker},
	StateZkMigration:             {StateInactive, StateKRaftControllerToBroker},
	StateKRaftControllerToBroker: {StateInactive, StateDualWrite},
	StateDualWrite:                {StateInactive},
}

// IllegalTransitionError is raised when TransitionGuard rejects a move; it is
// a programming error, never an expected runtime condition.
type IllegalTransitionError struct {
	From DriverState
	To   DriverState
}

func (e *IllegalTransitionError) Error() string {
	return "illegal driver state transition: " + string(e.From) + " -> " + string(e.To)
}

// TransitionGuard validates that moving from `from` to `to` is legal. The
// identity transition is always legal; UNINITIALIZED is never a legal
// destination.
func TransitionGuard(from, to DriverState) error {
	if from == to {
		return nil
	}
	if to == StateUninitialized {
		return &IllegalTransitionError{From: from, To: to}
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &IllegalTransitionError{From: from, To: to}
}
