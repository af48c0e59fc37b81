package orders

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved
}

// Transition names an operation that can be applied to an existing order.
type Transition string

const (
	TransitionApprove Transition = "approve"
	TransitionAdd     Transition = "add"
	TransitionRemove  Transition = "remove"
	TransitionModify  Transition = "modify"
	TransitionDelete  Transition = "delete"
)

// validNext lists, per state, the transitions allowed and the resulting state.
// Delete has no resulting state; the record is gone.
var validNext = map[Status]map[Transition]Status{
	StatusPending: {
		TransitionApprove: StatusApproved,
		TransitionAdd:     StatusPending,
		TransitionRemove:  StatusPending,
		TransitionModify:  StatusPending,
		TransitionDelete:  "",
	},
	StatusApproved: {},
}

func CanTransition(from Status, t Transition) bool {
	_, ok := validNext[from][t]
	return ok
}

// next returns the state reached by applying t, or a locked error.
func next(op string, from Status, t Transition) (Status, error) {
	to, ok := validNext[from][t]
	if !ok {
		return from, newError(op, KindOrderLocked, lockedMessage(from, t), nil)
	}
	return to, nil
}

func lockedMessage(from Status, t Transition) string {
	if from == StatusApproved {
		if t == TransitionApprove {
			return "order already approved"
		}
		return "order is approved and can no longer be changed"
	}
	return "transition " + string(t) + " not allowed from " + string(from)
}
