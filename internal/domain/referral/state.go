package referral

// transitions is the referral state graph. Completed and cancelled have no
// outgoing edges. Declined, no-show and unsuccessful are closed but may be
// re-opened to pending.
var transitions = map[Status][]Status{
	StatusPending:      {StatusSent, StatusCancelled},
	StatusSent:         {StatusAccepted, StatusContacted, StatusDeclined, StatusCancelled},
	StatusAccepted:     {StatusContacted, StatusInProgress, StatusDeclined, StatusNoShow, StatusCancelled},
	StatusContacted:    {StatusAccepted, StatusInProgress, StatusDeclined, StatusNoShow, StatusUnsuccessful, StatusCancelled},
	StatusInProgress:   {StatusCompleted, StatusUnsuccessful, StatusNoShow, StatusDeclined, StatusCancelled},
	StatusDeclined:     {StatusPending},
	StatusNoShow:       {StatusPending},
	StatusUnsuccessful: {StatusPending},
	StatusCompleted:    nil,
	StatusCancelled:    nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition out of s exists.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsClosed reports whether the referral has reached an outcome state.
func (s Status) IsClosed() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeclined, StatusNoShow, StatusUnsuccessful:
		return true
	}
	return false
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the states reachable from s in one step.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}
