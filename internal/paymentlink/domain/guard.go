package domain

// Transition guards. The state machine only moves along
// DRAFT->OPEN and OPEN->{PAID,EXPIRED,CANCELED}.

func EnsureCanActivate(status Status) error {
	if status != StatusDraft {
		return ErrInvalidTransition
	}
	return nil
}

func EnsureCanCancel(status Status) error {
	if status != StatusOpen {
		return ErrInvalidTransition
	}
	return nil
}
