package state

import "github.com/google/uuid"

func newObserverID() string { return uuid.NewString() }
