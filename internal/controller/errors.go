package controller

import "errors"

// ErrPriorityBeforeThreshold is returned by SetPriority when no power
// threshold is active; the priority node is left unchanged.
var ErrPriorityBeforeThreshold = errors.New("controller: priority set before threshold")
