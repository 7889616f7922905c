package rtb

import (
	"time"

	"github.com/google/uuid"
)

// Assignment links a router to a target with a participation priority.
// Lower priority values dispatch first when capacity is contended.
type Assignment struct {
	RouterID  uuid.UUID `json:"router_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAssignment links a target to a router
func NewAssignment(routerID, targetID uuid.UUID, priority int) *Assignment {
	return &Assignment{
		RouterID:  routerID,
		TargetID:  targetID,
		Priority:  priority,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}
