package notify

import (
	"context"
	"encoding/json"

	"github.com/judgeflow/backend/internal/models"
)

// Channel is the pub/sub channel that carries user events from workers to
// every API instance holding WebSocket connections.
const Channel = "judge:events"

const EventSubmissionJudged = "submission:judged"

// Event is the envelope published on Channel.
type Event struct {
	UserID  string          `json:"user_id"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// JudgedPayload announces a submission's terminal status.
type JudgedPayload struct {
	SubmissionID string                  `json:"submissionId"`
	Status       models.SubmissionStatus `json:"status"`
	Points       int                     `json:"points"`
}

// Emitter pushes an event to whatever connections a user currently has.
// Delivery is best effort; there is no inbox for offline users.
type Emitter interface {
	EmitToUser(ctx context.Context, userID, event string, payload interface{}) error
}
