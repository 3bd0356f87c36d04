package messages

import "encoding/json"

// MessageTypeGradingResult tags a published grading report.
const MessageTypeGradingResult = "grading_result"

// ResponseQueueMessage is the envelope of every message the grader publishes.
// MessageID carries the run ID and Ok mirrors the report's gradable flag.
type ResponseQueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Ok        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload"`
}
