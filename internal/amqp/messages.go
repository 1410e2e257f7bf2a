package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImportRequestMessage asks a worker to run the ingestion pipeline over a CSV
// payload. Authorization is checked before the message is published.
type ImportRequestMessage struct {
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	HasHeader bool      `json:"has_header"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewImportRequestMessage(source string, hasHeader bool, content []byte) *ImportRequestMessage {
	return &ImportRequestMessage{
		JobID:     uuid.NewString(),
		Source:    source,
		HasHeader: hasHeader,
		Content:   string(content),
		Timestamp: time.Now(),
	}
}

func (m *ImportRequestMessage) Validate() error {
	if m.JobID == "" {
		return errors.New("missing job id")
	}
	if m.Content == "" {
		return errors.New("empty content")
	}
	return nil
}

func (m *ImportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ImportRequestMessageFromJSON decodes and validates a message body.
func ImportRequestMessageFromJSON(data []byte) (*ImportRequestMessage, error) {
	var msg ImportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
