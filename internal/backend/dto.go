package backend

import "encoding/json"

// messageDTO is the wire shape stored in the backend. Every field is
// optional on read: records written by older clients may miss any of them,
// and missing fields map to explicit defaults rather than decode errors.
type messageDTO struct {
	ID         string   `json:"id,omitempty"`
	Text       *string  `json:"text,omitempty"`
	MediaURLs  []string `json:"mediaUrls,omitempty"`
	SenderID   string   `json:"senderId,omitempty"`
	SenderName string   `json:"senderName,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"`
	Status     string   `json:"status,omitempty"`
}

func dtoFromDomain(m Message) messageDTO {
	return messageDTO{
		ID:         m.ID,
		Text:       m.Text,
		MediaURLs:  m.MediaURLs,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
		Status:     string(m.Status),
	}
}

func (d messageDTO) toDomain() Message {
	status := Status(d.Status)
	switch status {
	case StatusSending, StatusSent, StatusFailed:
	default:
		// Records without a status predate the field; treat them as
		// delivered.
		status = StatusSent
	}
	return Message{
		ID:         d.ID,
		Text:       d.Text,
		MediaURLs:  d.MediaURLs,
		SenderID:   d.SenderID,
		SenderName: d.SenderName,
		Timestamp:  d.Timestamp,
		Status:     status,
	}
}

func encodeMessage(m Message) ([]byte, error) {
	return json.Marshal(dtoFromDomain(m))
}

func decodeMessage(raw []byte) (Message, error) {
	var d messageDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return Message{}, err
	}
	return d.toDomain(), nil
}
