package amqp

import (
	"encoding/json"
	"time"
)

// ChangeMessage tells other processes that a collection changed. Origin
// identifies the publishing process so it can ignore its own echo.
type ChangeMessage struct {
	Origin     string    `json:"origin"`
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewChangeMessage(origin, collection string) *ChangeMessage {
	return &ChangeMessage{
		Origin:     origin,
		Collection: collection,
		Timestamp:  time.Now(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// InviteEmailMessage carries everything the notify worker needs to render
// an invitation mail without reading the database.
type InviteEmailMessage struct {
	InviteID    string    `json:"invite_id"`
	FamilyID    string    `json:"family_id"`
	FamilyName  string    `json:"family_name"`
	InviterName string    `json:"inviter_name"`
	Recipient   string    `json:"recipient"`
	AppURL      string    `json:"app_url"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewInviteEmailMessage(inviteID, familyID, familyName, inviterName, recipient, appURL string) *InviteEmailMessage {
	return &InviteEmailMessage{
		InviteID:    inviteID,
		FamilyID:    familyID,
		FamilyName:  familyName,
		InviterName: inviterName,
		Recipient:   recipient,
		AppURL:      appURL,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InviteEmailMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InviteEmailMessageFromJSON(data []byte) (*InviteEmailMessage, error) {
	var msg InviteEmailMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
