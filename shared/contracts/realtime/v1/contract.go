// Package v1 defines the realtime websocket wire contract.
//
// Every frame is a JSON text message carrying one Envelope. Event names match
// the ones existing web clients already emit and listen for.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Subprotocol is negotiated on upgrade. Clients that send none are accepted.
	Subprotocol = "chat.realtime.v1"

	TypeIsOnline    = "isOnline"
	TypeGetUsers    = "getUsers"
	TypeSendMessage = "sendMessage"
	TypeNewMessage  = "newMessage"
	TypeDisconnect  = "disconnect"
	TypeLastSeen    = "lastSeen"
	TypeError       = "error"
)

// ClientTypes lists the events a client may send.
var ClientTypes = map[string]struct{}{
	TypeIsOnline:    {},
	TypeSendMessage: {},
	TypeDisconnect:  {},
}

type Envelope struct {
	V    int             `json:"v"`
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	TS   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate checks an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := ClientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}

// Decode unmarshals e.Data into dst. Missing data decodes as an empty object.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

type IsOnline struct {
	UserID string `json:"userID"`
}

type OnlineUser struct {
	UserID string `json:"userId"`
}

type GetUsers struct {
	ActiveList []OnlineUser `json:"activeList"`
}

type SendMessage struct {
	ReceiverIDs []string        `json:"receiverIds"`
	Payload     json.RawMessage `json:"payload"`
}

type NewMessage struct {
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId,omitempty"`
}

type LastSeen struct {
	UserLastSeenID string    `json:"userLastSeenId"`
	LastSeenTime   time.Time `json:"lastSeenTime"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
