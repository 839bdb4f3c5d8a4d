package domain

import "fmt"

type CallState string

const (
	CallIdle     CallState = "idle"
	CallDialing  CallState = "dialing"
	CallRinging  CallState = "ringing"
	CallIncoming CallState = "incoming"
	CallAccepted CallState = "accepted"
	CallRejected CallState = "rejected"
	CallMissed   CallState = "missed"
	CallLeft     CallState = "left"
)

// Terminal reports whether the state is a sink: no signal moves a call out of it.
func (s CallState) Terminal() bool {
	switch s {
	case CallAccepted, CallRejected, CallMissed, CallLeft:
		return true
	}
	return false
}

type SignalType string

const (
	SignalInvite SignalType = "INVITE"
	SignalAccept SignalType = "ACCEPT"
	SignalReject SignalType = "REJECT"
)

// CallInvite is published once by the caller and consumed once by the callee.
type CallInvite struct {
	CallerID     UserID `json:"callerId"`
	CalleeID     UserID `json:"calleeId"`
	Room         RoomID `json:"room"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
}

// Code is the call code used by the REST collaborator: "{room}-{callerId}".
func (i CallInvite) Code() string {
	return CallCode(i.Room, i.CallerID)
}

func CallCode(room RoomID, caller UserID) string {
	return fmt.Sprintf("%s-%s", room, caller)
}

type AcceptSignal struct {
	FromUser     UserID `json:"fromUser"`
	AcceptedFrom UserID `json:"acceptedFrom"`
}

type RejectSignal struct {
	Room     RoomID `json:"room"`
	CallerID UserID `json:"callerId"`
	CalleeID UserID `json:"calleeId"`
}

// CallSignal is the payload delivered on call/{userId}. Type selects which of
// the variant fields are meaningful.
type CallSignal struct {
	Type SignalType `json:"type"`

	// Invite
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`

	// Accept
	FromUser     UserID `json:"fromUser,omitempty"`
	AcceptedFrom UserID `json:"acceptedFrom,omitempty"`

	// Invite and Reject
	Room     RoomID `json:"room,omitempty"`
	CallerID UserID `json:"callerId,omitempty"`
	CalleeID UserID `json:"calleeId,omitempty"`
}

func NewInviteSignal(i CallInvite) CallSignal {
	return CallSignal{
		Type:         SignalInvite,
		CallerID:     i.CallerID,
		CalleeID:     i.CalleeID,
		Room:         i.Room,
		CallerName:   i.CallerName,
		CallerAvatar: i.CallerAvatar,
	}
}

func NewAcceptSignal(a AcceptSignal) CallSignal {
	return CallSignal{Type: SignalAccept, FromUser: a.FromUser, AcceptedFrom: a.AcceptedFrom}
}

func NewRejectSignal(r RejectSignal) CallSignal {
	return CallSignal{Type: SignalReject, Room: r.Room, CallerID: r.CallerID, CalleeID: r.CalleeID}
}

func (s CallSignal) Invite() CallInvite {
	return CallInvite{
		CallerID:     s.CallerID,
		CalleeID:     s.CalleeID,
		Room:         s.Room,
		CallerName:   s.CallerName,
		CallerAvatar: s.CallerAvatar,
	}
}

func (s CallSignal) Accept() AcceptSignal {
	return AcceptSignal{FromUser: s.FromUser, AcceptedFrom: s.AcceptedFrom}
}

func (s CallSignal) Reject() RejectSignal {
	return RejectSignal{Room: s.Room, CallerID: s.CallerID, CalleeID: s.CalleeID}
}
