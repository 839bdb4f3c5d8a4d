package port

import "github.com/Wyydra/yalive/internal/core/domain"

// Notifier shows one-shot notices to the user.
type Notifier interface {
	Notify(n domain.Notice)
}

// CallView is the part of the call screen the coordinators drive.
type CallView interface {
	PlayRingtone(invite domain.CallInvite)
	StopRingtone()
	// OpenCall opens a new media session context for the accepted invite.
	OpenCall(invite domain.CallInvite)
	CloseWindow()
}
