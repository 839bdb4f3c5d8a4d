// Package console is the headless call screen of the command line client:
// notices and call screen events go to the log.
package console

import (
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/Wyydra/yalive/internal/core/domain"
)

var (
	infoColor  = color.New(color.FgCyan)
	errorColor = color.New(color.FgRed, color.Bold)
)

// Notifier implements port.Notifier. Notices are printed to out as toasts
// and also logged.
type Notifier struct {
	out io.Writer
	log zerolog.Logger

	mu sync.Mutex
}

func NewNotifier(out io.Writer, l zerolog.Logger) *Notifier {
	return &Notifier{out: out, log: l.With().Str("component", "notice").Logger()}
}

func (n *Notifier) Notify(notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if notice.Level == domain.NoticeError {
		errorColor.Fprintf(n.out, "✗ %s\n", notice.Text)
		n.log.Error().Msg(notice.Text)
		return
	}
	infoColor.Fprintf(n.out, "• %s\n", notice.Text)
	n.log.Info().Msg(notice.Text)
}

// View implements port.CallView. OpenCall hands the invite to the opener
// set with SetOpener, which normally joins the call room.
type View struct {
	log zerolog.Logger

	mu      sync.Mutex
	ringing *domain.CallInvite
	opener  func(domain.CallInvite)
}

func NewView(l zerolog.Logger) *View {
	return &View{log: l.With().Str("component", "call").Logger()}
}

func (v *View) SetOpener(fn func(domain.CallInvite)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opener = fn
}

func (v *View) PlayRingtone(invite domain.CallInvite) {
	v.mu.Lock()
	v.ringing = &invite
	v.mu.Unlock()
	v.log.Info().
		Str("caller", invite.CallerID.String()).
		Str("caller_name", invite.CallerName).
		Str("room", invite.Room.String()).
		Msg("Incoming call")
}

func (v *View) StopRingtone() {
	v.mu.Lock()
	was := v.ringing != nil
	v.ringing = nil
	v.mu.Unlock()
	if was {
		v.log.Debug().Msg("Ringtone stopped")
	}
}

// Ringing returns the invite currently ringing.
func (v *View) Ringing() (domain.CallInvite, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ringing == nil {
		return domain.CallInvite{}, false
	}
	return *v.ringing, true
}

func (v *View) OpenCall(invite domain.CallInvite) {
	v.mu.Lock()
	open := v.opener
	v.mu.Unlock()
	v.log.Info().Str("code", invite.Code()).Msg("Opening call")
	if open != nil {
		open(invite)
	}
}

func (v *View) CloseWindow() {
	v.log.Info().Msg("Call window closed")
}
