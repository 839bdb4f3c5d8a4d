package domain

import "strings"

// ChatSettings holds per-stream chat flags. A nil field is unknown: either a
// partial update that leaves it alone, or a cache entry that has not seen it.
type ChatSettings struct {
	IsChatEnabled       *bool `json:"isChatEnabled,omitempty"`
	IsChatDelayed       *bool `json:"isChatDelayed,omitempty"`
	IsChatFollowersOnly *bool `json:"isChatFollowersOnly,omitempty"`
}

func Bool(b bool) *bool {
	return &b
}

func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		IsChatEnabled:       Bool(true),
		IsChatDelayed:       Bool(false),
		IsChatFollowersOnly: Bool(false),
	}
}

func (s ChatSettings) IsEmpty() bool {
	return s.IsChatEnabled == nil && s.IsChatDelayed == nil && s.IsChatFollowersOnly == nil
}

// Merge returns s with every non-nil field of patch applied. The result never
// aliases patch.
func (s ChatSettings) Merge(patch ChatSettings) ChatSettings {
	out := s.clone()
	if patch.IsChatEnabled != nil {
		out.IsChatEnabled = Bool(*patch.IsChatEnabled)
	}
	if patch.IsChatDelayed != nil {
		out.IsChatDelayed = Bool(*patch.IsChatDelayed)
	}
	if patch.IsChatFollowersOnly != nil {
		out.IsChatFollowersOnly = Bool(*patch.IsChatFollowersOnly)
	}
	return out
}

// WithDefaults fills unknown fields from DefaultChatSettings.
func (s ChatSettings) WithDefaults() ChatSettings {
	return DefaultChatSettings().Merge(s)
}

// Changes describes every field where next differs from s, unknown fields
// taken as defaults on both sides.
func (s ChatSettings) Changes(next ChatSettings) []string {
	prev, cur := s.WithDefaults(), next.WithDefaults()

	var out []string
	if *prev.IsChatEnabled != *cur.IsChatEnabled {
		out = append(out, toggled("Chat", *cur.IsChatEnabled))
	}
	if *prev.IsChatDelayed != *cur.IsChatDelayed {
		out = append(out, toggled("Chat delay", *cur.IsChatDelayed))
	}
	if *prev.IsChatFollowersOnly != *cur.IsChatFollowersOnly {
		out = append(out, toggled("Followers-only chat", *cur.IsChatFollowersOnly))
	}
	return out
}

// ChangeNotice is the text shown when pushed settings differ from the cache.
func ChangeNotice(changes []string) string {
	return "Chat settings updated: " + strings.Join(changes, ", ")
}

func toggled(what string, on bool) string {
	if on {
		return what + " enabled"
	}
	return what + " disabled"
}

func (s ChatSettings) clone() ChatSettings {
	var out ChatSettings
	if s.IsChatEnabled != nil {
		out.IsChatEnabled = Bool(*s.IsChatEnabled)
	}
	if s.IsChatDelayed != nil {
		out.IsChatDelayed = Bool(*s.IsChatDelayed)
	}
	if s.IsChatFollowersOnly != nil {
		out.IsChatFollowersOnly = Bool(*s.IsChatFollowersOnly)
	}
	return out
}
