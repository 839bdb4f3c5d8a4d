// Package livekit mints media room access tokens.
package livekit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/pkg/errors"

	"github.com/Wyydra/yalive/internal/core/domain"
)

// Issuer implements port.TokenIssuer with LiveKit API credentials.
type Issuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) (*Issuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("livekit api key and secret are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}, nil
}

type participantMetadata struct {
	Avatar string `json:"avatar,omitempty"`
}

// Issue grants user access to room. Viewers get subscribe only.
func (i *Issuer) Issue(ctx context.Context, room domain.RoomID, user domain.UserData, canPublish bool) (string, error) {
	if user.Identity == "" {
		return "", errors.New("token identity is empty")
	}
	name := user.Name
	if name == "" {
		name = user.Identity.String()
	}
	subscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         room.String(),
		CanPublish:   &canPublish,
		CanSubscribe: &subscribe,
	}

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	at.SetVideoGrant(grant).
		SetIdentity(user.Identity.String()).
		SetName(name).
		SetValidFor(i.ttl)
	if user.Avatar != "" {
		meta, err := json.Marshal(participantMetadata{Avatar: user.Avatar})
		if err != nil {
			return "", err
		}
		at.SetMetadata(string(meta))
	}

	token, err := at.ToJWT()
	if err != nil {
		return "", errors.Wrapf(err, "sign token for %s in %s", user.Identity, room)
	}
	return token, nil
}
