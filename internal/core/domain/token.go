package domain

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/pkg/errors"
)

// ViewerToken is the display view of a media bearer token.
type ViewerToken struct {
	Token    string    `json:"token"`
	Identity UserID    `json:"identity"`
	Name     string    `json:"name"`
	Expiry   time.Time `json:"expiry"`
}

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512, jose.RS256, jose.ES256, jose.EdDSA,
}

type tokenExtra struct {
	Name string `json:"name"`
}

// ParseViewerToken decodes identity, name and expiry from a bearer token
// without checking its signature. The result is for display only and must
// not be used to authorize anything.
func ParseViewerToken(raw string) (ViewerToken, error) {
	tok, err := jwt.ParseSigned(raw, tokenAlgorithms)
	if err != nil {
		return ViewerToken{}, errors.Wrap(ErrInvalidToken, err.Error())
	}

	var std jwt.Claims
	var extra tokenExtra
	if err := tok.UnsafeClaimsWithoutVerification(&std, &extra); err != nil {
		return ViewerToken{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if std.Subject == "" {
		return ViewerToken{}, errors.Wrap(ErrInvalidToken, "missing sub claim")
	}

	vt := ViewerToken{
		Token:    raw,
		Identity: UserID(std.Subject),
		Name:     extra.Name,
	}
	if std.Expiry != nil {
		vt.Expiry = std.Expiry.Time()
	}
	return vt, nil
}
