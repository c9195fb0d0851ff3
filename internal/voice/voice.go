// Package voice issues short-lived LiveKit-style access tokens authorizing
// a client to join an external audio SFU room. It holds no audio state of
// its own — token issuance is the entire surface (spec.md §1, §6).
package voice

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL matches the reference LiveKit service's default grant lifetime.
const DefaultTTL = 6 * time.Hour

// Service issues HS256 JWTs scoped to a single room for a single
// participant, signed with the configured LiveKit API secret.
type Service struct {
	apiKey    string
	apiSecret string
	serverURL string
	ttl       time.Duration
}

// ErrNotConfigured is returned when LiveKit credentials are absent; callers
// translate this into the wire ServerError the spec describes.
var ErrNotConfigured = fmt.Errorf("voice: not configured")

// NewService constructs a voice token issuer. apiKey/apiSecret/serverURL
// empty means voice is disabled; Enabled reports this and IssueToken
// returns ErrNotConfigured.
func NewService(apiKey, apiSecret, serverURL string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{apiKey: apiKey, apiSecret: apiSecret, serverURL: serverURL, ttl: ttl}
}

// Enabled reports whether all three LiveKit credentials are present.
func (s *Service) Enabled() bool {
	return s.apiKey != "" && s.apiSecret != "" && s.serverURL != ""
}

// ServerURL returns the configured external SFU URL, exposed on VoiceToken
// so the client knows where to dial.
func (s *Service) ServerURL() string { return s.serverURL }

// VideoGrant is the room-scoped capability grant embedded in the token,
// matching the reference implementation's camelCase claim shape exactly
// since it is consumed by a LiveKit-compatible SFU client.
type VideoGrant struct {
	Room                 string `json:"room"`
	RoomJoin             bool   `json:"roomJoin"`
	CanPublish           bool   `json:"canPublish"`
	CanSubscribe         bool   `json:"canSubscribe"`
	CanPublishData       bool   `json:"canPublishData"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata"`
}

// accessTokenClaims is the full JWT claim set: standard registered claims
// plus the LiveKit-specific video grant.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Video VideoGrant `json:"video"`
}

// IssueToken mints a token granting participantID publish/subscribe access
// to roomName, valid from now until now+TTL.
func (s *Service) IssueToken(roomName, participantID string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.apiKey,
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Video: VideoGrant{
			Room:                 roomName,
			RoomJoin:             true,
			CanPublish:           true,
			CanSubscribe:         true,
			CanPublishData:       true,
			CanUpdateOwnMetadata: true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.apiSecret))
	if err != nil {
		return "", fmt.Errorf("voice: sign token: %w", err)
	}
	return signed, nil
}
