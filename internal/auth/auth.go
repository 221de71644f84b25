package auth

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens with this prefix are accepted verbatim as ephemeral identities
const GuestPrefix = "guest_"

var ErrAuthRejected = errors.New("authentication rejected")

type Identity struct {
	UserID string
}

// Guest identities are never persisted
func (i Identity) Guest() bool {
	return strings.HasPrefix(i.UserID, GuestPrefix)
}

func (i Identity) Durable() bool {
	return i.UserID != "" && !i.Guest()
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Authenticate resolves a connection token to an identity. Anything that is
// not a guest marker must be an HS256 JWT carrying a userId claim.
func (v *Verifier) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrAuthRejected)
	}
	if strings.HasPrefix(token, GuestPrefix) {
		return Identity{UserID: token}, nil
	}
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no signing secret configured", ErrAuthRejected)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Println("⚠️ Token expired")
		} else {
			log.Printf("⚠️ Invalid token: %v", err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	userID := claimString(claims["userId"])
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token has no userId", ErrAuthRejected)
	}
	return Identity{UserID: userID}, nil
}

func claimString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// Issue signs a token for userID. A zero ttl issues a token without expiry.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{"userId": userID}
	if ttl != 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func NewGuestToken() string {
	return GuestPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
