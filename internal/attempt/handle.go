package attempt

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const handleIssuer = "school-quiz/attempt"

var ErrInvalidHandle = errors.New("invalid attempt handle")

// Handle identifies one attempt and its server-recorded start time.
type Handle struct {
	SubmissionID uint
	ExamID       uint
	UserID       uint
	StartTime    time.Time
}

type handleClaims struct {
	SubmissionID uint  `json:"sid"`
	ExamID       uint  `json:"eid"`
	UserID       uint  `json:"uid"`
	StartedAt    int64 `json:"st"` // unix nanoseconds
	jwt.StandardClaims
}

// HandleSigner mints and verifies HS256 attempt handles.
type HandleSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewHandleSigner(secret string, ttl time.Duration) *HandleSigner {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &HandleSigner{secret: []byte(secret), ttl: ttl}
}

func (s *HandleSigner) Mint(h Handle) (string, error) {
	claims := handleClaims{
		SubmissionID: h.SubmissionID,
		ExamID:       h.ExamID,
		UserID:       h.UserID,
		StartedAt:    h.StartTime.UnixNano(),
		StandardClaims: jwt.StandardClaims{
			Issuer:    handleIssuer,
			ExpiresAt: time.Now().Add(s.ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *HandleSigner) Parse(token string) (*Handle, error) {
	var claims handleClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	if !parsed.Valid || claims.Issuer != handleIssuer || claims.SubmissionID == 0 {
		return nil, ErrInvalidHandle
	}
	return &Handle{
		SubmissionID: claims.SubmissionID,
		ExamID:       claims.ExamID,
		UserID:       claims.UserID,
		StartTime:    time.Unix(0, claims.StartedAt).UTC(),
	}, nil
}
