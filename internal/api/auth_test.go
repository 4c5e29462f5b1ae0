package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ovotrack/server/internal/models"
)

func TestParseActorRoundTrip(t *testing.T) {
	want := models.Actor{ID: "u-7", Name: "Marta", Role: models.RoleSupervisor}
	tok, err := IssueToken(testSecret, want, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := ParseActor(testSecret, tok)
	if err != nil {
		t.Fatalf("ParseActor: %v", err)
	}
	if got != want {
		t.Fatalf("actor = %+v, want %+v", got, want)
	}
}

func TestParseActorRejects(t *testing.T) {
	good := models.Actor{ID: "u-1", Name: "x", Role: models.RoleAdmin}
	expired, _ := IssueToken(testSecret, good, -time.Minute)
	otherKey, _ := IssueToken([]byte("other"), good, time.Minute)
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "janitor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-2"},
	}).SignedString(testSecret)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-3"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":     expired,
		"wrong key":   otherKey,
		"bad role":    noRole,
		"unsigned":    none,
		"not a token": "abc",
	} {
		if _, err := ParseActor(testSecret, tok); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
