package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("device-1", RoleScanner, "rollcall", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "secret", "rollcall")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "device-1" || claims.Role != RoleScanner {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("device-1", RoleScanner, "rollcall", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "other-secret", "rollcall"); err == nil {
		t.Error("token signed with a different key should not parse")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue("device-1", RoleScanner, "other-service", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "rollcall"); err == nil {
		t.Error("token from a different issuer should not parse")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("device-1", RoleScanner, "rollcall", "secret", -time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "rollcall"); err == nil {
		t.Error("expired token should not parse")
	}
}
