package mpesa

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestGeneratePassword(t *testing.T) {
	at := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	password, timestamp := GeneratePassword("174379", "passkey123", at)

	if timestamp != "20240115143000" {
		t.Errorf("timestamp = %q, want 20240115143000", timestamp)
	}

	decoded, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		t.Fatalf("password is not valid base64: %v", err)
	}

	want := "174379passkey12320240115143000"
	if string(decoded) != want {
		t.Errorf("decoded password = %q, want %q", decoded, want)
	}
}

func TestGeneratePasswordEmbedsTimestamp(t *testing.T) {
	// The password is timestamp-bound: different instants must yield
	// different passwords for the same credentials.
	p1, _ := GeneratePassword("174379", "passkey", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p2, _ := GeneratePassword("174379", "passkey", time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))

	if p1 == p2 {
		t.Error("passwords for different timestamps should differ")
	}
}
