package credentials

import (
	"os"
	"testing"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	os.Setenv("TEST_MASTER_KEY", "correct horse battery staple")
	os.Setenv("TEST_MASTER_SALT", "fixed-operator-salt")
	t.Cleanup(func() {
		os.Unsetenv("TEST_MASTER_KEY")
		os.Unsetenv("TEST_MASTER_SALT")
	})
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	setTestEnv(t)

	e, err := NewEnvelope("TEST_MASTER_KEY", "TEST_MASTER_SALT")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	plaintext := "binance-api-secret-xyz"
	sealed, err := e.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if sealed == plaintext {
		t.Fatalf("Seal() returned plaintext unchanged")
	}

	opened, err := e.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != plaintext {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestEnvelopeSealIsNonDeterministic(t *testing.T) {
	setTestEnv(t)

	e, err := NewEnvelope("TEST_MASTER_KEY", "TEST_MASTER_SALT")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	a, err := e.Seal("same-secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := e.Seal("same-secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if a == b {
		t.Errorf("two seals of the same plaintext produced identical ciphertext, nonce is not being randomized")
	}
}

func TestEnvelopeOpenRejectsTamperedCiphertext(t *testing.T) {
	setTestEnv(t)

	e, err := NewEnvelope("TEST_MASTER_KEY", "TEST_MASTER_SALT")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	sealed, err := e.Seal("secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tampered := sealed[:len(sealed)-4] + "abcd"
	if _, err := e.Open(tampered); err == nil {
		t.Errorf("Open() accepted a tampered envelope")
	}
}

func TestNewEnvelopeRequiresMasterKey(t *testing.T) {
	os.Unsetenv("TEST_MASTER_KEY_MISSING")
	os.Setenv("TEST_MASTER_SALT_PRESENT", "salt")
	defer os.Unsetenv("TEST_MASTER_SALT_PRESENT")

	if _, err := NewEnvelope("TEST_MASTER_KEY_MISSING", "TEST_MASTER_SALT_PRESENT"); err == nil {
		t.Errorf("NewEnvelope() should fail when the master key env var is unset")
	}
}

func TestZeroClearsSecret(t *testing.T) {
	secret := "do-not-leak-me"
	Zero(&secret)
	if secret != "" {
		t.Errorf("Zero() left secret = %q, want empty", secret)
	}
}
