package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerify(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	hash, err := h.Hash("héllo")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("héllo", hash)
	if err != nil || !ok {
		t.Fatalf("Verify correct = %v, %v", ok, err)
	}
	ok, err = h.Verify("hello", hash)
	if err != nil || ok {
		t.Fatalf("Verify wrong = %v, %v", ok, err)
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	h, _ := NewArgon2(fastConfig())
	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h, _ := NewArgon2(fastConfig())
	cases := []string{
		"",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2hvcnQ$a2V5",
	}
	for _, c := range cases {
		if _, err := h.Verify("x", c); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) err = %v, want ErrInvalidHash", c, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, _ := NewArgon2(fastConfig())
	strong := fastConfig()
	strong.Time = 2
	strongHasher, _ := NewArgon2(strong)

	hash, err := weak.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if need, _ := strongHasher.NeedsRehash(hash); !need {
		t.Fatal("expected rehash for stronger config")
	}
	if need, _ := weak.NeedsRehash(hash); need {
		t.Fatal("same config should not need rehash")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.SaltLength = 8
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected salt length error")
	}
}
