package crypto

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	password := "api-secret-password"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "" {
		t.Fatal("HashPassword() returned empty hash")
	}
	if hash == password {
		t.Error("hash equals plaintext password")
	}
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
		t.Errorf("hash has unexpected format: %s", hash[:8])
	}
}

func TestHashPasswordEmptyError(t *testing.T) {
	if _, err := HashPassword(""); err != ErrEmptyPassword {
		t.Errorf("HashPassword(\"\") error = %v, want ErrEmptyPassword", err)
	}
}

func TestHashPasswordTooLong(t *testing.T) {
	long := strings.Repeat("x", MaxPasswordLength+1)
	if _, err := HashPassword(long); err != ErrPasswordTooLong {
		t.Errorf("HashPassword(long) error = %v, want ErrPasswordTooLong", err)
	}
}

func TestHashPasswordDifferentHashes(t *testing.T) {
	// Разные соли дают разные хеши для одного пароля
	h1, err := HashPassword("same-password")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashPassword("same-password")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("two hashes of same password are identical (salt missing?)")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "correct-password"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifyPassword(password, hash); err != nil {
		t.Errorf("VerifyPassword(correct) error = %v", err)
	}
	if err := VerifyPassword("wrong-password", hash); err != ErrPasswordMismatch {
		t.Errorf("VerifyPassword(wrong) error = %v, want ErrPasswordMismatch", err)
	}
}

func TestVerifyPasswordEmptyInputs(t *testing.T) {
	hash, _ := HashPassword("password")

	if err := VerifyPassword("", hash); err != ErrEmptyPassword {
		t.Errorf("VerifyPassword(empty password) error = %v, want ErrEmptyPassword", err)
	}
	if err := VerifyPassword("password", ""); err != ErrInvalidHash {
		t.Errorf("VerifyPassword(empty hash) error = %v, want ErrInvalidHash", err)
	}
}

func TestVerifyPasswordInvalidHash(t *testing.T) {
	if err := VerifyPassword("password", "not-a-bcrypt-hash"); err != ErrInvalidHash {
		t.Errorf("VerifyPassword(garbage hash) error = %v, want ErrInvalidHash", err)
	}
}

func TestCheckPasswordMatch(t *testing.T) {
	hash, _ := HashPassword("password")

	if !CheckPasswordMatch("password", hash) {
		t.Error("CheckPasswordMatch(correct) = false")
	}
	if CheckPasswordMatch("wrong", hash) {
		t.Error("CheckPasswordMatch(wrong) = true")
	}
}
