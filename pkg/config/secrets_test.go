package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		EnvAPIKey:  "sk-live-1234",
		"OTHER_ID": "abc",
	}

	if err := EncryptSecretsFile(dir, "hunter2", secrets); err != nil {
		t.Fatalf("EncryptSecretsFile failed: %v", err)
	}

	if !SecretsFileExists(dir) {
		t.Fatal("secrets file should exist after encryption")
	}

	path := filepath.Join(dir, secretsDirName, secretsFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secrets file permissions = %04o, want 0600", info.Mode().Perm())
	}

	got, err := DecryptSecretsFile(dir, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecretsFile failed: %v", err)
	}
	if got[EnvAPIKey] != "sk-live-1234" || got["OTHER_ID"] != "abc" {
		t.Errorf("round trip mismatch: %v", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	if err := EncryptSecretsFile(dir, "right", map[string]string{"K": "v"}); err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptSecretsFile(dir, "wrong"); err == nil {
		t.Fatal("wrong password should fail to decrypt")
	}
}

func TestDecryptTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, secretsDirName)
	if err := os.MkdirAll(inner, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inner, secretsFileName), []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptSecretsFile(dir, "any"); err == nil {
		t.Fatal("truncated file should be rejected")
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	defer SetDecryptedSecrets(nil)

	t.Setenv("PRECEDENCE_TEST_KEY", "from-env")

	// Environment serves when no secrets file is loaded.
	v, err := GetSecret("PRECEDENCE_TEST_KEY")
	if err != nil || v != "from-env" {
		t.Fatalf("GetSecret = %q, %v", v, err)
	}

	// The decrypted file wins over the environment.
	SetDecryptedSecrets(map[string]string{"PRECEDENCE_TEST_KEY": "from-file"})
	v, err = GetSecret("PRECEDENCE_TEST_KEY")
	if err != nil || v != "from-file" {
		t.Fatalf("GetSecret = %q, %v", v, err)
	}

	// Empty file values fall through to the environment.
	SetDecryptedSecrets(map[string]string{"PRECEDENCE_TEST_KEY": ""})
	v, err = GetSecret("PRECEDENCE_TEST_KEY")
	if err != nil || v != "from-env" {
		t.Fatalf("GetSecret = %q, %v", v, err)
	}

	if _, err := GetSecret("DEFINITELY_NOT_SET_ANYWHERE"); err == nil {
		t.Error("missing secret should error")
	}
}

func TestUnlockSecrets(t *testing.T) {
	defer SetDecryptedSecrets(nil)

	dir := t.TempDir()
	if err := EncryptSecretsFile(dir, "pw", map[string]string{EnvAPIKey: "sk-unlocked"}); err != nil {
		t.Fatal(err)
	}

	if err := UnlockSecrets(dir, "pw"); err != nil {
		t.Fatalf("UnlockSecrets failed: %v", err)
	}

	v, err := GetSecret(EnvAPIKey)
	if err != nil || v != "sk-unlocked" {
		t.Errorf("GetSecret after unlock = %q, %v", v, err)
	}
}
