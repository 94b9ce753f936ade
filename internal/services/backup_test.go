package services

import "testing"

func TestBackupRoundTrip(t *testing.T) {
	payload := &ExportPayload{
		Version:   1,
		Registers: []*Register{ancRegister()},
		Records:   []*Record{ancRecord("r1", "2025-01-06", "Kalpohin Clinic", "Pregnant", 24)},
	}
	env, err := EncryptBackup(payload, "correct horse")
	if err != nil {
		t.Fatalf("EncryptBackup: %v", err)
	}
	if env.Alg != "AES-GCM" || env.KDF != "PBKDF2" || env.Iterations != 120000 {
		t.Fatalf("envelope parameters: %+v", env)
	}
	if env.Salt == "" || env.IV == "" || env.Ciphertext == "" {
		t.Fatalf("envelope incomplete: %+v", env)
	}

	var out ExportPayload
	if err := DecryptBackup(env, "correct horse", &out); err != nil {
		t.Fatalf("DecryptBackup: %v", err)
	}
	if len(out.Registers) != 1 || out.Registers[0].Name != "ANC Visits" {
		t.Fatalf("round trip lost registers: %+v", out.Registers)
	}
	if len(out.Records) != 1 || out.Records[0].Values["Status"] != "Pregnant" {
		t.Fatalf("round trip lost records: %+v", out.Records)
	}
}

func TestBackupWrongPassphrase(t *testing.T) {
	env, err := EncryptBackup(map[string]string{"k": "v"}, "right")
	if err != nil {
		t.Fatalf("EncryptBackup: %v", err)
	}
	var out map[string]string
	err = DecryptBackup(env, "wrong", &out)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("wrong passphrase: %v", err)
	}
}

func TestBackupTamperDetection(t *testing.T) {
	env, err := EncryptBackup(map[string]string{"k": "v"}, "pass")
	if err != nil {
		t.Fatalf("EncryptBackup: %v", err)
	}
	env.Ciphertext = "AAAA" + env.Ciphertext[4:]
	var out map[string]string
	if err := DecryptBackup(env, "pass", &out); err == nil {
		t.Fatalf("tampered ciphertext should fail")
	}
}

func TestBackupRejectsUnknownParameters(t *testing.T) {
	env, _ := EncryptBackup(map[string]string{"k": "v"}, "pass")
	env.Alg = "ROT13"
	var out map[string]string
	if err := DecryptBackup(env, "pass", &out); err == nil {
		t.Fatalf("unknown cipher should be rejected")
	}
	if err := DecryptBackup(nil, "pass", &out); err == nil {
		t.Fatalf("nil envelope should be rejected")
	}
}

func TestEncryptBackupRequiresPassphrase(t *testing.T) {
	if _, err := EncryptBackup("x", ""); err == nil {
		t.Fatalf("empty passphrase should be rejected")
	}
}
