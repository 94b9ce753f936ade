package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Passphrase-encrypted backups. The envelope records its own KDF parameters
// so older backups stay readable if the defaults change.
const (
	backupIterations = 120000
	backupSaltLen    = 16
	backupAlg        = "AES-GCM"
	backupKDF        = "PBKDF2"
)

type BackupEnvelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Iterations int    `json:"iterations"`
	Alg        string `json:"alg"`
	KDF        string `json:"kdf"`
}

// EncryptBackup serializes payload to JSON and seals it under a key derived
// from the passphrase.
func EncryptBackup(payload any, passphrase string) (*BackupEnvelope, error) {
	if passphrase == "" {
		return nil, NewInvalidError("passphrase required")
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, backupSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := backupCipher(passphrase, salt, backupIterations)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plain, nil)
	return &BackupEnvelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Iterations: backupIterations,
		Alg:        backupAlg,
		KDF:        backupKDF,
	}, nil
}

// DecryptBackup opens an envelope and unmarshals the plaintext into out.
// A wrong passphrase surfaces as an unauthorized error, not a panic.
func DecryptBackup(env *BackupEnvelope, passphrase string, out any) error {
	if env == nil {
		return NewInvalidError("empty backup")
	}
	if env.Alg != "" && env.Alg != backupAlg {
		return NewInvalidError("unsupported backup cipher: " + env.Alg)
	}
	if env.KDF != "" && env.KDF != backupKDF {
		return NewInvalidError("unsupported key derivation: " + env.KDF)
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return NewInvalidError("malformed backup salt")
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return NewInvalidError("malformed backup iv")
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return NewInvalidError("malformed backup ciphertext")
	}
	iterations := env.Iterations
	if iterations <= 0 {
		iterations = backupIterations
	}
	gcm, err := backupCipher(passphrase, salt, iterations)
	if err != nil {
		return err
	}
	if len(iv) != gcm.NonceSize() {
		return NewInvalidError("malformed backup iv")
	}
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return NewUnauthorizedError("wrong passphrase or corrupted backup")
	}
	return json.Unmarshal(plain, out)
}

func backupCipher(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
