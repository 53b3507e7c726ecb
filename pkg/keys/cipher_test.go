package keys

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate master key: %v", err)
	}
	return key
}

func TestMasterKeyCipherRoundTrip(t *testing.T) {
	cipher := NewMasterKeyCipher(testMasterKey(t))

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	encrypted, err := cipher.Encrypt(kp.PrivateKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	decrypted, err := cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(decrypted, kp.PrivateKey) {
		t.Error("Decrypted key does not match original")
	}
}

func TestMasterKeyCipherWrongKey(t *testing.T) {
	cipher := NewMasterKeyCipher(testMasterKey(t))
	other := NewMasterKeyCipher(testMasterKey(t))

	kp, _ := GenerateKeyPair()
	encrypted, err := cipher.Encrypt(kp.PrivateKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := other.Decrypt(encrypted); err == nil {
		t.Error("Decrypt with wrong master key should fail")
	}
}

func TestMasterKeyFromBase64(t *testing.T) {
	key := testMasterKey(t)
	b64 := base64.StdEncoding.EncodeToString(key)

	recovered, err := MasterKeyFromBase64(b64)
	if err != nil {
		t.Fatalf("MasterKeyFromBase64 failed: %v", err)
	}
	if !bytes.Equal(recovered, key) {
		t.Error("Recovered master key does not match")
	}
}

func TestMasterKeyFromBase64Invalid(t *testing.T) {
	if _, err := MasterKeyFromBase64("not-valid-base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}

	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := MasterKeyFromBase64(short); err == nil {
		t.Error("Expected error for short key")
	}
}
