package signing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAcceptDigestRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	executor := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	sep := DomainSeparator("verdikt-dev")
	digest := AcceptDigest(sep, "task-1", executor, 1, testNow.Add(time.Hour))

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}

	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if signer != executor {
		t.Errorf("recovered %s, want %s", signer, executor)
	}
	if err := VerifySigner(digest, sig, strings.ToUpper(executor)); err != nil {
		t.Errorf("case-insensitive verify failed: %v", err)
	}
}

func TestVerifySignerWrongAccount(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sep := DomainSeparator("verdikt-dev")
	digest := AcceptDigest(sep, "task-1", "0xexecutor", 1, testNow)

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySigner(digest, sig, "0x0000000000000000000000000000000000000001"); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("got %v, want ErrBadSignature", err)
	}
}

func TestRecoverSignerEthereumVByte(t *testing.T) {
	key, _ := crypto.GenerateKey()
	want := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	digest := PermitDigest(DomainSeparator("verdikt-dev"), "vdk", want, "0xspender", 500, 0, testNow)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}

	// Wallets commonly emit V as 27/28 instead of 0/1.
	shifted := make([]byte, len(sig))
	copy(shifted, sig)
	shifted[64] += 27

	signer, err := RecoverSigner(digest, shifted)
	if err != nil {
		t.Fatalf("recover with shifted V failed: %v", err)
	}
	if signer != want {
		t.Errorf("recovered %s, want %s", signer, want)
	}
}

func TestRecoverSignerBadLength(t *testing.T) {
	if _, err := RecoverSigner(make([]byte, 32), make([]byte, 64)); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("got %v, want ErrBadSignature", err)
	}
}

func TestDigestsBoundToInputs(t *testing.T) {
	sep := DomainSeparator("verdikt-dev")
	base := AcceptDigest(sep, "task-1", "0xexec", 1, testNow)

	if string(AcceptDigest(sep, "task-2", "0xexec", 1, testNow)) == string(base) {
		t.Error("task ID not bound into digest")
	}
	if string(AcceptDigest(sep, "task-1", "0xexec", 2, testNow)) == string(base) {
		t.Error("nonce not bound into digest")
	}
	if string(AcceptDigest(DomainSeparator("other"), "task-1", "0xexec", 1, testNow)) == string(base) {
		t.Error("domain not bound into digest")
	}

	permit := PermitDigest(sep, "vdk", "0xowner", "0xspender", 500, 1, testNow)
	if string(permit) == string(base) {
		t.Error("accept and permit digests collided")
	}
}

func TestParseSignature(t *testing.T) {
	raw := strings.Repeat("ab", 65)
	for _, s := range []string{raw, "0x" + raw} {
		sig, err := ParseSignature(s)
		if err != nil {
			t.Errorf("ParseSignature(%q) failed: %v", s[:6], err)
		}
		if len(sig) != 65 {
			t.Errorf("decoded length = %d, want 65", len(sig))
		}
	}
	if _, err := ParseSignature("not-hex"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", err)
	}
}
