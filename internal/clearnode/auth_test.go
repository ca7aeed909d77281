package clearnode_test

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pitchside/hub/internal/clearnode"
)

// Well-known development key, not a secret.
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestNewSignerParsesKeyWithAndWithoutPrefix(t *testing.T) {
	plain, err := clearnode.NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	prefixed, err := clearnode.NewSigner("0x" + devKey)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Fatalf("prefix changed derived address: %s vs %s", plain.Address(), prefixed.Address())
	}
	if plain.Address().Hex() != devAddress {
		t.Fatalf("address = %s, want %s", plain.Address().Hex(), devAddress)
	}
}

func TestNewSignerEmptyKeyGeneratesIdentity(t *testing.T) {
	a, err := clearnode.NewSigner("")
	if err != nil {
		t.Fatalf("NewSigner(\"\"): %v", err)
	}
	b, err := clearnode.NewSigner("")
	if err != nil {
		t.Fatalf("NewSigner(\"\"): %v", err)
	}
	if a.Address() == (common.Address{}) {
		t.Fatal("ephemeral signer has zero address")
	}
	if a.Address() == b.Address() {
		t.Fatal("two ephemeral signers share an address")
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := clearnode.NewSigner("0xnothex"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestSignPayloadRecoversSignerAddress(t *testing.T) {
	signer, err := clearnode.NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	payload := []byte(`[1,"create_app_session",{"x":1},1700000000000]`)
	sigHex, err := signer.SignPayload(payload)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	if !strings.HasPrefix(sigHex, "0x") || len(sigHex) != 2+130 {
		t.Fatalf("signature shape: %q", sigHex)
	}

	sig := common.FromHex(sigHex)
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("recovery byte = %d, want 27 or 28", sig[64])
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != signer.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestSignChallengeIsDeterministic(t *testing.T) {
	signer, err := clearnode.NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	first, err := signer.SignChallenge("pitchside", "challenge-1", 1700000000)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	second, err := signer.SignChallenge("pitchside", "challenge-1", 1700000000)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	if first != second {
		t.Fatal("same challenge produced different signatures")
	}

	other, err := signer.SignChallenge("pitchside", "challenge-2", 1700000000)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	if other == first {
		t.Fatal("different challenges produced the same signature")
	}

	sig := common.FromHex(first)
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("signature shape: len=%d v=%d", len(sig), sig[64])
	}
}
