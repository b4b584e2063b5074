package mint

import "testing"

func TestEncodeDecodeTokenRoundTrip(t *testing.T) {
	token := Token{
		Mint: "https://mint.example.com",
		Unit: "sat",
		Proofs: []CashuProof{
			{ID: "1", Amount: 4, Secret: "s1", C: "02abc"},
			{ID: "2", Amount: 1, Secret: "s2", C: "03def"},
		},
	}

	encoded, err := encodeToken(token)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := decodeToken(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Mint != token.Mint || decoded.Unit != token.Unit {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, token)
	}
	if len(decoded.Proofs) != len(token.Proofs) {
		t.Fatalf("proof count mismatch: got %d, want %d", len(decoded.Proofs), len(token.Proofs))
	}
}

func TestDecodeTokenRejectsUnknownVersion(t *testing.T) {
	if _, err := decodeToken("cashuA somegarbage"); err == nil {
		t.Fatal("expected an error for an unrecognized token version")
	}
}

func TestDecodeTokenRejectsEmptyProofs(t *testing.T) {
	encoded, err := encodeToken(Token{Mint: "https://mint.example.com", Unit: "sat"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeToken(encoded); err == nil {
		t.Fatal("expected an error for a token with no proofs")
	}
}

func TestValidateMintURLRejectsBadScheme(t *testing.T) {
	if _, err := validateMintURL("ftp://mint.example.com"); err == nil {
		t.Fatal("expected an error for a non-http(s) scheme")
	}
}

func TestValidateMintURLTrimsTrailingSlash(t *testing.T) {
	got, err := validateMintURL("https://mint.example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://mint.example.com" {
		t.Errorf("got %q, want trailing slash trimmed", got)
	}
}

func TestBlindOutputsSumsToAmount(t *testing.T) {
	outputs, proofs := blindOutputs(13)
	var total int64
	for _, o := range outputs {
		total += o.Amount
	}
	if total != 13 {
		t.Errorf("outputs sum to %d, want 13", total)
	}
	if len(outputs) != len(proofs) {
		t.Errorf("outputs/proofs length mismatch: %d vs %d", len(outputs), len(proofs))
	}
}
