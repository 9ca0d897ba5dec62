package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/xeipuuv/gojsonschema"
)

// PaymentHeader is the request header carrying the base64 JSON authorization
const PaymentHeader = "X-Payment"

// ErrMalformedPayment is returned when the payment header cannot be decoded into an authorization
var ErrMalformedPayment = errors.New("malformed payment format")

// authorizationSchemaJSON describes the decoded X-Payment document. Numeric fields are
// accepted as decimal strings or JSON integers; pattern only constrains strings.
const authorizationSchemaJSON = `{
	"type": "object",
	"required": ["from", "to", "value", "validAfter", "validBefore", "nonce", "signature", "chainId"],
	"properties": {
		"from":        {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"to":          {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"value":       {"type": ["string", "integer"], "pattern": "^[0-9]+$", "minimum": 0},
		"validAfter":  {"type": ["string", "integer"], "pattern": "^[0-9]+$", "minimum": 0},
		"validBefore": {"type": ["string", "integer"], "pattern": "^[0-9]+$", "minimum": 0},
		"nonce":       {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
		"signature":   {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"},
		"chainId":     {"type": ["string", "integer"], "pattern": "^[0-9]+$", "minimum": 1}
	}
}`

var authorizationSchema = mustCompileSchema(authorizationSchemaJSON)

func mustCompileSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid authorization schema: %v", err))
	}
	return schema
}

// wireAuthorization tolerates numeric fields sent as bare JSON numbers
type wireAuthorization struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       json.Number `json:"value"`
	ValidAfter  json.Number `json:"validAfter"`
	ValidBefore json.Number `json:"validBefore"`
	Nonce       string      `json:"nonce"`
	Signature   string      `json:"signature"`
	ChainID     json.Number `json:"chainId"`
}

// DecodePaymentHeader decodes a base64 JSON X-Payment header into a typed authorization.
// Every field must be present and well-typed; any failure wraps ErrMalformedPayment.
func DecodePaymentHeader(header string) (*PaymentAuthorization, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedPayment)
	}

	raw, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}

	result, err := authorizationSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayment, strings.Join(problems, "; "))
	}

	var wire wireAuthorization
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}

	payload := AuthorizationPayload{
		From:        wire.From,
		To:          wire.To,
		Value:       wire.Value.String(),
		ValidAfter:  wire.ValidAfter.String(),
		ValidBefore: wire.ValidBefore.String(),
		Nonce:       wire.Nonce,
		Signature:   wire.Signature,
		ChainID:     wire.ChainID.String(),
	}
	auth, err := payload.Authorization()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	return auth, nil
}

// EncodePaymentHeader encodes an authorization into its base64 JSON header form
func EncodePaymentHeader(auth *PaymentAuthorization) (string, error) {
	if auth == nil {
		return "", errors.New("nil authorization")
	}
	data, err := json.Marshal(auth.Payload())
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Authorization parses the wire payload into typed values
func (p AuthorizationPayload) Authorization() (*PaymentAuthorization, error) {
	value, err := parseUint(p.Value, "value")
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint(p.ValidAfter, "validAfter")
	if err != nil {
		return nil, err
	}
	validBefore, err := parseUint(p.ValidBefore, "validBefore")
	if err != nil {
		return nil, err
	}
	chainID, err := parseUint(p.ChainID, "chainId")
	if err != nil {
		return nil, err
	}

	nonceBytes, err := hexutil.Decode(p.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	signature, err := hexutil.Decode(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	return &PaymentAuthorization{
		From:        p.From,
		To:          p.To,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
		Signature:   signature,
		ChainID:     chainID,
	}, nil
}

// Payload converts the authorization into its wire form
func (a *PaymentAuthorization) Payload() AuthorizationPayload {
	return AuthorizationPayload{
		From:        a.From,
		To:          a.To,
		Value:       bigString(a.Value),
		ValidAfter:  bigString(a.ValidAfter),
		ValidBefore: bigString(a.ValidBefore),
		Nonce:       hexutil.Encode(a.Nonce[:]),
		Signature:   hexutil.Encode(a.Signature),
		ChainID:     bigString(a.ChainID),
	}
}

func parseUint(s string, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("invalid %s: exceeds uint256", field)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
