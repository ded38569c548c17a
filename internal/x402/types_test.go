package x402

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorization_DetectsFlatWitness(t *testing.T) {
	data := []byte(`{
		"permitted": {"token": "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "amount": "10000"},
		"spender": "0x1234567890123456789012345678901234567890",
		"nonce": "42",
		"deadline": "1900000000",
		"witness": {
			"receiver": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
			"validAfter": "0",
			"validBefore": "1900000000"
		},
		"signature": "0xdeadbeef"
	}`)

	var a Authorization
	require.NoError(t, json.Unmarshal(data, &a))
	require.NotNil(t, a.Witness)
	assert.Nil(t, a.Direct)
	assert.Equal(t, ProtocolWitnessSpend, a.Protocol())
	assert.True(t, a.Valid())

	assert.Equal(t, "10000", a.Witness.Permitted.Amount.String())
	assert.Equal(t, "42", a.Witness.Nonce.String())
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", a.Witness.Witness.Receiver)
	assert.Equal(t, "0xdeadbeef", a.Witness.Signature)
}

func TestAuthorization_DetectsFlatDirect(t *testing.T) {
	data := []byte(`{
		"from": "0x1111111111111111111111111111111111111111",
		"to": "0x2222222222222222222222222222222222222222",
		"value": "5000",
		"validAfter": "0",
		"validBefore": "1900000000",
		"nonce": "0x0000000000000000000000000000000000000000000000000000000000000001",
		"signature": "0xdeadbeef"
	}`)

	var a Authorization
	require.NoError(t, json.Unmarshal(data, &a))
	require.NotNil(t, a.Direct)
	assert.Nil(t, a.Witness)
	assert.Equal(t, ProtocolDirectAuth, a.Protocol())

	assert.Equal(t, "5000", a.Direct.Value.String())
	assert.Equal(t, "0x2222222222222222222222222222222222222222", a.Direct.To)
}

func TestAuthorization_DetectsPermit2Envelope(t *testing.T) {
	// Envelope form: signature sits beside the authorization object.
	data := []byte(`{
		"signature": "0xcafe",
		"permit2Authorization": {
			"permitted": {"token": "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "amount": "10000"},
			"spender": "0x1234567890123456789012345678901234567890",
			"nonce": "7",
			"deadline": "1900000000",
			"witness": {
				"receiver": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
				"validAfter": "0",
				"validBefore": "1900000000"
			}
		}
	}`)

	var a Authorization
	require.NoError(t, json.Unmarshal(data, &a))
	require.NotNil(t, a.Witness)
	assert.Equal(t, "0xcafe", a.Witness.Signature, "sibling signature should be copied in")
}

func TestAuthorization_EnvelopeKeepsInnerSignature(t *testing.T) {
	data := []byte(`{
		"signature": "0xouter",
		"permit2Authorization": {
			"permitted": {"token": "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "amount": "1"},
			"spender": "0x1234567890123456789012345678901234567890",
			"nonce": "7",
			"deadline": "1900000000",
			"witness": {"receiver": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "validAfter": "0", "validBefore": "1"},
			"signature": "0xinner"
		}
	}`)

	var a Authorization
	require.NoError(t, json.Unmarshal(data, &a))
	require.NotNil(t, a.Witness)
	assert.Equal(t, "0xinner", a.Witness.Signature)
}

func TestAuthorization_DetectsAuthorizationEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		witness bool
	}{
		{
			name: "direct variant",
			json: `{
				"signature": "0xsig",
				"authorization": {
					"from": "0x1111111111111111111111111111111111111111",
					"to": "0x2222222222222222222222222222222222222222",
					"value": "5000",
					"validAfter": "0",
					"validBefore": "1900000000",
					"nonce": "0x0000000000000000000000000000000000000000000000000000000000000001"
				}
			}`,
			witness: false,
		},
		{
			name: "witness variant",
			json: `{
				"signature": "0xsig",
				"authorization": {
					"permitted": {"token": "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "amount": "9"},
					"spender": "0x1234567890123456789012345678901234567890",
					"nonce": "7",
					"deadline": "1900000000",
					"witness": {"receiver": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "validAfter": "0", "validBefore": "1"}
				}
			}`,
			witness: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var a Authorization
			require.NoError(t, json.Unmarshal([]byte(tc.json), &a))
			require.True(t, a.Valid())
			if tc.witness {
				require.NotNil(t, a.Witness)
				assert.Equal(t, "0xsig", a.Witness.Signature)
			} else {
				require.NotNil(t, a.Direct)
				assert.Equal(t, "0xsig", a.Direct.Signature)
			}
		})
	}
}

func TestAuthorization_RejectsUnknownShape(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"empty object", `{}`},
		{"only signature", `{"signature": "0xsig"}`},
		{"direct missing value", `{"from": "0x11", "to": "0x22"}`},
		{"not an object", `[1,2,3]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var a Authorization
			err := json.Unmarshal([]byte(tc.json), &a)
			assert.Error(t, err)
		})
	}
}

func TestAuthorization_MarshalRoundTrip(t *testing.T) {
	original := Authorization{
		Witness: &WitnessSpend{
			Permitted: TokenPermissions{Token: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Amount: "10000"},
			Spender:   "0x1234567890123456789012345678901234567890",
			Nonce:     "42",
			Deadline:  "1900000000",
			Witness: TransferWitness{
				Receiver:    "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
				ValidAfter:  "0",
				ValidBefore: "1900000000",
			},
			Signature: "0xdeadbeef",
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Authorization
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Witness)
	assert.Equal(t, *original.Witness, *decoded.Witness)
}

func TestFlexString_AcceptsStringAndNumber(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected string
	}{
		{"string", `"10000"`, "10000"},
		{"number", `10000`, "10000"},
		{"large number", `123456789012345678901234567890`, "123456789012345678901234567890"},
		{"zero", `0`, "0"},
		{"null", `null`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f FlexString
			require.NoError(t, json.Unmarshal([]byte(tc.json), &f))
			assert.Equal(t, tc.expected, f.String())
		})
	}
}

func TestFlexString_MarshalsAsString(t *testing.T) {
	data, err := json.Marshal(FlexString("10000"))
	require.NoError(t, err)
	assert.Equal(t, `"10000"`, string(data))
}

func TestPaymentRequirements_AcceptsLegacyTokenKey(t *testing.T) {
	data := []byte(`{
		"scheme": "exact",
		"network": "eip155:84532",
		"maxAmountRequired": "10000",
		"payTo": "0x1234567890123456789012345678901234567890",
		"token": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	}`)

	var r PaymentRequirements
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", r.Asset)
}

func TestPaymentRequirements_AssetWinsOverToken(t *testing.T) {
	data := []byte(`{
		"scheme": "exact",
		"network": "eip155:84532",
		"maxAmountRequired": "10000",
		"payTo": "0x1234567890123456789012345678901234567890",
		"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"token": "0x0000000000000000000000000000000000000000"
	}`)

	var r PaymentRequirements
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", r.Asset)
}

func TestPaymentRequirements_ActualRecipient(t *testing.T) {
	r := PaymentRequirements{
		Extra: map[string]any{"actualRecipient": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"},
	}
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", r.ActualRecipient())

	empty := PaymentRequirements{}
	assert.Equal(t, "", empty.ActualRecipient())

	wrongType := PaymentRequirements{Extra: map[string]any{"actualRecipient": 42}}
	assert.Equal(t, "", wrongType.ActualRecipient())
}

func TestVerifyResult_JSONShape(t *testing.T) {
	data, err := json.Marshal(VerifyResult{IsValid: false, InvalidReason: ReasonInvalidScheme})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isValid": false, "invalidReason": "invalid_scheme"}`, string(data))

	data, err = json.Marshal(VerifyResult{IsValid: true, Payer: "0xabc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isValid": true, "payer": "0xabc"}`, string(data))
}
