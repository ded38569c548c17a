package x402

// Verification reason codes. This set is closed and stable over the wire;
// internal errors are reduced to the closest member before they reach a
// client.
const (
	ReasonInvalidPayload             = "invalid_payload"
	ReasonInvalidPaymentRequirements = "invalid_payment_requirements"
	ReasonInvalidScheme              = "invalid_scheme"
	ReasonInvalidNetwork             = "invalid_network"
	ReasonInvalidX402Version         = "invalid_x402_version"
	ReasonInvalidValue               = "invalid_authorization_value"
	ReasonInvalidValueTooLow         = "invalid_authorization_value_too_low"
	ReasonInvalidValidAfter          = "invalid_authorization_valid_after"
	ReasonInvalidValidBefore         = "invalid_authorization_valid_before"
	ReasonInvalidTypedData           = "invalid_authorization_typed_data_message"
	ReasonInvalidSignature           = "invalid_signature"
	ReasonInvalidSignatureAddress    = "invalid_signature_address"
	ReasonNonceAlreadyUsed           = "nonce_already_used"
	ReasonOuterAllowanceRequired     = "outer_allowance_required"
	ReasonTokenNotWhitelisted        = "token_not_whitelisted"
	ReasonInsufficientFunds          = "insufficient_funds"
)

// Settlement-only reason codes, reported in addition to the verification set.
const (
	ReasonTransactionReverted      = "transaction_reverted"
	ReasonTransactionTimeout       = "transaction_timeout"
	ReasonFacilitatorNotConfigured = "facilitator_not_configured"
)
