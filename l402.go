package toll

import "strings"

// L402Credentials are the parsed parts of an "Authorization: L402" header.
type L402Credentials struct {
	Macaroon string
	Preimage string
}

// ChallengeBody is the JSON body of a 402 response.
type ChallengeBody struct {
	Status       int                   `json:"status"`
	Message      string                `json:"message"`
	PaymentHash  string                `json:"paymentHash"`
	Invoice      string                `json:"invoice"`
	Macaroon     string                `json:"macaroon"`
	AmountSats   int64                 `json:"amountSats"`
	Description  *string               `json:"description"`
	Protocol     string                `json:"protocol"`
	Instructions ChallengeInstructions `json:"instructions"`
}

// ChallengeInstructions spell out the payment flow for human readers.
type ChallengeInstructions struct {
	Step1 string `json:"step1"`
	Step2 string `json:"step2"`
	Step3 string `json:"step3"`
}

// FormatChallengeHeader builds the WWW-Authenticate value for a 402
// response: L402 invoice="<bolt11>", macaroon="<base64url>".
func FormatChallengeHeader(invoice, macaroon string) string {
	return `L402 invoice="` + invoice + `", macaroon="` + macaroon + `"`
}

// FormatChallengeBody builds the full 402 response body. An empty
// description is rendered as JSON null.
func FormatChallengeBody(invoice, macaroon, paymentHash string, amountSats int64, description string) ChallengeBody {
	var desc *string
	if description != "" {
		desc = &description
	}
	return ChallengeBody{
		Status:      402,
		Message:     "Payment Required",
		PaymentHash: paymentHash,
		Invoice:     invoice,
		Macaroon:    macaroon,
		AmountSats:  amountSats,
		Description: desc,
		Protocol:    "L402",
		Instructions: ChallengeInstructions{
			Step1: "Pay the Lightning invoice above",
			Step2: "Get the preimage from the payment receipt",
			Step3: "Retry the request with header: Authorization: L402 <macaroon>:<preimage>",
		},
	}
}

// ParseAuthorization parses "Authorization: L402 <macaroon>:<preimage>".
// The scheme is matched case-insensitively and only the first colon
// delimits (a preimage is opaque hex and may legally contain colons).
// Returns nil on anything malformed.
func ParseAuthorization(header string) *L402Credentials {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) < 5 || !strings.EqualFold(trimmed[:5], "L402 ") {
		return nil
	}

	credentials := strings.TrimSpace(trimmed[5:])
	idx := strings.Index(credentials, ":")
	if idx == -1 {
		return nil
	}

	macaroon := credentials[:idx]
	preimage := credentials[idx+1:]
	if macaroon == "" || preimage == "" {
		return nil
	}

	return &L402Credentials{Macaroon: macaroon, Preimage: preimage}
}
