package brokerhttp

import "net/http"

// BearerAuth attaches a static bearer token to every request, the
// Finam/T-Invest counterpart to the teacher's HMAC internal/auth
// Signer (which signed Binance's query string — not applicable here
// since both our brokers authenticate with a header token).
type BearerAuth struct {
	Token string
}

func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{Token: token}
}

func (a *BearerAuth) Apply(req *http.Request) {
	if a == nil || a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}
