package graph

import "fmt"

// ExchangeError reports a failed step of the OAuth credential
// resolution. Authorization codes are single-use upstream, so a failed
// resolution is not retryable with the same code.
type ExchangeError struct {
	Reason string
}

func (e *ExchangeError) Error() string {
	return "credential exchange failed: " + e.Reason
}

// SendError carries the provider's error detail for a rejected send.
type SendError struct {
	Status  int
	Code    int
	Subcode int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send rejected (http %d, code %d): %s", e.Status, e.Code, e.Message)
}

// InvalidRecipient reports whether the provider rejected the recipient
// id itself. Code 551 is "person unavailable"; 100/2018001 is the
// messaging variant of "no matching user".
func (e *SendError) InvalidRecipient() bool {
	return e.Code == 551 || (e.Code == 100 && e.Subcode == 2018001)
}

// apiError is a decoded Graph API error response.
type apiError struct {
	Status  int
	Code    int
	Subcode int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("graph api error (http %d, code %d): %s", e.Status, e.Code, e.Message)
}
