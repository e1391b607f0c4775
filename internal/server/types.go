package server

// receivedResponse acknowledges a webhook delivery. It is the same
// fixed shape on every outcome past signature gating: the provider
// retries on non-2xx, so partial downstream failure must still report
// overall success to avoid duplicate re-delivery storms.
type receivedResponse struct {
	Received bool `json:"received"`
}

// detailResponse is the error/detail shape of the JSON API.
type detailResponse struct {
	Detail string `json:"detail"`
}

// callbackResponse reports a completed authorization.
type callbackResponse struct {
	Detail string   `json:"detail"`
	Scopes []string `json:"scopes"`
}

// meResponse describes the stored credential bundle, secrets excluded.
type meResponse struct {
	PageID   string   `json:"page_id"`
	IGUserID string   `json:"ig_user_id"`
	Scopes   []string `json:"scopes"`
}

// sendRequest accepts both the native field names and the aggregator's
// compat spelling.
type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`

	// Compat aliases used by the aggregator.
	To      string `json:"to"`
	Message string `json:"message"`
}

// recipient resolves the native/compat recipient spelling.
func (r sendRequest) recipient() string {
	if r.RecipientID != "" {
		return r.RecipientID
	}
	return r.To
}

// text resolves the native/compat message spelling.
func (r sendRequest) text() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

// sendResponse reports a delivered message.
type sendResponse struct {
	Success     bool   `json:"success"`
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}
