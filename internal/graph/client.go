// Package graph is the Meta Graph API client: OAuth credential
// resolution, message sends, and conversation listing.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIHost    = "https://graph.facebook.com"
	defaultDialogHost = "https://www.facebook.com"
	defaultAPIVersion = "v19.0"
	defaultTimeout    = 20 * time.Second
)

// Config holds the app registration and endpoint settings for the client.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURI string

	// APIVersion is the Graph API version, with or without the "v" prefix.
	APIVersion string

	// BaseURL overrides the versioned Graph API base URL (tests).
	BaseURL string

	// DialogBaseURL overrides the OAuth dialog base URL (tests).
	DialogBaseURL string

	Timeout time.Duration
}

// Client talks to the Graph API. Construct once at process start and
// share; it holds no mutable state beyond the embedded http.Client.
type Client struct {
	cfg        Config
	baseURL    string
	dialogURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Graph API client.
func New(cfg Config, logger *slog.Logger) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIHost + "/" + version
	}
	dialogURL := cfg.DialogBaseURL
	if dialogURL == "" {
		dialogURL = defaultDialogHost + "/" + version
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dialogURL:  strings.TrimRight(dialogURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// LoginURL builds the OAuth dialog URL that starts an authorization.
func (c *Client) LoginURL() (string, error) {
	if c.cfg.AppID == "" || c.cfg.RedirectURI == "" {
		return "", fmt.Errorf("app id and redirect uri must be configured")
	}

	params := url.Values{}
	params.Set("client_id", c.cfg.AppID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("scope", strings.Join(DeclaredScopes, ","))
	params.Set("response_type", "code")

	return c.dialogURL + "/dialog/oauth?" + params.Encode(), nil
}

// page is one managed-page record from an enumeration call.
type page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// ExchangeCode resolves an authorization code into a credential bundle.
//
// The resolution is linear, with no retries across steps:
//  1. trade the code for a short-lived user token
//  2. enumerate pages the user manages, falling back to a traversal of
//     the user's businesses when the direct enumeration is empty
//  3. probe each candidate page, in order, for a linked Instagram
//     account; the first non-empty link wins, probe errors skip the page
//  4. assemble the bundle from the winning page
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Credentials, error) {
	userToken, err := c.exchangeForUserToken(ctx, code)
	if err != nil {
		return nil, err
	}

	pages, err := c.enumeratePages(ctx, userToken)
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		igID, err := c.probeInstagramAccount(ctx, p, userToken)
		if err != nil {
			c.logger.Warn("instagram probe failed, skipping page", "page_id", p.ID, "error", err)
			continue
		}
		if igID == "" {
			continue
		}
		return &Credentials{
			AccessToken:     p.AccessToken,
			PageID:          p.ID,
			IGUserID:        igID,
			Scopes:          DeclaredScopes,
			UserAccessToken: userToken,
		}, nil
	}

	return nil, &ExchangeError{Reason: "no linked child account"}
}

func (c *Client) exchangeForUserToken(ctx context.Context, code string) (string, error) {
	params := url.Values{}
	params.Set("client_id", c.cfg.AppID)
	params.Set("client_secret", c.cfg.AppSecret)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("code", code)

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.getJSON(ctx, "/oauth/access_token", params, &resp); err != nil {
		c.logger.Warn("oauth code exchange failed", "error", err)
		return "", &ExchangeError{Reason: "invalid code or provider rejected exchange"}
	}
	if resp.AccessToken == "" {
		return "", &ExchangeError{Reason: "invalid code or provider rejected exchange"}
	}
	return resp.AccessToken, nil
}

// enumeratePages lists pages managed by the user token. When the direct
// enumeration is empty, it traverses the user's businesses and
// aggregates the pages owned by or delegated to each. A failing
// per-business call skips that business rather than aborting.
func (c *Client) enumeratePages(ctx context.Context, userToken string) ([]page, error) {
	pages, err := c.listPages(ctx, "/me/accounts", userToken)
	if err != nil {
		return nil, &ExchangeError{Reason: "no manageable resources"}
	}
	if len(pages) > 0 {
		return pages, nil
	}

	var businesses struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	params := url.Values{}
	params.Set("fields", "id,name")
	params.Set("access_token", userToken)
	if err := c.getJSON(ctx, "/me/businesses", params, &businesses); err != nil {
		c.logger.Warn("business enumeration failed", "error", err)
		return nil, &ExchangeError{Reason: "no manageable resources"}
	}

	for _, biz := range businesses.Data {
		for _, edge := range []string{"owned_pages", "client_pages"} {
			found, err := c.listPages(ctx, "/"+biz.ID+"/"+edge, userToken)
			if err != nil {
				c.logger.Warn("business page enumeration failed, skipping",
					"business_id", biz.ID, "edge", edge, "error", err)
				continue
			}
			pages = append(pages, found...)
		}
	}

	if len(pages) == 0 {
		return nil, &ExchangeError{Reason: "no manageable resources"}
	}
	return pages, nil
}

func (c *Client) listPages(ctx context.Context, path, token string) ([]page, error) {
	params := url.Values{}
	params.Set("fields", "id,name,access_token")
	params.Set("access_token", token)

	var resp struct {
		Data []page `json:"data"`
	}
	if err := c.getJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// probeInstagramAccount looks up the Instagram account linked to a page,
// using the page's own token when it has one.
func (c *Client) probeInstagramAccount(ctx context.Context, p page, userToken string) (string, error) {
	token := p.AccessToken
	if token == "" {
		token = userToken
	}

	params := url.Values{}
	params.Set("fields", "connected_instagram_account")
	params.Set("access_token", token)

	var resp struct {
		ConnectedInstagramAccount *struct {
			ID string `json:"id"`
		} `json:"connected_instagram_account"`
	}
	if err := c.getJSON(ctx, "/"+p.ID, params, &resp); err != nil {
		return "", err
	}
	if resp.ConnectedInstagramAccount == nil {
		return "", nil
	}
	return resp.ConnectedInstagramAccount.ID, nil
}

// SendResult reports a delivered message.
type SendResult struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

// SendMessage sends a text DM to a page-scoped user id using the page
// access token. Provider rejections come back as *SendError.
func (c *Client) SendMessage(ctx context.Context, pageToken, recipientID, text string) (SendResult, error) {
	params := url.Values{}
	params.Set("access_token", pageToken)

	body := map[string]any{
		"recipient":      map[string]string{"id": recipientID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	}

	var resp SendResult
	if err := c.postJSON(ctx, "/me/messages", params, body, &resp); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return SendResult{}, &SendError{
				Status:  apiErr.Status,
				Code:    apiErr.Code,
				Subcode: apiErr.Subcode,
				Message: apiErr.Message,
			}
		}
		return SendResult{}, fmt.Errorf("send message: %w", err)
	}
	if resp.RecipientID == "" {
		resp.RecipientID = recipientID
	}
	return resp, nil
}

// Conversation is one Instagram conversation thread.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	UpdatedTime  string   `json:"updated_time,omitempty"`
}

// ListConversations lists the Instagram conversations reachable with
// the stored bundle.
func (c *Client) ListConversations(ctx context.Context, creds *Credentials) ([]Conversation, error) {
	params := url.Values{}
	params.Set("platform", "instagram")
	params.Set("fields", "id,participants,updated_time")
	params.Set("access_token", creds.AccessToken)

	var resp struct {
		Data []struct {
			ID           string `json:"id"`
			Participants struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"participants"`
			UpdatedTime string `json:"updated_time"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/"+creds.IGUserID+"/conversations", params, &resp); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]Conversation, 0, len(resp.Data))
	for _, conv := range resp.Data {
		participants := make([]string, 0, len(conv.Participants.Data))
		for _, p := range conv.Participants.Data {
			participants = append(participants, p.ID)
		}
		out = append(out, Conversation{
			ID:           conv.ID,
			Participants: participants,
			UpdatedTime:  conv.UpdatedTime,
		})
	}
	return out, nil
}

// ProbePage is one page's diagnostic record.
type ProbePage struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	ConnectedInstagramAccount string `json:"connected_instagram_account,omitempty"`
}

// Probe re-runs the page enumeration and Instagram link lookup with a
// raw user token, for diagnosing a surprising resolution outcome.
func (c *Client) Probe(ctx context.Context, userToken string) ([]ProbePage, error) {
	pages, err := c.listPages(ctx, "/me/accounts", userToken)
	if err != nil {
		return nil, fmt.Errorf("probe page enumeration: %w", err)
	}

	out := make([]ProbePage, 0, len(pages))
	for _, p := range pages {
		rec := ProbePage{ID: p.ID, Name: p.Name}
		igID, err := c.probeInstagramAccount(ctx, p, userToken)
		if err != nil {
			c.logger.Warn("probe lookup failed", "page_id", p.ID, "error", err)
		} else {
			rec.ConnectedInstagramAccount = igID
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, params url.Values, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph api response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode, Message: "unknown error"}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Code = body.Error.Code
		apiErr.Subcode = body.Error.Subcode
	}
	return apiErr
}
