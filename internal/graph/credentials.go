package graph

// Credentials is the resolved bundle produced by a successful OAuth
// callback: the page-level token used for send operations, the page it
// belongs to, and the Instagram account linked to that page. The bundle
// is overwritten wholesale on each new authorization, never patched.
type Credentials struct {
	// AccessToken is the page access token used for send operations.
	AccessToken string `json:"access_token"`

	// PageID is the managed page the token is scoped to.
	PageID string `json:"page_id"`

	// IGUserID is the Instagram account linked to the page.
	IGUserID string `json:"ig_user_id"`

	Scopes []string `json:"scopes"`

	// UserAccessToken is the short-lived user token from the code
	// exchange, retained only for diagnostic re-resolution.
	UserAccessToken string `json:"user_access_token,omitempty"`
}

// Usable reports whether the bundle can back send operations. The page
// token and the linked account id go together; a record missing either
// is treated as absent.
func (c *Credentials) Usable() bool {
	return c != nil && c.AccessToken != "" && c.IGUserID != ""
}

// DeclaredScopes is the scope set requested at login and recorded on
// every resolved bundle.
var DeclaredScopes = []string{
	"instagram_basic",
	"instagram_manage_messages",
	"pages_show_list",
	"pages_manage_metadata",
}
