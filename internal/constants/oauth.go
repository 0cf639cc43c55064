package constants

// Google OAuth client used by the Antigravity IDE. Accounts in the pool were
// authorized against this client, so refresh grants must present the same
// credentials.
const (
	OAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	OAuthClientSecret = "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"

	OAuthTokenURL    = "https://oauth2.googleapis.com/token"
	OAuthAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	OAuthUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// OAuthScopes covers Cloud Code access plus the profile fields persisted on
// each account.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}
