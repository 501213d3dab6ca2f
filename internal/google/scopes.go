package google

// GmailScopes are the OAuth scopes the ingestion run needs. Messages are
// only read; labels are never changed.
var GmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
}
