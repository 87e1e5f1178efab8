package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions turns an inline JSON credential or a file path into client options.
// An empty value falls back to GOOGLE_APPLICATION_CREDENTIALS_JSON, then to
// application default credentials.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}
