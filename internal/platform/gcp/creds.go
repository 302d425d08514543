package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/yungbote/docrag-backend/internal/platform/envutil"
)

// Credentials is where Google clients get their identity from. Both empty
// means application default credentials.
type Credentials struct {
	JSON []byte
	File string
}

// CredentialsFromEnv prefers GOOGLE_APPLICATION_CREDENTIALS_JSON over
// GOOGLE_APPLICATION_CREDENTIALS. Either may hold inline JSON or a file path.
func CredentialsFromEnv() Credentials {
	raw := envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""))
	if strings.HasPrefix(raw, "{") {
		return Credentials{JSON: []byte(raw)}
	}
	return Credentials{File: raw}
}

// Source names the credential kind for logs without exposing it.
func (c Credentials) Source() string {
	switch {
	case len(c.JSON) > 0:
		return "inline_json"
	case c.File != "":
		return "file"
	default:
		return "application_default"
	}
}

func (c Credentials) ClientOptions() []option.ClientOption {
	switch {
	case len(c.JSON) > 0:
		return []option.ClientOption{option.WithCredentialsJSON(c.JSON)}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	default:
		return nil
	}
}
