package deploy

import (
	"context"
	"os"
)

// CloudflareCredentials identifies the account a cloud deployment targets.
type CloudflareCredentials struct {
	AccountID string
	APIToken  string
}

// CredentialsProvider resolves the cloud credentials for a user. A nil result
// with a nil error means no credentials are stored for that user.
type CredentialsProvider interface {
	CloudflareCredentials(ctx context.Context, userID string) (*CloudflareCredentials, error)
}

// EnvCredentials resolves credentials from the named environment variables,
// ignoring the user id. Suitable for single-tenant deployments.
type EnvCredentials struct {
	AccountIDVar string
	APITokenVar  string
}

func (e EnvCredentials) CloudflareCredentials(context.Context, string) (*CloudflareCredentials, error) {
	accountID := os.Getenv(e.AccountIDVar)
	token := os.Getenv(e.APITokenVar)
	if accountID == "" && token == "" {
		return nil, nil
	}
	return &CloudflareCredentials{AccountID: accountID, APIToken: token}, nil
}

// StaticCredentials returns the same credentials for every user.
type StaticCredentials CloudflareCredentials

func (s StaticCredentials) CloudflareCredentials(context.Context, string) (*CloudflareCredentials, error) {
	c := CloudflareCredentials(s)
	return &c, nil
}
