package googleauth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
)

// ErrNoProjectID is returned when neither the configuration nor the
// credential material names a project.
var ErrNoProjectID = errors.New("no project id in configuration or credentials")

// LoadCredentials reads a service account JSON file. An empty path falls
// back to Application Default Credentials.
func LoadCredentials(ctx context.Context, path string, scopes ...string) (*google.Credentials, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return creds, nil
}

// ProjectID picks the configured project, or the one in creds.
func ProjectID(configured string, creds *google.Credentials) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if creds != nil && creds.ProjectID != "" {
		return creds.ProjectID, nil
	}
	return "", ErrNoProjectID
}
