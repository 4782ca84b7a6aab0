package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	firebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	tokenFetchTimeout      = 10 * time.Second
)

var ErrNoFirebaseCredentials = errors.New("no firebase credentials provided")

// FirebaseCredentials holds the service account used by FCMProvider.
type FirebaseCredentials struct {
	ProjectID string
	Tokens    oauth2.TokenSource
}

// LoadFirebaseCredentials reads a service account from inline JSON, falling
// back to a file path. The project id is taken from the service account when
// projectID is empty.
func LoadFirebaseCredentials(ctx context.Context, inlineJSON, path, projectID string) (*FirebaseCredentials, error) {
	data := []byte(strings.TrimSpace(inlineJSON))
	if len(data) == 0 {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" {
			return nil, ErrNoFirebaseCredentials
		}
		fileData, err := os.ReadFile(trimmedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read firebase credentials: %w", err)
		}
		data = fileData
	}

	// Every token refresh reuses this ctx: detached from startup cancellation,
	// each fetch bounded by tokenFetchTimeout.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Timeout: tokenFetchTimeout})

	creds, err := google.CredentialsFromJSON(tokenCtx, data, firebaseMessagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse firebase credentials: %w", err)
	}

	resolvedProject := strings.TrimSpace(projectID)
	if resolvedProject == "" {
		resolvedProject = creds.ProjectID
	}
	if resolvedProject == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}

	return &FirebaseCredentials{ProjectID: resolvedProject, Tokens: creds.TokenSource}, nil
}
