package client

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"credential-sync/internal/config"
)

// NewFirebaseAuthClient initializes the Firebase app and returns its Auth
// client. It must be called once per process; the factory owns the result.
func NewFirebaseAuthClient(cfg *config.Config, logger *zap.Logger) (*auth.Client, error) {
	fbConfig := cfg.Firebase

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var opts []option.ClientOption
	if fbConfig.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(fbConfig.CredentialsFile))
	}

	var appConfig *firebase.Config
	if fbConfig.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: fbConfig.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}

	logger.Info("Firebase auth client initialized",
		zap.String("project_id", fbConfig.ProjectID),
		zap.Bool("explicit_credentials", fbConfig.CredentialsFile != ""),
	)

	return authClient, nil
}
