package bootstrap

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"billfold-backend/internal/auth"
	"billfold-backend/internal/blob"
	drivestore "billfold-backend/internal/blob/drive"
	localstore "billfold-backend/internal/blob/local"
	s3store "billfold-backend/internal/blob/s3"
	"billfold-backend/internal/documents"
	"billfold-backend/internal/recognize"
	sharedauth "billfold-backend/internal/shared/auth"
	"billfold-backend/internal/shared/config"
	"billfold-backend/internal/shared/server"
	"billfold-backend/internal/uploads"
)

// App holds shared dependencies.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	Blobs       blob.Store
	Credentials *auth.CredentialCache
	Refresher   *auth.RefreshCoordinator
	GoogleAuth  *auth.GoogleService
	Meta        *documents.MetadataStore
	Recognizer  recognize.Client

	DocumentsService *documents.Service
	Orchestrator     *uploads.Orchestrator
	DocumentsHandler *documents.Handler
	UploadsHandler   *uploads.Handler
}

// Build wires the application graph and its router.
func Build(cfg config.Config) (*App, error) {
	credentials := auth.NewCredentialCache()
	googleAuth := auth.NewGoogleService(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
		cfg.UIRedirectURL,
		credentials,
	)
	refresher := auth.NewRefreshCoordinator(auth.GoogleRefreshFunc(googleAuth.OAuthConfig()))

	blobs, err := buildBlobs(cfg, credentials, refresher)
	if err != nil {
		return nil, err
	}

	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		return nil, err
	}

	meta := documents.NewMetadataStore(blobs)
	docSvc := &documents.Service{
		Meta:          meta,
		Blobs:         blobs,
		AmountCeiling: cfg.AmountCeiling,
	}
	orch := &uploads.Orchestrator{
		Blobs:         blobs,
		Meta:          meta,
		Recognizer:    recognizer,
		MaxFileBytes:  cfg.MaxUploadBytes,
		AmountCeiling: cfg.AmountCeiling,
	}

	app := &App{
		Config:           cfg,
		Blobs:            blobs,
		Credentials:      credentials,
		Refresher:        refresher,
		GoogleAuth:       googleAuth,
		Meta:             meta,
		Recognizer:       recognizer,
		DocumentsService: docSvc,
		Orchestrator:     orch,
		DocumentsHandler: documents.NewHandler(docSvc),
		UploadsHandler:   uploads.NewHandler(orch),
	}
	app.Router = server.NewRouter(server.Deps{
		Config:     cfg,
		GoogleAuth: googleAuth,
		Documents:  app.DocumentsHandler,
		Uploads:    app.UploadsHandler,
	})
	return app, nil
}

func buildBlobs(cfg config.Config, credentials *auth.CredentialCache, refresher *auth.RefreshCoordinator) (blob.Store, error) {
	switch cfg.BlobStoreType {
	case "drive":
		return drivestore.New(drivestore.Options{
			BaseURL:       cfg.DriveBaseURL,
			TokenProvider: driveTokenProvider(credentials, refresher),
		})
	case "s3":
		return s3store.New(context.Background(), s3store.Options{
			Region:    cfg.AWSRegion,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "local":
		return localstore.New(cfg.LocalStoreDir), nil
	default:
		return nil, fmt.Errorf("unknown blob store type %q", cfg.BlobStoreType)
	}
}

// driveTokenProvider resolves the acting identity from the request context
// and hands the Drive client a token that is fresh enough for one call. A
// missing or invalid credential means the user must sign in again.
func driveTokenProvider(credentials *auth.CredentialCache, refresher *auth.RefreshCoordinator) drivestore.AccessTokenProvider {
	return func(ctx context.Context) (string, error) {
		identity := sharedauth.IdentityFromContext(ctx)
		if identity == "" {
			return "", auth.ErrReauthRequired
		}
		cred, ok := credentials.Get(identity)
		if !ok {
			return "", auth.ErrReauthRequired
		}
		cred, err := refresher.EnsureFresh(ctx, identity, cred)
		if err != nil {
			return "", err
		}
		credentials.Put(identity, cred)
		if cred.Invalid {
			return "", auth.ErrReauthRequired
		}
		return cred.AccessToken, nil
	}
}

func buildRecognizer(cfg config.Config) (recognize.Client, error) {
	if cfg.OCREndpoint == "" {
		return recognize.Disabled{}, nil
	}
	return recognize.NewHTTPClient(cfg.OCREndpoint, cfg.OCRAPIKey)
}
