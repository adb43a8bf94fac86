package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string

	BlobStoreType string // drive | s3 | local
	LocalStoreDir string
	DriveBaseURL  string
	AWSRegion     string
	S3Bucket      string
	S3Prefix      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string

	OCREndpoint string
	OCRAPIKey   string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string
	JWTSecret          string

	MaxUploadBytes int64
	AmountCeiling  decimal.Decimal
}

const defaultAmountCeiling = "1000000"

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	ceiling, err := decimal.NewFromString(getEnv("AMOUNT_CEILING", defaultAmountCeiling))
	if err != nil {
		ceiling = decimal.RequireFromString(defaultAmountCeiling)
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             normalizeEnv(getEnv("ENV", "dev")),

		BlobStoreType: normalizeStoreType(getEnv("BLOB_STORE", "local")),
		LocalStoreDir: getEnv("LOCAL_STORE_DIR", "./data"),
		DriveBaseURL:  getEnv("DRIVE_BASE_URL", ""),
		AWSRegion:     getEnv("AWS_REGION", ""),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Prefix:      getEnv("S3_PREFIX", ""),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),

		OCREndpoint: getEnv("OCR_ENDPOINT", ""),
		OCRAPIKey:   getEnv("OCR_API_KEY", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),

		MaxUploadBytes: 10 << 20,
		AmountCeiling:  ceiling,
	}
}

func getEnv(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "drive":
		return "drive"
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
