package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "QFORMS_"

const (
	StorageFS = "fs"
	StorageS3 = "s3"
)

type Config struct {
	Addr          string
	DBUrl         string
	TokenSecret   string
	TokenTTL      time.Duration
	SessionSecret string
	MaxUploadSize int64
	AdminUser     string
	AdminPassword string
	SecureCookies bool
	Debug         bool

	Storage StorageConfig
}

type StorageConfig struct {
	Backend string

	// local filesystem backend
	MediaDir string
	MediaURL string

	// S3 compatible backend (MinIO, AWS)
	Endpoint   string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Location   string
	UseSSL     bool
	PresignTTL time.Duration
}

// ParseFlags loads an optional .env file and parses the process arguments.
func ParseFlags() (Config, error) {
	_ = godotenv.Load()
	return Parse(os.Args[1:])
}

// Parse reads the configuration from args. Every flag falls back to the
// matching QFORMS_* environment variable.
func Parse(args []string) (cfg Config, err error) {
	fs := flag.NewFlagSet("quick-forms", flag.ContinueOnError)

	var host string
	fs.StringVar(&host, "host", env("HOST", "0.0.0.0"), "listen host name")
	var port uint
	fs.UintVar(&port, "port", uint(envInt("PORT", 80)), "listen port number")
	fs.StringVar(&cfg.DBUrl, "db-url", env("DB_URL", "qforms.sqlite"), "path to SQLite3 DB file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", env("TOKEN_SECRET", ""), "secret key for token encryption and decryption")
	var ttl uint
	fs.UintVar(&ttl, "token-ttl", uint(envInt("TOKEN_TTL", 120)), "token TTL in seconds")
	fs.StringVar(&cfg.SessionSecret, "session-secret", env("SESSION_SECRET", ""), "secret key for anonymous session cookies (defaults to -token-secret)")
	var maxUpload uint
	fs.UintVar(&maxUpload, "max-upload-mb", uint(envInt("MAX_UPLOAD_MB", 32)), "maximum request size for submissions, in MiB")
	fs.StringVar(&cfg.AdminUser, "admin-user", env("ADMIN_USER", ""), "bootstrap an admin account with this username")
	fs.StringVar(&cfg.AdminPassword, "admin-password", env("ADMIN_PASSWORD", ""), "password of the bootstrap admin account")
	fs.BoolVar(&cfg.SecureCookies, "secure-cookies", envBool("SECURE_COOKIES", false), "mark session and token cookies Secure (HTTPS only)")
	fs.BoolVar(&cfg.Debug, "debug", envBool("DEBUG", false), "log at DEBUG level")

	st := &cfg.Storage
	fs.StringVar(&st.Backend, "storage", env("STORAGE", StorageFS), "object storage backend: fs or s3")
	fs.StringVar(&st.MediaDir, "media-dir", env("MEDIA_DIR", "media"), "root directory of the fs storage backend")
	fs.StringVar(&st.MediaURL, "media-url", env("MEDIA_URL", "/media/"), "public URL prefix of the fs storage backend")
	fs.StringVar(&st.Endpoint, "s3-endpoint", env("S3_ENDPOINT", "localhost:9000"), "S3 endpoint host:port")
	fs.StringVar(&st.Bucket, "s3-bucket", env("S3_BUCKET", "local-bucket-form"), "S3 bucket name")
	fs.StringVar(&st.AccessKey, "s3-access-key", env("S3_ACCESS_KEY", ""), "S3 access key")
	fs.StringVar(&st.SecretKey, "s3-secret-key", env("S3_SECRET_KEY", ""), "S3 secret key")
	fs.StringVar(&st.Location, "s3-location", env("S3_LOCATION", "media"), "key prefix inside the S3 bucket")
	fs.BoolVar(&st.UseSSL, "s3-ssl", envBool("S3_SSL", false), "use TLS to reach the S3 endpoint")
	var presign uint
	fs.UintVar(&presign, "s3-presign-ttl", uint(envInt("S3_PRESIGN_TTL", 3600)), "lifetime of presigned file URLs, in seconds")

	if err = fs.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second
	cfg.MaxUploadSize = int64(maxUpload) << 20
	st.PresignTTL = time.Duration(presign) * time.Second
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.TokenSecret
	}

	switch {
	case cfg.TokenSecret == "":
		err = errors.New("missing parameter -token-secret")
	case st.Backend != StorageFS && st.Backend != StorageS3:
		err = errors.New("parameter -storage must be fs or s3")
	case (cfg.AdminUser == "") != (cfg.AdminPassword == ""):
		err = errors.New("parameters -admin-user and -admin-password go together")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(env(key, ""))
	if err != nil {
		return def
	}
	return b
}
