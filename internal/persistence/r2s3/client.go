package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	signedHeaders  = "host;x-amz-content-sha256;x-amz-date"
)

// Config selects the bucket snapshots and tick logs are mirrored to. Read from FLOWCRAFT_R2_* variables.
type Config struct {
	Enabled         bool          `env:"MIRROR"`
	Endpoint        string        `env:"ENDPOINT"`
	Region          string        `env:"REGION" envDefault:"auto"`
	Bucket          string        `env:"BUCKET"`
	AccessKeyID     string        `env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"SECRET_ACCESS_KEY"`
	Prefix          string        `env:"PREFIX"`
	Workers         int           `env:"UPLOAD_WORKERS" envDefault:"2"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY" envDefault:"2048"`
	EnqueueWait     time.Duration `env:"ENQUEUE_WAIT" envDefault:"25ms"`
}

const EnvPrefix = "FLOWCRAFT_R2_"

func ConfigFromEnv() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("r2 config: %w", err)
	}
	return c, nil
}

// Client uploads files to an S3-compatible bucket with SigV4 path-style requests.
type Client struct {
	endpoint   string
	bucket     string
	creds      credentials
	httpClient *http.Client
	now        func() time.Time
}

type credentials struct {
	accessKeyID string
	secret      string
	region      string
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	creds := credentials{
		accessKeyID: strings.TrimSpace(cfg.AccessKeyID),
		secret:      strings.TrimSpace(cfg.SecretAccessKey),
		region:      strings.TrimSpace(cfg.Region),
	}
	if creds.region == "" {
		creds.region = "auto"
	}
	if endpoint == "" || bucket == "" || creds.accessKeyID == "" || creds.secret == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}

	return &Client{
		endpoint:   strings.TrimRight(u.String(), "/"),
		bucket:     bucket,
		creds:      creds,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}, nil
}

// PutFile uploads localPath as objectKey. The body is hashed up front because SigV4 signs the payload.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	objectKey = normalizeObjectKey(objectKey)
	if objectKey == "" {
		return fmt.Errorf("empty object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("path is directory: %s", localPath)
	}
	payloadHash, err := fileSHA256Hex(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+"/"+c.bucket+"/"+escapePath(objectKey), f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.creds.sign(req, payloadHash, c.now().UTC())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("r2 put failed status=%d key=%s body=%s", resp.StatusCode, objectKey, strings.TrimSpace(string(body)))
}

// sign sets the SigV4 headers on req. Only host and the two x-amz headers are signed; the query
// string is always empty for path-style PUTs.
func (cr credentials) sign(req *http.Request, payloadHash string, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	canonical := fmt.Sprintf("%s\n%s\n\nhost:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n%s\n%s",
		req.Method, req.URL.EscapedPath(), host, payloadHash, amzDate, signedHeaders, payloadHash)
	scope := dateStamp + "/" + cr.region + "/" + sigV4Service + "/aws4_request"
	toSign := sigV4Algorithm + "\n" + amzDate + "\n" + scope + "\n" + sha256Hex([]byte(canonical))

	key := deriveSigningKey(cr.secret, dateStamp, cr.region, sigV4Service)
	sig := hex.EncodeToString(hmacSHA256(key, []byte(toSign)))
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, cr.accessKeyID, scope, signedHeaders, sig))
}

func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := path.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func fileSHA256Hex(f *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
