package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SignatureHeader = "Upstash-Signature"

var ErrInvalidSignature = errors.New("qstash: invalid signature")

type Config struct {
	URL               string        `split_words:"true" required:"true"`
	Token             string        `split_words:"true" required:"true"`
	CurrentSigningKey string        `split_words:"true" required:"true"`
	NextSigningKey    string        `split_words:"true" required:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	httpClient        *http.Client
	now               func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type PublishRequest struct {
	Destination     string
	Body            any
	DeduplicationID string
	Delay           time.Duration
}

// Publish enqueues a JSON message for Destination and returns its message id.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	dest := strings.TrimSpace(req.Destination)
	if _, err := url.ParseRequestURI(dest); err != nil {
		return "", fmt.Errorf("qstash: invalid destination: %w", err)
	}

	var body []byte
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return "", err
		}
		body = raw
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/publish/"+dest, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if id := strings.TrimSpace(req.DeduplicationID); id != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", id)
	}
	if req.Delay > 0 {
		httpReq.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(req.Delay.Seconds())))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("qstash publish failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode qstash response: %w", err)
	}
	return out.MessageID, nil
}

// signatureClaims is the payload of an Upstash-Signature token. Body is the
// base64url SHA-256 of the request body.
type signatureClaims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

const (
	signatureIssuer = "Upstash"
	clockLeeway     = 5 * time.Second
)

// Verify checks an Upstash-Signature token against the current signing key,
// then the next one. subject is the receiving URL; empty skips that check.
func (c *Client) Verify(signature string, body []byte, subject string) error {
	err := c.verifyWith(c.currentSigningKey, signature, body, subject)
	if err == nil {
		return nil
	}
	if c.nextSigningKey != "" {
		if errNext := c.verifyWith(c.nextSigningKey, signature, body, subject); errNext == nil {
			return nil
		}
	}
	return err
}

func (c *Client) verifyWith(key, token string, body []byte, subject string) error {
	if key == "" {
		return fmt.Errorf("%w: signing key is empty", ErrInvalidSignature)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(c.now),
	}
	if subject != "" {
		opts = append(opts, jwt.WithSubject(subject))
	}

	var claims signatureClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(body)
	if strings.TrimRight(claims.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}
