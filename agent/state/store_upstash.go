package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultStoreKeyPrefix = "fredie:conversation:"
	defaultStoreTTL       = 7 * 24 * time.Hour
	maxResponseSizeBytes  = 4 << 20
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.keyPrefix = p
		}
	}
}

// WithTTL sets the idle expiry of a checkpoint. Zero keeps checkpoints
// forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) { s.ttl = ttl }
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// RESTError is an error reported by the Upstash REST API, either as a non-2xx
// status or as an "error" field in the reply.
type RESTError struct {
	Status  int
	Message string
}

func (e *RESTError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("upstash redis: status %d: %s", e.Status, e.Message)
	}
	return "upstash redis: " + e.Message
}

// UpstashRedisStore checkpoints ConversationState in Upstash Redis over REST.
// Expiry slides: every Load and Save pushes it ttl into the future, so only
// sessions idle for longer than ttl are forgotten.
type UpstashRedisStore struct {
	endpoint   string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Store = (*UpstashRedisStore)(nil)

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid upstash redis url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &UpstashRedisStore{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, errors.New("checkpoint ttl must be >= 0")
	}
	return s, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return nil, err
	}

	cmd := []any{"GET", key}
	if s.ttl > 0 {
		cmd = []any{"GETEX", key, "EX", ttlSeconds(s.ttl)}
	}
	result, err := s.do(ctx, cmd...)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var payload string
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("checkpoint %s is not a string: %w", sessionID, err)
	}
	return decodeState([]byte(payload))
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *ConversationState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	key, err := s.redisKey(st.SessionID)
	if err != nil {
		return err
	}

	cmd := []any{"SET", key, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.do(ctx, cmd...)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, "DEL", key)
	return err
}

func (s *UpstashRedisStore) redisKey(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return s.keyPrefix + sessionID, nil
}

// do runs one command and returns its raw "result".
func (s *UpstashRedisStore) do(ctx context.Context, args ...any) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redis %v: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	decodeErr := json.Unmarshal(raw, &reply)
	switch {
	case reply.Error != "":
		return nil, &RESTError{Status: resp.StatusCode, Message: reply.Error}
	case resp.StatusCode/100 != 2:
		return nil, &RESTError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	case decodeErr != nil:
		return nil, fmt.Errorf("decode redis response: %w", decodeErr)
	}
	return bytes.TrimSpace(reply.Result), nil
}

// ttlSeconds rounds up so a sub-second ttl never becomes "no expiry".
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
