// Package firebase reads sensor records from a Firebase Realtime Database
// over its REST API: a one-shot JSON read for history and the streaming
// (server-sent events) endpoint for the change feed.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nathancread/Moist-Meat/internal/source"
)

var scopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

var errIndexNotDefined = errors.New("index on timestamp not defined")

type Config struct {
	DatabaseURL     string
	CredentialsFile string
	RefPath         string
}

type Option func(*Source)

// WithHTTPClient uses c as is instead of building an authenticated client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source is a source.Source backed by one database location. The
// authenticated client is created on first use and shared by every caller.
type Source struct {
	baseURL         string
	refPath         string
	credentialsFile string
	logger          *slog.Logger

	once      sync.Once
	client    *http.Client
	clientErr error
}

var _ source.Source = (*Source)(nil)

func New(cfg Config, opts ...Option) (*Source, error) {
	raw := strings.TrimSpace(cfg.DatabaseURL)
	if raw == "" {
		return nil, errors.New("firebase database url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid firebase database url %q", raw)
	}

	refPath := "/" + strings.Trim(strings.TrimSpace(cfg.RefPath), "/")
	if refPath == "/" {
		return nil, errors.New("firebase ref path must not be the database root")
	}

	s := &Source{
		baseURL:         strings.TrimRight(raw, "/"),
		refPath:         refPath,
		credentialsFile: strings.TrimSpace(cfg.CredentialsFile),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "firebase", "ref", refPath)
	return s, nil
}

func (s *Source) httpClient() (*http.Client, error) {
	s.once.Do(func() {
		if s.client != nil {
			return
		}
		ctx := context.Background()
		var creds *google.Credentials
		var err error
		if s.credentialsFile != "" {
			var data []byte
			data, err = os.ReadFile(s.credentialsFile)
			if err != nil {
				s.clientErr = fmt.Errorf("read firebase credentials: %w", err)
				return
			}
			creds, err = google.CredentialsFromJSON(ctx, data, scopes...)
		} else {
			creds, err = google.FindDefaultCredentials(ctx, scopes...)
		}
		if err != nil {
			s.clientErr = fmt.Errorf("load firebase credentials: %w", err)
			return
		}
		s.client = oauth2.NewClient(ctx, creds.TokenSource)
		s.logger.Info("firebase client initialized")
	})
	return s.client, s.clientErr
}

// endpoint returns the REST URL of the location. With ordered set the
// server filters to timestamp >= startAfter; the exclusive bound is applied
// client-side.
func (s *Source) endpoint(startAfter int64, ordered bool) string {
	u := s.baseURL + s.refPath + ".json"
	if !ordered {
		return u
	}
	q := url.Values{}
	q.Set("orderBy", strconv.Quote(source.FieldTimestamp))
	q.Set("startAt", strconv.FormatInt(startAfter, 10))
	return u + "?" + q.Encode()
}

// Fetch reads the whole location once. Records are returned sorted by
// timestamp; a positive startAfter keeps only records strictly after it.
func (s *Source) Fetch(ctx context.Context, startAfter int64) ([]source.RawRecord, error) {
	client, err := s.httpClient()
	if err != nil {
		return nil, err
	}

	ordered := startAfter > 0
	body, err := s.get(ctx, client, s.endpoint(startAfter, ordered))
	if ordered && errors.Is(err, errIndexNotDefined) {
		s.logger.Warn("timestamp index missing, reading unfiltered")
		body, err = s.get(ctx, client, s.endpoint(startAfter, false))
	}
	if err != nil {
		return nil, err
	}

	value, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode firebase response: %w", err)
	}
	records := children(value)
	if ordered {
		records = keepAfter(records, startAfter)
	}
	source.SortByTimestamp(records)
	return records, nil
}

// Ping reads the location shallowly to confirm it is reachable.
func (s *Source) Ping(ctx context.Context) error {
	client, err := s.httpClient()
	if err != nil {
		return err
	}
	_, err = s.get(ctx, client, s.baseURL+s.refPath+".json?shallow=true")
	return err
}

func (s *Source) get(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build firebase request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read firebase response: %w", err)
	}
	return body, nil
}

// responseError turns a non-200 response into an error and closes its body.
func responseError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(msg, "Index not defined") {
		return fmt.Errorf("firebase: %w: %s", errIndexNotDefined, msg)
	}
	return fmt.Errorf("firebase: %s: %s", resp.Status, msg)
}

// decode parses a JSON value keeping numbers as json.Number.
func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// children converts a location value into one record per child. Children
// that are not objects become records with no fields so the reader rejects
// them.
func children(v any) []source.RawRecord {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	records := make([]source.RawRecord, 0, len(m))
	for key, child := range m {
		records = append(records, record(key, child))
	}
	return records
}

func record(key string, v any) source.RawRecord {
	fields, ok := v.(map[string]any)
	if !ok {
		fields = map[string]any{}
	}
	return source.RawRecord{Key: key, Fields: fields}
}

func keepAfter(records []source.RawRecord, startAfter int64) []source.RawRecord {
	kept := records[:0]
	for _, r := range records {
		if r.After(startAfter) {
			kept = append(kept, r)
		}
	}
	return kept
}
