// Package google reads the operator's Google Contacts through the People
// API, incrementally when a sync token from an earlier run is available.
package google

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"

	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/resilience"
)

// Scope is the read-only contacts scope the refresh token must carry.
const Scope = "https://www.googleapis.com/auth/contacts.readonly"

// MaxPageSize is the largest connections page the People API returns.
const MaxPageSize = 1000

const personFields = "metadata,names,emailAddresses,phoneNumbers,addresses"

// Credentials identify an OAuth client and a long-lived refresh token
// obtained out of band.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewPeopleService builds a People API service that refreshes its access
// token from creds. Extra options are passed to the service constructor.
func NewPeopleService(ctx context.Context, creds Credentials, opts ...option.ClientOption) (*people.Service, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RefreshToken == "" {
		return nil, eris.New("google: client id, client secret and refresh token are required")
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       []string{Scope},
	}
	client := conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	svc, err := people.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "google: create people service")
	}
	return svc, nil
}

// SyncResult is what one sync reported.
type SyncResult struct {
	// Contacts are the live contacts returned, keyed by resource name in ID.
	Contacts []model.Record
	// Deleted lists the resource names reported as removed.
	Deleted []string
	// SyncToken resumes the next sync from this point.
	SyncToken string
	// Full is set when every connection was listed rather than the changes.
	Full bool
}

// Option configures a PeopleSyncer.
type Option func(*PeopleSyncer)

// WithPageSize overrides the connections page size (default MaxPageSize).
func WithPageSize(n int) Option {
	return func(s *PeopleSyncer) {
		if n > 0 && n <= MaxPageSize {
			s.pageSize = int64(n)
		}
	}
}

// WithRetry overrides the retry policy for page requests.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *PeopleSyncer) { s.retry = cfg }
}

// WithRateLimit throttles page requests to rps per second. Zero disables
// throttling.
func WithRateLimit(rps float64) Option {
	return func(s *PeopleSyncer) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			s.limiter = nil
		}
	}
}

// PeopleSyncer lists the connections of the authenticated user.
type PeopleSyncer struct {
	svc      *people.Service
	pageSize int64
	retry    resilience.RetryConfig
	limiter  *rate.Limiter
}

// NewPeopleSyncer creates a PeopleSyncer on svc.
func NewPeopleSyncer(svc *people.Service, opts ...Option) *PeopleSyncer {
	s := &PeopleSyncer{
		svc:      svc,
		pageSize: MaxPageSize,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("google", "list_connections")
	}
	return s
}

// Sync lists the changes since token, or every connection when token is
// empty. A token the API no longer accepts (400 or 410) falls back to a
// full sync.
func (s *PeopleSyncer) Sync(ctx context.Context, token string) (*SyncResult, error) {
	if token != "" {
		res, err := s.list(ctx, token)
		if err == nil {
			zap.L().Info("google: incremental sync",
				zap.Int("changed", len(res.Contacts)),
				zap.Int("deleted", len(res.Deleted)),
			)
			return res, nil
		}
		if !IsExpiredToken(err) {
			return nil, err
		}
		zap.L().Warn("google: sync token rejected, running full sync", zap.Error(err))
	}

	res, err := s.list(ctx, "")
	if err != nil {
		return nil, err
	}
	res.Full = true
	zap.L().Info("google: full sync", zap.Int("contacts", len(res.Contacts)))
	return res, nil
}

func (s *PeopleSyncer) list(ctx context.Context, token string) (*SyncResult, error) {
	res := &SyncResult{}
	pageToken := ""
	for page := 1; ; page++ {
		resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*people.ListConnectionsResponse, error) {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return nil, eris.Wrap(err, "google: rate limit")
				}
			}
			call := s.svc.People.Connections.List("people/me").
				PersonFields(personFields).
				PageSize(s.pageSize).
				RequestSyncToken(true).
				Context(ctx)
			if token != "" {
				call = call.SyncToken(token)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			return resp, classify(err)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "google: list connections page %d", page)
		}

		for _, p := range resp.Connections {
			if p == nil {
				continue
			}
			if p.Metadata != nil && p.Metadata.Deleted {
				res.Deleted = append(res.Deleted, p.ResourceName)
				continue
			}
			res.Contacts = append(res.Contacts, PersonToRecord(p))
		}
		zap.L().Debug("google: connections page",
			zap.Int("page", page),
			zap.Int("connections", len(resp.Connections)),
			zap.Int("total", len(res.Contacts)),
		)

		if resp.NextPageToken == "" {
			res.SyncToken = resp.NextSyncToken
			return res, nil
		}
		pageToken = resp.NextPageToken
	}
}

// IsExpiredToken reports whether err is the API rejecting a sync token.
func IsExpiredToken(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusGone
}

// classify marks rate limiting and server errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
		return resilience.NewTransientError(err, apiErr.Code)
	}
	return err
}

// PersonToRecord converts a People API person into a contact record. The
// record ID is the person's resource name.
func PersonToRecord(p *people.Person) model.Record {
	rec := model.Record{ID: p.ResourceName}
	for _, n := range p.Names {
		if n != nil && strings.TrimSpace(n.DisplayName) != "" {
			rec.Name = strings.TrimSpace(n.DisplayName)
			break
		}
	}
	for _, ph := range p.PhoneNumbers {
		if ph == nil {
			continue
		}
		v := ph.CanonicalForm
		if v == "" {
			v = ph.Value
		}
		if n := model.NormalizePhone(v); n != "" && !slices.Contains(rec.Phones, n) {
			rec.Phones = append(rec.Phones, n)
		}
	}
	for _, e := range p.EmailAddresses {
		if e == nil {
			continue
		}
		if v := strings.TrimSpace(e.Value); v != "" && !slices.Contains(rec.Emails, v) {
			rec.Emails = append(rec.Emails, v)
		}
	}
	for _, a := range p.Addresses {
		if a != nil && strings.TrimSpace(a.FormattedValue) != "" {
			rec.Addresses = append(rec.Addresses, strings.TrimSpace(a.FormattedValue))
		}
	}
	return rec
}
