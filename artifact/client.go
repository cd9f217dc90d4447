// Package artifact looks up built application JARs in the artifact repository.
// A search exchanges basic-auth credentials for a short-lived bearer token and then
// runs an AQL query for files matching the requested version.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/metrics"
)

const (
	stepToken  = "token"
	stepSearch = "search"

	maxErrorBody = 4 << 10
)

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config describes the artifact repository and the query built from a version
type Config struct {
	// Endpoint issuing bearer tokens
	TokenURL string `validate:"required,url"`
	// AQL search endpoint
	SearchURL string `validate:"required,url"`
	// Prefix of the URLs returned to callers
	DownloadBaseURL string `validate:"required,url"`
	// Account the token is issued for; defaults to the basic-auth username
	TokenSubject string
	// Scope requested for the token
	Scope string `validate:"required"`
	// Requested token lifetime
	TokenExpiry time.Duration `validate:"required"`
	// Keep tokens between searches until they expire
	ReuseToken bool
	// Repository searched
	Repo string `validate:"required"`
	// Artifact name; files must match <ArtifactName>-<version>-*.jar
	ArtifactName string `validate:"required"`
	// Base path; files must live under <ArtifactPath>/<version>-SNAPSHOT
	ArtifactPath string `validate:"required"`
	// Timeout of each HTTP request
	RequestTimeout time.Duration
}

// DefaultConfig returns the query defaults. Endpoints must be set for a real deployment.
func DefaultConfig() Config {
	return Config{
		TokenURL:        "https://artifacts.example.com/artifactory/api/security/token",
		SearchURL:       "https://artifacts.example.com/artifactory/api/search/aql",
		DownloadBaseURL: "https://artifacts.example.com",
		Scope:           "member-of-groups:readers",
		TokenExpiry:     time.Hour,
		ReuseToken:      true,
		Repo:            "maven-snapshot-local",
		ArtifactName:    "ump-analytics-workflows",
		ArtifactPath:    "com/expediagroup/distributedcompute/ump-analytics-workflows",
		RequestTimeout:  30 * time.Second,
	}
}

// Searcher is what the controller and handlers need from the client
type Searcher interface {
	Search(ctx context.Context, version string) ([]string, error)
}

// Client searches the artifact repository
type Client struct {
	config      Config
	credentials CredentialsProvider
	httpClient  *http.Client

	tokenLock sync.Mutex
	token     *oauth2.Token
	// credentials the cached token was issued for
	tokenCreds Credentials
}

// NewClient creates a new artifact search client. A nil httpClient uses a client
// with the configured request timeout.
func NewClient(config Config, credentials CredentialsProvider, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	return &Client{
		config:      config,
		credentials: credentials,
		httpClient:  httpClient,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Name string `json:"name"`
}

// Search returns the download URLs of JARs built for version.
// No matches is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, version string) ([]string, error) {
	start := time.Now()
	urls, err := c.search(ctx, version)
	metrics.RecordArtifactSearch(time.Since(start), err)
	if err != nil {
		log.WithFields(log.Fields{"version": version}).WithError(err).Warn("Artifact search failed")
		return nil, err
	}
	log.WithFields(log.Fields{"version": version, "matches": len(urls)}).Debug("Artifact search finished")
	return urls, nil
}

func (c *Client) search(ctx context.Context, version string) ([]string, error) {
	if !versionPattern.MatchString(version) {
		return nil, &forgeerrors.InvalidArgumentError{
			Name:    "version",
			Value:   version,
			Message: "version may only contain letters, digits, '.', '_' and '-'",
		}
	}

	creds, err := c.credentials.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	token, err := c.bearerToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.SearchURL, strings.NewReader(c.Query(version)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	var result searchResponse
	if err := c.do(req, stepSearch, &result); err != nil {
		var remoteErr *forgeerrors.RemoteServiceError
		if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusUnauthorized {
			c.forgetToken()
		}
		return nil, err
	}

	urls := make([]string, 0, len(result.Results))
	for _, item := range result.Results {
		if item.Repo == "" || item.Path == "" || item.Name == "" {
			continue
		}
		urls = append(urls, c.downloadURL(item))
	}
	return urls, nil
}

// Query renders the AQL query for version
func (c *Client) Query(version string) string {
	return fmt.Sprintf(`items.find({"repo": %s, "type": "file", "name": {"$match": %s}, "path": {"$match": %s}}).include("name", "repo", "path")`,
		quote(c.config.Repo),
		quote(c.config.ArtifactName+"-"+version+"-*.jar"),
		quote(strings.TrimSuffix(c.config.ArtifactPath, "/")+"/"+version+"-SNAPSHOT"),
	)
}

func (c *Client) downloadURL(item searchResult) string {
	return strings.TrimSuffix(c.config.DownloadBaseURL, "/") + "/" +
		item.Repo + "/" + strings.TrimPrefix(item.Path, "/") + "/" + item.Name
}

// bearerToken returns the cached token while it is valid, otherwise requests a new one
func (c *Client) bearerToken(ctx context.Context, creds Credentials) (*oauth2.Token, error) {
	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()

	source := &tokenFetcher{ctx: ctx, client: c, creds: creds}
	if !c.config.ReuseToken {
		return source.Token()
	}
	// rotated credentials invalidate the cached token
	if creds != c.tokenCreds {
		c.token = nil
	}
	token, err := oauth2.ReuseTokenSource(c.token, source).Token()
	if err != nil {
		return nil, err
	}
	c.token = token
	c.tokenCreds = creds
	return token, nil
}

func (c *Client) forgetToken() {
	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()
	c.token = nil
	c.tokenCreds = Credentials{}
}

// tokenFetcher adapts the token request to oauth2.TokenSource for one search
type tokenFetcher struct {
	ctx    context.Context
	client *Client
	creds  Credentials
}

func (f *tokenFetcher) Token() (*oauth2.Token, error) {
	cfg := f.client.config
	subject := cfg.TokenSubject
	if subject == "" {
		subject = f.creds.Username
	}
	form := url.Values{}
	form.Set("username", subject)
	form.Set("scope", cfg.Scope)
	form.Set("expires_in", strconv.FormatInt(int64(cfg.TokenExpiry/time.Second), 10))

	req, err := http.NewRequestWithContext(f.ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build token request")
	}
	req.SetBasicAuth(f.creds.Username, f.creds.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var result tokenResponse
	if err := f.client.do(req, stepToken, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, &forgeerrors.RemoteServiceError{
			Service:    integrationName,
			Step:       stepToken,
			StatusCode: http.StatusOK,
			Err:        errors.New("access token not found in response"),
		}
	}

	expiresIn := time.Duration(result.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = cfg.TokenExpiry
	}
	return &oauth2.Token{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(expiresIn),
	}, nil
}

// do sends req and decodes a successful JSON response into out
func (c *Client) do(req *http.Request, step string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &forgeerrors.RemoteServiceError{Service: integrationName, Step: step, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &forgeerrors.RemoteServiceError{
			Service:    integrationName,
			Step:       step,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &forgeerrors.RemoteServiceError{
			Service:    integrationName,
			Step:       step,
			StatusCode: resp.StatusCode,
			Err:        errors.Wrap(err, "failed to decode response"),
		}
	}
	return nil
}

func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
