// Package test is the WebPods integration-test harness: it spins up a
// disposable Postgres with testcontainers-go the same way the teacher's
// own test/suite.go does, then wires the real internal packages
// (podstore, streamstore, recordstore, permission, cache, ratelimit)
// behind an httptest.Server running internal/httpapi, so a test drives
// the system the only way a real client can: HTTP requests against a
// pod subdomain.
package test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/webpods-org/webpods/core/access"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/registry"
	"github.com/webpods-org/webpods/internal/blobstore"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/httpapi"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/podstore"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/recordstore"
	"github.com/webpods-org/webpods/internal/storage"
	"github.com/webpods-org/webpods/internal/streamstore"
)

// ServerHost is the bare host the test server's pods are subdomains of.
// Requests address a pod as "<pod>.test.webpods.local".
const ServerHost = "test.webpods.local"

// IntegrationTestSuite boots one Postgres container for the whole suite
// and rebuilds the WebPods schema and cache state before every test, so
// tests run independently without paying a fresh container per test.
type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	db                *csql.DB

	caches  *cache.Hierarchy
	pods    *podstore.Store
	streams *streamstore.Store
	records *recordstore.Store
	perm    *permission.Engine

	server *httptest.Server
}

// bridgeAuthenticator adapts access.BackdoorAuthenticator (token string
// in, user id out) to httpapi.Authenticator (request in, user id out),
// the same bearer-token extraction core/access.Middleware does.
type bridgeAuthenticator struct {
	backdoor *access.BackdoorAuthenticator
}

func (b bridgeAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	token := header
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	return b.backdoor.Authenticate(token)
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := s.T().Context()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "webpods",
			"POSTGRES_PASSWORD": "webpods",
			"POSTGRES_DB":       "webpods",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	conn := fmt.Sprintf("host=%s port=%s user=webpods dbname=webpods sslmode=disable", host, port.Port())
	s.db = csql.OpenWithSchema(conn, "webpods", "webpods_integration_test")
	s.Require().NoError(storage.EnsureSchema(s.db, registry.New(s.db)))
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.postgresContainer != nil {
		_ = s.postgresContainer.Terminate(s.T().Context())
	}
}

// SetupTest rebuilds every in-process collaborator against the shared
// database, wiping rows and cache entries left by the previous test.
func (s *IntegrationTestSuite) SetupTest() {
	s.db.ClearSchema()
	s.Require().NoError(storage.EnsureSchema(s.db, registry.New(s.db)))

	s.caches = cache.NewHierarchy(cache.DefaultSizes())

	blob, err := blobstore.NewDriver(blobstore.Configuration{Type: blobstore.TypeNone})
	s.Require().NoError(err)

	s.pods = podstore.New(s.db, s.caches.Pods)
	s.streams = streamstore.New(s.db, s.caches)
	s.records = recordstore.New(s.db, s.caches, s.streams, nil, blob, 1<<30, nil, recordstore.CacheLimits{})
	s.perm = permission.New(s.records, s.caches.Pods)
	s.records.SetPermissionEngine(s.perm)

	limiter := ratelimit.New(s.db, ratelimit.Limits{
		ratelimit.ActionRead:         100000,
		ratelimit.ActionWrite:        100000,
		ratelimit.ActionPodCreate:    100000,
		ratelimit.ActionStreamCreate: 100000,
	})

	if s.server != nil {
		s.server.Close()
	}
	s.server = httptest.NewServer(httpapi.New(httpapi.Config{
		ServerHost:       ServerHost,
		TestUtilsEnabled: true,
		DB:               s.db,
		Pods:             s.pods,
		Streams:          s.streams,
		Records:          s.records,
		Perm:             s.perm,
		Caches:           s.caches,
		Limiter:          limiter,
		Blob:             blob,
		Auth:             bridgeAuthenticator{backdoor: access.NewBackdoorAuthenticator(nil)},
	}))
}

func (s *IntegrationTestSuite) TearDownTest() {
	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
}

// request issues an HTTP call against host on the test server,
// authenticating as user when non-empty. The caller's token doubles as
// the user id, per access.BackdoorAuthenticator.
func (s *IntegrationTestSuite) request(method, host, path, user string, body []byte) *http.Response {
	url := s.server.URL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequest(method, url, strings.NewReader(string(body)))
	s.Require().NoError(err)
	req.Host = host
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	if method == http.MethodPost && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

// post, get, del address pod's subdomain. bareGet and barePost address
// the server's bare host, for the /health and /test-utils/* surface.
func (s *IntegrationTestSuite) post(pod, path, user string, body []byte) *http.Response {
	return s.request(http.MethodPost, pod+"."+ServerHost, path, user, body)
}

func (s *IntegrationTestSuite) get(pod, path, user string) *http.Response {
	return s.request(http.MethodGet, pod+"."+ServerHost, path, user, nil)
}

func (s *IntegrationTestSuite) del(pod, path, user string) *http.Response {
	return s.request(http.MethodDelete, pod+"."+ServerHost, path, user, nil)
}

func (s *IntegrationTestSuite) bareGet(path string) *http.Response {
	return s.request(http.MethodGet, ServerHost, path, "", nil)
}

func (s *IntegrationTestSuite) barePost(path string, body []byte) *http.Response {
	return s.request(http.MethodPost, ServerHost, path, "", body)
}
