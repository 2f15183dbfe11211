// Command webpodsd runs the WebPods HTTP server: it decodes its
// configuration from the environment the same way the teacher's service
// binaries do (joeshaw/envdecode), opens the Postgres connection,
// ensures the schema, wires every internal package together, and starts
// listening.
package main

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/registry"
	"github.com/webpods-org/webpods/internal/blobstore"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/httpapi"
	"github.com/webpods-org/webpods/internal/notify"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/podstore"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/recordstore"
	"github.com/webpods-org/webpods/internal/storage"
	"github.com/webpods-org/webpods/internal/streamstore"

	_ "github.com/lib/pq"
)

// Service holds the configuration for the WebPods server, decoded from
// the environment with the same envdecode.Decode convention the teacher
// uses for every service binary.
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"connection string for the Postgres DB"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" description:"password, if not embedded in POSTGRES"`
	Schema           string `env:"WEBPODS_SCHEMA,default=webpods" description:"Postgres schema the tables live in"`
	Port             int    `env:"PORT,default=3000" description:"port to listen on"`
	ServerHost       string `env:"WEBPODS_HOST,required" description:"bare host pods are subdomains of"`
	RootPod          string `env:"WEBPODS_ROOT_POD" description:"pod served on the bare host, if any"`
	TestUtilsEnabled bool   `env:"WEBPODS_TEST_UTILS,default=false" description:"enable /test-utils/* (never set in production)"`

	ExternalStorage     string `env:"WEBPODS_STORAGE_TYPE,default=none" description:"none|local|s3"`
	ExternalStorageRoot string `env:"WEBPODS_STORAGE_ROOT" description:"local driver: directory files are written under"`
	MinExternalSize     int64  `env:"WEBPODS_MIN_EXTERNAL_SIZE,default=262144" description:"content size at or above which records offload to the storage driver"`

	ExternalStorageURL string `env:"WEBPODS_STORAGE_URL" description:"local driver: base URL files are served back from"`

	KafkaBrokers string `env:"WEBPODS_KAFKA_BROKERS" description:"comma-separated Kafka brokers; empty disables the change outbox"`
	KafkaTopic   string `env:"WEBPODS_KAFKA_TOPIC,default=webpods.changes" description:"Kafka topic for the append outbox"`

	RateLimitRead         int `env:"WEBPODS_RATE_LIMIT_READ,default=600" description:"reads per window per identifier"`
	RateLimitWrite        int `env:"WEBPODS_RATE_LIMIT_WRITE,default=120" description:"writes per window per identifier"`
	RateLimitPodCreate    int `env:"WEBPODS_RATE_LIMIT_POD_CREATE,default=5" description:"pod creations per window per identifier"`
	RateLimitStreamCreate int `env:"WEBPODS_RATE_LIMIT_STREAM_CREATE,default=30" description:"stream creations per window per identifier"`

	CachePods          int `env:"WEBPODS_CACHE_PODS,default=1000" description:"pod cache pool capacity"`
	CacheStreams       int `env:"WEBPODS_CACHE_STREAMS,default=5000" description:"stream cache pool capacity"`
	CacheSingleRecords int `env:"WEBPODS_CACHE_SINGLE_RECORDS,default=10000" description:"single-record cache pool capacity"`
	CacheRecordLists   int `env:"WEBPODS_CACHE_RECORD_LISTS,default=500" description:"record-list cache pool capacity"`
}

func main() {
	svc := &Service{}
	if err := envdecode.Decode(svc); err != nil {
		log.Fatalf("webpodsd: decode configuration: %v", err)
	}

	db := csql.OpenWithSchema(svc.Postgres, svc.PostgresPassword, svc.Schema)
	defer db.Close()

	reg := registry.New(db)
	if err := storage.EnsureSchema(db, reg); err != nil {
		log.Fatalf("webpodsd: ensure schema: %v", err)
	}

	caches := cache.NewHierarchy(cache.Sizes{
		Pods:          svc.CachePods,
		Streams:       svc.CacheStreams,
		SingleRecords: svc.CacheSingleRecords,
		RecordLists:   svc.CacheRecordLists,
	})

	blobCfg := blobstore.Configuration{
		Type:            blobstore.Type(svc.ExternalStorage),
		MinExternalSize: svc.MinExternalSize,
	}
	if blobCfg.Type == blobstore.TypeLocal {
		blobCfg.Local = &blobstore.LocalConfiguration{
			BasePath: svc.ExternalStorageRoot,
			BaseURL:  svc.ExternalStorageURL,
		}
	}
	blob, err := blobstore.NewDriver(blobCfg)
	if err != nil {
		log.Fatalf("webpodsd: configure external storage: %v", err)
	}

	var notifier recordstore.Notifier
	if svc.KafkaBrokers != "" {
		pub := notify.New(strings.Split(svc.KafkaBrokers, ","), svc.KafkaTopic)
		defer pub.Close()
		notifier = pub
	}

	limiter := ratelimit.New(db, ratelimit.Limits{
		ratelimit.ActionRead:         svc.RateLimitRead,
		ratelimit.ActionWrite:        svc.RateLimitWrite,
		ratelimit.ActionPodCreate:    svc.RateLimitPodCreate,
		ratelimit.ActionStreamCreate: svc.RateLimitStreamCreate,
	})

	pods := podstore.New(db, caches.Pods)
	streams := streamstore.New(db, caches)

	records := recordstore.New(db, caches, streams, nil, blob, svc.MinExternalSize, notifier, recordstore.CacheLimits{})
	perm := permission.New(records, caches.Pods)
	records.SetPermissionEngine(perm)

	server := httpapi.New(httpapi.Config{
		ServerHost:       svc.ServerHost,
		RootPod:          svc.RootPod,
		TestUtilsEnabled: svc.TestUtilsEnabled,
		DB:               db,
		Pods:             pods,
		Streams:          streams,
		Records:          records,
		Perm:             perm,
		Caches:           caches,
		Limiter:          limiter,
		Blob:             blob,
		Auth:             noopAuthenticator{},
	})

	addr := ":" + strconv.Itoa(svc.Port)
	logger.Default().Infoln("webpodsd listening on", addr)
	log.Fatal(http.ListenAndServe(addr, server))
}

// noopAuthenticator is a stand-in for the OAuth/session layer spec §1
// explicitly excludes from this system's scope ("OAuth provider
// integration and session management are out of scope"). It treats
// every request as anonymous; a real deployment supplies its own
// httpapi.Authenticator that verifies a bearer token and returns the
// caller's user id.
type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(r *http.Request) (string, error) {
	return "", nil
}
