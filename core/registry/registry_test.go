package registry

import (
	"os"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/webpods-org/webpods/core/csql"

	_ "github.com/lib/pq"
)

// testService holds the configuration for this test binary.
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type testServiceConfig struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	registry         *Registry
}

var testService testServiceConfig

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_core_registry_unit_test_")
	defer db.Close()
	db.ClearSchema()

	testService.registry = New(db)

	code := m.Run()
	os.Exit(code)
}

func TestRegistry(t *testing.T) {
	type foo struct {
		A string
		B string
	}

	write := foo{A: "Hello", B: "World"}

	testRegistry := testService.registry.Accessor("_test_")

	var something interface{}
	timestamp, err := testRegistry.Read("key does not exist", &something)
	if err != nil {
		t.Fatal(err)
	}
	if !timestamp.IsZero() {
		t.Fatal("non existing key seems to exist")
	}

	now := time.Now()
	if err := testRegistry.Write("test", write); err != nil {
		t.Fatal(err)
	}
	var read foo
	timestamp, err = testRegistry.Read("test", &read)
	if err != nil {
		t.Fatal(err)
	}

	if read.A != write.A || read.B != write.B {
		t.Fatal("could not read what I wrote")
	}
	if timestamp.Sub(now) > time.Second {
		t.Fatal("created at is off")
	}

	if err := testRegistry.Delete("test"); err != nil {
		t.Fatal(err)
	}
	timestamp, err = testRegistry.Read("test", &something)
	if err != nil {
		t.Fatal(err)
	}
	if !timestamp.IsZero() {
		t.Fatal("deleted key still exists")
	}
}

func TestRegistryPrefixIsolation(t *testing.T) {
	a := testService.registry.Accessor("pool_a")
	b := testService.registry.Accessor("pool_b")

	if err := a.Write("shared_key", "from a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Write("shared_key", "from b"); err != nil {
		t.Fatal(err)
	}

	var va, vb string
	if _, err := a.Read("shared_key", &va); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read("shared_key", &vb); err != nil {
		t.Fatal(err)
	}
	if va != "from a" || vb != "from b" {
		t.Fatal("prefixes are not isolated")
	}
}
