package database

import "testing"

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "ups", Password: "secret", DBName: "audit", SSLMode: "require"}
	want := "host=db port=5433 user=ups password=secret dbname=audit sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q; want %q", got, want)
	}
}
