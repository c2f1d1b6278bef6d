package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// skipWithoutProvider skips the test when no container runtime is reachable,
// so integration suites degrade to a skip on machines without Docker.
func skipWithoutProvider(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func skipOnStartError(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", what, err)
	}
}
