package config

import (
	"os"
	"sync"
)

var (
	inContainerOnce sync.Once
	inContainer     bool
)

// IsRunningInDocker reports whether the process runs inside a Docker
// container, detected via the /.dockerenv marker file. The result is
// cached after the first call.
func IsRunningInDocker() bool {
	inContainerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inContainer = err == nil
	})
	return inContainer
}

// ResolveHostForDocker rewrites loopback hosts to host.docker.internal when
// running containerized, so a Postgres, Redis, or Qdrant listening on the
// developer's machine stays reachable from inside the container. All other
// hosts pass through untouched.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
