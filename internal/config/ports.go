package config

// ============================================================================
// DEFAULT PORTS
// ============================================================================

const (
	// MetricsPort serves /metrics, /health and /progress of the optimizer parent
	MetricsPort = 9100

	// PostgresPort is the default port for PostgreSQL
	PostgresPort = 5432

	// RedisPort is the default port for Redis
	RedisPort = 6379
)

// WorkerMetricsPort returns the metrics port of worker index i, next to the parent
// port. Zero disables the worker endpoint.
func WorkerMetricsPort(parentPort, i int) int {
	if parentPort <= 0 {
		return 0
	}
	return parentPort + 1 + i
}
