package metrics

// Backend status labels, in the order the backend moves through them.
var backendStatuses = []string{
	"unopened", "opening_original", "opened_original",
	"opening_after_error", "opened_after_error", "closed",
}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, result := range []string{"success", "retry", "failure"} {
		BackendOpensTotal.WithLabelValues(result)
	}
	SetBackendStatus("unopened")

	for _, op := range []string{"exec", "query", "query_row", "begin_transaction", "commit", "rollback"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}

	for _, kind := range []string{"connection", "user"} {
		EscalationsTotal.WithLabelValues(kind)
	}
	for _, verdict := range []string{"continue", "abort"} {
		ConsultationsTotal.WithLabelValues(verdict)
	}
	for _, result := range []string{"ready", "fast_path", "failed"} {
		ReadinessChecksTotal.WithLabelValues(result)
	}
	for _, result := range []string{"success", "error", "abort"} {
		SchemaUpdatesTotal.WithLabelValues(result)
	}
	for _, dir := range []string{"sent", "received", "ignored"} {
		WatchMessagesTotal.WithLabelValues(dir)
	}
}

// SetBackendStatus marks status as the active backend status.
func SetBackendStatus(status string) {
	for _, s := range backendStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		BackendStatus.WithLabelValues(s).Set(value)
	}
}
