package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert raises an operator-facing alert. Alerts go to the error log until a
// pager integration exists.
func Alert(message string, labels map[string]string) {
	fields := make(map[string]interface{}, len(labels))
	for k, v := range labels {
		fields[k] = v
	}
	log.Error().
		Str("alert", message).
		Fields(fields).
		Msg("ALERT: tenant configuration issue detected")
}
