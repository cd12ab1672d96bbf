package eventstream

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/netsec-simulator/internal/logging"
)

// RequestIDHeader carries a client-chosen connection ID. It is echoed on the
// upgrade response and in the hello message.
const RequestIDHeader = "X-Request-ID"

// requestLogger assigns the connection its request ID, generating one when
// the client sent none, and returns a context carrying a logger annotated
// with it.
func requestLogger(base logging.Logger, r *http.Request) (context.Context, logging.Logger, string) {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	log := base.With(
		logging.String("request_id", id),
		logging.String("remote", r.RemoteAddr),
	)
	return logging.ContextWithLogger(r.Context(), log), log, id
}
