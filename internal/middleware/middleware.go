package middleware

import (
	"net/http"
	"net/netip"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb     *database.Redis
	log     *logger.Logger
	cfg     *config.Config
	proxies []netip.Prefix
}

// New creates a new Middleware instance. Trusted proxy entries that fail to
// parse are dropped; Config.Validate rejects them at load.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	m := &Middleware{
		rdb: rdb,
		log: log.WithComponent("http"),
		cfg: cfg,
	}
	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		m.log.Error().Err(err).Msg("ignoring trusted proxies")
	}
	m.proxies = proxies
	return m
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
