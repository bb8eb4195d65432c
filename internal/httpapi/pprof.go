package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gorilla/mux"

	"replaycap/pkg/logx"
)

// Pprof mounts net/http/pprof under /debug/pprof/ on the API router.
type Pprof struct {
	Enabled bool
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token string
}

func (s *Server) mountPprof(r *mux.Router, addr string) {
	cfg := s.deps.Pprof
	if !cfg.Enabled {
		return
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("pprof not mounted: non-loopback addr requires http.pprof_token", logx.String("addr", addr))
		return
	}
	sub := r.PathPrefix("/debug/pprof").Subrouter()
	sub.Use(bearer(cfg.Token))
	sub.HandleFunc("/cmdline", hpprof.Cmdline)
	sub.HandleFunc("/profile", hpprof.Profile)
	sub.HandleFunc("/symbol", hpprof.Symbol)
	sub.HandleFunc("/trace", hpprof.Trace)
	sub.PathPrefix("/").HandlerFunc(hpprof.Index)
	s.log.Info("pprof mounted", logx.String("prefix", "/debug/pprof/"), logx.Bool("token_set", cfg.Token != ""))
}

func bearer(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
