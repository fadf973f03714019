package server

import (
	"BucketClear/internal/core"
	"BucketClear/internal/observability"
	"BucketClear/internal/venue"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// NewGateway builds the read-only HTTP/JSON surface for tooling, dashboards, curl:
//
//	GET /v1/orderbooks
//	GET /v1/orderbooks/{orderbook_id}
//	GET /v1/orderbooks/{orderbook_id}/snapshot
//	GET /v1/orderbooks/{orderbook_id}/positions?user_id=
//	GET /v1/users/{user_id}/positions
//	GET /v1/accounts/{account_id}/balance
//	GET /healthz, /readyz
func NewGateway(v *venue.Venue, hc *observability.HealthChecker, logger zerolog.Logger) http.Handler {
	mux := runtime.NewServeMux()
	g := &gateway{venue: v, logger: logger}

	routes := []struct {
		pattern string
		handler runtime.HandlerFunc
	}{
		{"/v1/orderbooks", g.listOrderbooks},
		{"/v1/orderbooks/{orderbook_id}", g.describeOrderbook},
		{"/v1/orderbooks/{orderbook_id}/snapshot", g.snapshot},
		{"/v1/orderbooks/{orderbook_id}/positions", g.orderbookPositions},
		{"/v1/users/{user_id}/positions", g.userPositions},
		{"/v1/accounts/{account_id}/balance", g.balance},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.pattern, r.handler); err != nil {
			panic(fmt.Sprintf("FATAL: register route %s: %v", r.pattern, err))
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux
}

type gateway struct {
	venue  *venue.Venue
	logger zerolog.Logger
}

func (g *gateway) listOrderbooks(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, OrderbooksResponse{Orderbooks: g.venue.Orderbooks()})
}

func (g *gateway) describeOrderbook(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	info, err := g.venue.Describe(params["orderbook_id"])
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (g *gateway) snapshot(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id := params["orderbook_id"]
	orders, err := g.venue.Snapshot(id)
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{OrderbookID: id, Orders: orders})
}

func (g *gateway) orderbookPositions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ps, err := g.venue.Positions(params["orderbook_id"], r.URL.Query().Get("user_id"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Positions: ps})
}

func (g *gateway) userPositions(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	writeJSON(w, http.StatusOK, PositionsResponse{Positions: g.venue.PositionsByUser(params["user_id"])})
}

func (g *gateway) balance(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: g.venue.Balance(params["account_id"])})
}

func (g *gateway) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, core.ErrUnknownOrderbook) {
		code = http.StatusNotFound
	} else {
		g.logger.Error().Err(err).Msg("gateway request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
