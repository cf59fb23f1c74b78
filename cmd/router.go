package main

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/vhost-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/vhost-proxy/internal/metrics"
	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type routeView struct {
	Host     string   `json:"host"`
	Backends []string `json:"backends"`
	Policy   string   `json:"policy"`
}

type routesView struct {
	Routes   []routeView `json:"routes"`
	Fallback string      `json:"fallback"`
}

func setupRouter(metricsCollector *metrics.Collector, lb *loadbalancer.LoadBalancer, table *route.Table) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", metricsCollector.PrometheusHandler())
	mux.HandleFunc("GET /stats", metricsCollector.Handler(lb.Snapshot))
	mux.HandleFunc("GET /routes", routesHandler(table))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func routesHandler(table *route.Table) http.HandlerFunc {
	view := routesView{
		Routes:   make([]routeView, 0, table.Len()),
		Fallback: table.Fallback().String(),
	}
	for _, e := range table.Entries() {
		backends := make([]string, 0, len(e.Backends))
		for _, b := range e.Backends {
			backends = append(backends, b.String())
		}
		view.Routes = append(view.Routes, routeView{Host: e.Hostname, Backends: backends, Policy: e.Policy})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(view); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
