package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/slotline/slotline/internal/gateway"
)

func setupServer(port int, handler *gateway.Handler) *http.Server {
	mux := http.NewServeMux()

	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: c.Handler(mux),
	}
}
