package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Upstream "burro" para validar o gateway: conta quantas requisições chegam
// por segundo. Com THROTTLE_RPS=N no gateway, o log deve ficar perto de N.
func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	var hits atomic.Int64
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for range t.C {
			if n := hits.Swap(0); n > 0 {
				log.Info("requests recebidas", zap.Int64("rps", n))
			}
		}
	}()

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Info("servidor rodando", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}
