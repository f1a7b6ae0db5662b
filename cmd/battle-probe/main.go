package main

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hanwool-dev/wakebattle/pkg/battledto"
)

// Probes a running engine: checks /healthz and optionally fetches one
// battle. Exits non-zero when the engine is unreachable or degraded.
func main() {
	baseURL := strings.TrimRight(os.Getenv("BATTLE_BASE_URL"), "/")
	battleID := os.Getenv("BATTLE_ID")

	if baseURL == "" {
		log.Fatal("BATTLE_BASE_URL is required")
	}

	client := &fasthttp.Client{ReadTimeout: 8 * time.Second, WriteTimeout: 8 * time.Second}

	body, status, err := get(client, baseURL+"/healthz")
	if err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	var health battledto.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		log.Fatalf("/healthz decode error: %v", err)
	}
	log.Printf("/healthz: status=%s uptime=%ds primary_failures=%d degraded=%v",
		health.Status, health.UptimeSec, health.PrimaryFailures, health.Degraded)
	if status != fasthttp.StatusOK || health.Degraded {
		os.Exit(1)
	}

	if battleID == "" {
		return
	}
	body, status, err = get(client, baseURL+"/v1/battles/"+battleID)
	if err != nil {
		log.Fatalf("battle fetch error: %v", err)
	}
	if status != fasthttp.StatusOK {
		log.Fatalf("battle fetch: status=%d body=%s", status, body)
	}
	log.Printf("battle %s: %s", battleID, body)
}

func get(client *fasthttp.Client, url string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	if err := client.DoDeadline(req, resp, time.Now().Add(5*time.Second)); err != nil {
		return nil, 0, err
	}
	body := append([]byte(nil), resp.Body()...)
	return body, resp.StatusCode(), nil
}
