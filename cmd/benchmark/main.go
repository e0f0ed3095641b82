// Command benchmark replays every IPN several times at once against a running
// bridge, the way the provider retries under load, then checks that each
// transaction landed exactly once.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paybridge/internal/catalog"
	"github.com/punchamoorthee/paybridge/internal/store"
)

var (
	targetURL   string
	stubAddr    string
	dbURL       string
	receiver    string
	currency    string
	accounts    int
	txns        int
	replays     int
	concurrency int
)

var (
	totalRequests uint64
	ok200         uint64
	rejected4xx   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "Bridge base URL")
	flag.StringVar(&stubAddr, "stub", "", "Serve a validation stub that always answers VERIFIED on this address (point paypal.ipn_url at it)")
	flag.StringVar(&dbURL, "db", os.Getenv("DB_SOURCE"), "Postgres URL for the post-run duplicate check (optional)")
	flag.StringVar(&receiver, "receiver", "merchant@example.com", "receiver_email the bridge accepts")
	flag.StringVar(&currency, "currency", "EUR", "mc_currency to send")
	flag.IntVar(&accounts, "accounts", 1000, "Seeded accounts (player1..playerN)")
	flag.IntVar(&txns, "txns", 500, "Distinct transactions")
	flag.IntVar(&replays, "replays", 5, "Deliveries per transaction")
	flag.IntVar(&concurrency, "workers", 20, "Concurrent workers")
}

func main() {
	flag.Parse()

	if stubAddr != "" {
		go serveStub(stubAddr)
		time.Sleep(200 * time.Millisecond)
	}

	prices := catalog.Default().Entries()
	ids := make([]string, txns)
	jobs := make(chan string, txns*replays)
	for i := range ids {
		ids[i] = "BENCH-" + strings.ToUpper(uuid.NewString()[:12])
	}
	bodies := make(map[string]string, txns)
	for _, id := range ids {
		e := prices[rand.Intn(len(prices))]
		form := url.Values{
			"txn_id":         {id},
			"payment_status": {"Completed"},
			"payer_status":   {"verified"},
			"payer_email":    {"buyer@example.com"},
			"receiver_email": {receiver},
			"custom":         {fmt.Sprintf("player%d", rand.Intn(accounts)+1)},
			"mc_gross":       {e.Amount.StringFixed(2)},
			"mc_currency":    {currency},
		}
		bodies[id] = form.Encode()
		for r := 0; r < replays; r++ {
			jobs <- id
		}
	}
	close(jobs)

	slog.Info("starting benchmark", "txns", txns, "replays", replays, "workers", concurrency)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(jobs, bodies)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	results := map[string]any{
		"duration_sec":   elapsed.Seconds(),
		"total_requests": atomic.LoadUint64(&totalRequests),
		"throughput_rps": float64(atomic.LoadUint64(&totalRequests)) / elapsed.Seconds(),
		"ok":             atomic.LoadUint64(&ok200),
		"rejected":       atomic.LoadUint64(&rejected4xx),
		"errors":         atomic.LoadUint64(&failOther),
	}
	if dbURL != "" {
		missing, dup, err := checkRecords(ids)
		if err != nil {
			slog.Error("record check failed", "error", err)
		} else {
			credited := txns - missing
			results["credited"] = credited
			results["replays_acknowledged"] = int(atomic.LoadUint64(&ok200)) - credited
			results["missing_records"] = missing
			results["duplicate_records"] = dup
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}

func worker(jobs <-chan string, bodies map[string]string) {
	client := &http.Client{Timeout: 30 * time.Second}
	for id := range jobs {
		resp, err := client.Post(targetURL+"/ipn", "application/x-www-form-urlencoded", strings.NewReader(bodies[id]))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&ok200, 1)
		case resp.StatusCode < 500:
			atomic.AddUint64(&rejected4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func serveStub(addr string) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, "VERIFIED")
	})
	if err := http.ListenAndServe(addr, h); err != nil {
		slog.Error("stub listener", "error", err)
		os.Exit(1)
	}
}

func checkRecords(ids []string) (missing, dup int, err error) {
	ctx := context.Background()
	db, err := store.NewStore(ctx, dbURL)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	for _, id := range ids {
		n, err := db.CountPayments(ctx, id)
		if err != nil {
			return 0, 0, err
		}
		switch {
		case n == 0:
			missing++
		case n > 1:
			dup++
		}
	}
	return missing, dup, nil
}
