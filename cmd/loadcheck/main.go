// Command loadcheck opens a batch of concurrent WebSocket client
// connections against a running roomserver, joins them all into games, and
// reports join latency and a sample of failures; broadcast latency is not
// measured. It exercises the wire protocol the
// same way a real client would, without any of the state-machine internals.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type joinRequest struct {
	Type string `json:"type"`
	Game string `json:"game"`
	Nick string `json:"nick"`
}

type joinResultResponse struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	MyID   int    `json:"my_id"`
}

type result struct {
	joinLatency time.Duration
	err         error
}

func main() {
	addr := flag.String("addr", "localhost:8080", "roomserver WebSocket address")
	clients := flag.Int("clients", 50, "number of concurrent clients to open")
	games := flag.Int("games", 5, "number of distinct games to spread clients across")
	holdOpen := flag.Duration("hold", 3*time.Second, "how long each client stays connected after joining")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("loadcheck: connecting %d clients to %s across %d games", *clients, u.String(), *games)

	var (
		wg      sync.WaitGroup
		results = make([]result, *clients)
		ok      atomic.Int64
	)

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			gameName := fmt.Sprintf("loadcheck-%d", idx%*games)
			r := runClient(u.String(), gameName, fmt.Sprintf("bot-%d", idx), *holdOpen)
			results[idx] = r
			if r.err == nil {
				ok.Add(1)
			}
		}(i)
	}

	wg.Wait()
	report(results, ok.Load(), int64(*clients))
}

func runClient(addr, gameName, nick string, hold time.Duration) result {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return result{err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.Close()

	req, err := json.Marshal(joinRequest{Type: "join", Game: gameName, Nick: nick})
	if err != nil {
		return result{err: fmt.Errorf("marshal join: %w", err)}
	}

	start := time.Now()
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return result{err: fmt.Errorf("write join: %w", err)}
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return result{err: fmt.Errorf("read join-result: %w", err)}
	}
	elapsed := time.Since(start)

	var resp joinResultResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return result{err: fmt.Errorf("parse join-result: %w", err)}
	}
	if resp.Result != "joined" {
		return result{err: fmt.Errorf("join rejected: %s", resp.Result)}
	}

	drainFor(conn, hold)
	return result{joinLatency: elapsed}
}

// drainFor discards broadcast frames until d elapses so the connection
// exercises the same read loop a real client would run, then closes.
func drainFor(conn *websocket.Conn, d time.Duration) {
	deadline := time.Now().Add(d)
	conn.SetReadDeadline(deadline)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

func report(results []result, ok, total int64) {
	var (
		sum   time.Duration
		max   time.Duration
		count int
	)
	for _, r := range results {
		if r.err != nil {
			continue
		}
		sum += r.joinLatency
		if r.joinLatency > max {
			max = r.joinLatency
		}
		count++
	}

	fmt.Printf("clients: %d  ok: %d  failed: %d\n", total, ok, total-ok)
	if count > 0 {
		fmt.Printf("join latency: avg=%s max=%s\n", sum/time.Duration(count), max)
	}

	failed := total - ok
	if failed > 0 {
		fmt.Printf("sample failures:\n")
		shown := 0
		perm := rand.Perm(len(results))
		for _, i := range perm {
			if results[i].err == nil {
				continue
			}
			fmt.Printf("  - %v\n", results[i].err)
			shown++
			if shown >= 5 {
				break
			}
		}
		os.Exit(1)
	}
}
