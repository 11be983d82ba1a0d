// Command benchmark builds the server, points it at a local mock upstream
// and measures proxy latency and resource use under vegeta load.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/uniapi/internal/cli"
	"github.com/tidwall/gjson"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort  = 9091
	appPort   = 8081
	debugAddr = "127.0.0.1:6060"
	callerKey = "bench-key-12345"
	mockKey   = "mock-key"
	model     = "gpt-3.5-turbo"
)

var streamWords = []string{"Bench", "mark", " safe", " response"}

type options struct {
	duration time.Duration
	rate     int
	stream   bool
	chaos    bool
}

func main() {
	var opts options
	flag.DurationVar(&opts.duration, "duration", 10*time.Second, "Duration of the test")
	flag.IntVar(&opts.rate, "rate", 50, "Requests per second")
	flag.BoolVar(&opts.stream, "stream", false, "Use streaming requests")
	flag.BoolVar(&opts.chaos, "chaos", false, "Simulate random client disconnections")
	flag.Parse()

	go serveMockUpstream(fmt.Sprintf(":%d", mockPort))

	h, err := startHarness()
	if err != nil {
		log.Fatal(err)
	}
	defer h.stop()

	if err := waitHealthy(fmt.Sprintf("http://localhost:%d/health", appPort), 10*time.Second); err != nil {
		h.stop()
		log.Fatal(err)
	}

	done := make(chan struct{})
	go monitor(h.pid(), done)

	endpoint := fmt.Sprintf("http://localhost:%d/v1/chat/completions", appPort)
	if opts.chaos {
		go chaosMonkey(endpoint, clamp(opts.rate/10, 5, 50), done)
	}

	metrics := attack(endpoint, opts)
	close(done)

	report(metrics, opts)
}

// harness owns the server process and its temporary files.
type harness struct {
	cmd        *exec.Cmd
	logFile    *os.File
	configPath string
}

func startHarness() (*harness, error) {
	fmt.Println(cli.Arrow(), "Building server")
	build := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	build.Stdout, build.Stderr = os.Stdout, os.Stderr
	if err := build.Run(); err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	h := &harness{configPath: "bench_config.yaml"}
	if err := os.WriteFile(h.configPath, []byte(benchConfig()), 0o644); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}

	logFile, err := os.Create("bench_server.log")
	if err != nil {
		return nil, err
	}
	h.logFile = logFile

	h.cmd = exec.Command("./bin/server")
	h.cmd.Env = append(os.Environ(),
		"CONFIG_FILE="+h.configPath,
		"SERVER_PORT="+strconv.Itoa(appPort),
		"SERVER_DEBUG_ADDR="+debugAddr,
		"LOG_LEVEL=error",
		"NO_COLOR=1",
	)
	h.cmd.Stdout, h.cmd.Stderr = logFile, logFile

	fmt.Println(cli.Arrow(), "Starting server on port", appPort)
	if err := h.cmd.Start(); err != nil {
		h.stop()
		return nil, fmt.Errorf("start server: %w", err)
	}
	return h, nil
}

func (h *harness) pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *harness) stop() {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_ = h.cmd.Wait()
	}
	if h.logFile != nil {
		_ = h.logFile.Close()
	}
	_ = os.Remove(h.configPath)
}

func waitHealthy(url string, within time.Duration) error {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("server not healthy after %s, see bench_server.log", within)
}

func requestBody(stream bool, content string) []byte {
	return []byte(fmt.Sprintf(`{"model":%q,"stream":%t,"messages":[{"role":"user","content":%q}]}`, model, stream, content))
}

func attack(endpoint string, opts options) vegeta.Metrics {
	mode := "unary"
	if opts.stream {
		mode = "streaming"
	}
	fmt.Printf("%s Attacking with %d req/s for %s (%s)\n", cli.Arrow(), opts.rate, opts.duration, mode)

	body := requestBody(opts.stream, "Hello")
	// the mock upstream reads X-Benchmark-Start to report proxy overhead
	targeter := func(t *vegeta.Target) error {
		t.Method = http.MethodPost
		t.URL = endpoint
		t.Body = body
		t.Header = http.Header{
			"Content-Type":      {"application/json"},
			"Authorization":     {"Bearer " + callerKey},
			"X-Benchmark-Start": {strconv.FormatInt(time.Now().UnixNano(), 10)},
		}
		return nil
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: opts.rate, Per: time.Second}, opts.duration, "uniapi") {
		metrics.Add(res)
	}
	metrics.Close()
	return metrics
}

func report(m vegeta.Metrics, opts options) {
	fmt.Println()
	if err := vegeta.NewTextReporter(&m).Report(os.Stdout); err != nil {
		log.Printf("report: %v", err)
	}

	mark := cli.CheckMark()
	if m.Success < 1 && !opts.chaos {
		mark = cli.CrossMark()
	}
	fmt.Printf("\n%s success %.2f%%, p99 %s, throughput %.2f req/s\n", mark, m.Success*100, m.Latencies.P99, m.Throughput)

	seen := make(map[string]bool)
	for _, e := range m.Errors {
		if len(seen) == 5 {
			break
		}
		if !seen[e] {
			seen[e] = true
			fmt.Println("  ", cli.WarningSign(), e)
		}
	}
}

// chaosMonkey fires streaming requests and abandons each one after a random
// delay to exercise the client-gone path.
func chaosMonkey(endpoint string, workers int, done <-chan struct{}) {
	fmt.Printf("%s Chaos mode: %d workers disconnecting after 1-200ms\n", cli.WarningSign(), workers)

	client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 100}}
	body := requestBody(true, "Chaos request")

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(rand.IntN(200)+1)*time.Millisecond)
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+callerKey)
				if resp, err := client.Do(req); err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
				}
				cancel()

				time.Sleep(time.Duration(rand.IntN(50)) * time.Millisecond)
			}
		}()
	}
	wg.Wait()
}

// serveMockUpstream answers like an OpenAI-compatible API and rejects any
// key other than the one the proxy should substitute.
func serveMockUpstream(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+mockKey {
			http.Error(w, `{"error":{"message":"bad key","type":"authentication_error"}}`, http.StatusUnauthorized)
			return
		}

		if start, err := strconv.ParseInt(r.Header.Get("X-Benchmark-Start"), 10, 64); err == nil && rand.IntN(100) == 0 {
			fmt.Printf("   proxy overhead %s\n", time.Duration(time.Now().UnixNano()-start))
		}

		raw, _ := io.ReadAll(r.Body)
		if !gjson.GetBytes(raw, "stream").Bool() {
			time.Sleep(10 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"id":"bench-1","object":"chat.completion","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"}}]}`,
				gjson.GetBytes(raw, "model").String())
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, word := range streamWords {
			time.Sleep(50 * time.Millisecond)
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
			if flusher != nil {
				flusher.Flush()
			}
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("mock upstream: %v", err)
	}
}

// monitor samples heap usage from the server's expvar endpoint and CPU from
// ps once a second.
func monitor(pid int, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Printf("\n%-10s %-10s %-10s %-10s\n", "time", "heap MB", "alloc MB", "cpu %")
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			resp, err := http.Get("http://" + debugAddr + "/debug/vars")
			if err != nil {
				continue
			}
			vars, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				continue
			}

			fmt.Printf("%-10s %-10.2f %-10.2f %-10.2f\n",
				now.Format("15:04:05"),
				gjson.GetBytes(vars, "memstats.HeapInuse").Float()/1024/1024,
				gjson.GetBytes(vars, "memstats.Alloc").Float()/1024/1024,
				cpuPercent(pid),
			)
		}
	}
}

func cpuPercent(pid int) float64 {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "%cpu=").Output()
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	return v
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func benchConfig() string {
	return fmt.Sprintf(`
server:
  port: "%d"
  env: development
  check_updates: false
auth:
  caller_keys: [%q]
store:
  driver: memory
rate_limit:
  requests_per_second: 100000
  burst: 100000
log:
  level: error
providers:
  - id: bench-mock
    api_key: %q
    base_url: "http://localhost:%d"
    supported_models: [%q]
`, appPort, callerKey, mockKey, mockPort, model)
}
