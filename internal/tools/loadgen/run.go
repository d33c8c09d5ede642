// Package loadgen drives synthetic browser traffic against a running
// gateway: anonymous view navigation, gated views that bounce to the login
// page, and full login/me/logout cycles. It is used by the sessioncheck
// tool to warm the metrics pipeline and on its own for smoke load.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Username    string
	Password    string
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
}

// anonymous navigation targets, a mix of public and role-gated views so the
// guard exercises every decision kind under load
var viewPaths = []string{
	"/",
	"/cases",
	"/designers",
	"/search",
	"/favorites",
	"/profile",
	"/designer-dashboard",
	"/admin",
	"/login",
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	switch p {
	case "views", "auth", "mixed":
		return p
	case "":
		return "mixed"
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run generates traffic until cfg.Duration elapses or ctx is cancelled.
// Network errors count as failures; any HTTP response counts as a success
// for delivery purposes and is tallied by status class.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("loadgen: base URL is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	profile := normalizeProfile(cfg.Profile)
	base := strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures int64
	classes := make(map[string]int64)
	var classMu sync.Mutex

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	work := make(chan int64)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		seed := cfg.Seed + int64(i)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			client := newBrowser()
			for range work {
				status, err := step(ctx, client, base, profile, rng, cfg)
				atomic.AddInt64(&total, 1)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				classMu.Lock()
				classes[classifyStatusClass(status)]++
				classMu.Unlock()
			}
		}()
	}

	var n int64
dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case <-ticker.C:
			select {
			case work <- n:
				n++
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(work)
	wg.Wait()

	return &Result{
		TotalRequests: atomic.LoadInt64(&total),
		Failures:      atomic.LoadInt64(&failures),
		StatusClasses: classes,
	}, nil
}

// newBrowser builds a client that behaves like the browser the gateway
// fronts: it keeps cookies and does not follow redirects, so guard
// decisions stay visible as 3xx responses.
func newBrowser() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 10 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func step(ctx context.Context, client *http.Client, base, profile string, rng *rand.Rand, cfg Config) (int, error) {
	doAuth := profile == "auth" || (profile == "mixed" && rng.Intn(4) == 0)
	if doAuth && cfg.Username != "" {
		return authCycle(ctx, client, base, cfg)
	}
	path := viewPaths[rng.Intn(len(viewPaths))]
	return get(ctx, client, base+path)
}

func authCycle(ctx context.Context, client *http.Client, base string, cfg Config) (int, error) {
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, cfg.Username, cfg.Password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/login", bytes.NewReader([]byte(body)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if status, err := get(ctx, client, base+"/api/auth/me"); err != nil || status != http.StatusOK {
		return status, err
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/logout", nil)
	if err != nil {
		return 0, err
	}
	resp, err = client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func get(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
