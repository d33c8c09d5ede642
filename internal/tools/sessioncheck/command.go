// Package sessioncheck is a black-box diagnostic for a running gateway. It
// walks the whole session lifecycle the way a browser would: a gated view
// bouncing to the login page, login, refresh, a role-denied view bouncing
// home, logout, and the gate closing again.
package sessioncheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/homedesign/portal-gateway/internal/tools/common"
	"github.com/homedesign/portal-gateway/internal/tools/loadgen"
	"github.com/homedesign/portal-gateway/internal/tools/ui"
)

type options struct {
	baseURL   string
	username  string
	password  string
	gatedPath string
	adminPath string
	loginPath string
	ci        bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "sessioncheck", Short: "Verify the session lifecycle of a running gateway"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8081", "gateway base URL")
	cmd.PersistentFlags().StringVar(&opts.username, "username", "", "account to log in with")
	cmd.PersistentFlags().StringVar(&opts.password, "password", "", "password for --username")
	cmd.PersistentFlags().StringVar(&opts.gatedPath, "gated-path", "/profile", "view that requires any authenticated role")
	cmd.PersistentFlags().StringVar(&opts.adminPath, "admin-path", "/admin", "view the test account must NOT reach")
	cmd.PersistentFlags().StringVar(&opts.loginPath, "login-path", "/login", "login view path")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTrafficCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Walk login, refresh, role denial and logout end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.username == "" || opts.password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			details, err := run(opts, "sessioncheck run", func(ctx context.Context) ([]string, error) {
				return checkLifecycle(ctx, *opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "sessioncheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func newTrafficCommand(opts *options) *cobra.Command {
	var (
		profile     string
		duration    time.Duration
		rps         int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Generate synthetic browser traffic against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "sessioncheck traffic", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     profile,
					Duration:    duration,
					RPS:         rps,
					Concurrency: concurrency,
					Seed:        42,
					Username:    opts.username,
					Password:    opts.password,
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures)}
				for class, count := range res.StatusClasses {
					details = append(details, fmt.Sprintf("status %s=%d", class, count))
				}
				if res.TotalRequests > 0 && res.Failures == res.TotalRequests {
					return details, fmt.Errorf("gateway unreachable at %s", opts.baseURL)
				}
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "sessioncheck traffic", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "mixed", "traffic profile: views, auth or mixed")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&rps, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&concurrency, "concurrency", 6, "concurrent simulated browsers")
	return cmd
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func checkLifecycle(ctx context.Context, opts options) ([]string, error) {
	client, err := newBrowser()
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(opts.baseURL, "/")
	var details []string

	// anonymous access to a gated view must bounce to login with next
	status, location, err := get(ctx, client, base+opts.gatedPath)
	if err != nil {
		return details, err
	}
	if status != http.StatusFound {
		return details, fmt.Errorf("anonymous %s answered %d, want 302", opts.gatedPath, status)
	}
	if !strings.HasPrefix(location, opts.loginPath) {
		return details, fmt.Errorf("anonymous %s redirected to %q, want %s", opts.gatedPath, location, opts.loginPath)
	}
	if u, perr := url.Parse(location); perr != nil || u.Query().Get("next") != opts.gatedPath {
		return details, fmt.Errorf("login redirect %q does not carry next=%s", location, opts.gatedPath)
	}
	details = append(details, "anonymous gate: redirect to login with next, ok")

	// login establishes the session
	user, err := login(ctx, client, base, opts.username, opts.password)
	if err != nil {
		return details, err
	}
	details = append(details, fmt.Sprintf("login: user=%s role=%s", user.Username, user.Role))

	// the gated view opens
	status, _, err = get(ctx, client, base+opts.gatedPath)
	if err != nil {
		return details, err
	}
	if status != http.StatusOK {
		return details, fmt.Errorf("authenticated %s answered %d, want 200", opts.gatedPath, status)
	}
	details = append(details, "authenticated gate: open, ok")

	// a view above the account's role bounces home, not to login
	if user.Role != "ADMIN" {
		status, location, err = get(ctx, client, base+opts.adminPath)
		if err != nil {
			return details, err
		}
		if status != http.StatusFound || strings.HasPrefix(location, opts.loginPath) {
			return details, fmt.Errorf("%s answered %d -> %q, want 302 home", opts.adminPath, status, location)
		}
		details = append(details, "role denial: redirect home, ok")
	}

	// refresh keeps the session alive
	status, _, err = get(ctx, client, base+"/api/auth/me")
	if err != nil {
		return details, err
	}
	if status != http.StatusOK {
		return details, fmt.Errorf("/api/auth/me answered %d, want 200", status)
	}
	details = append(details, "refresh: ok")

	// logout closes the gate again
	if err := post(ctx, client, base+"/api/auth/logout"); err != nil {
		return details, err
	}
	status, location, err = get(ctx, client, base+opts.gatedPath)
	if err != nil {
		return details, err
	}
	if status != http.StatusFound || !strings.HasPrefix(location, opts.loginPath) {
		return details, fmt.Errorf("post-logout %s answered %d -> %q, want redirect to login", opts.gatedPath, status, location)
	}
	details = append(details, "logout: gate closed, ok")
	return details, nil
}

type checkedUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func login(ctx context.Context, client *http.Client, base, username, password string) (*checkedUser, error) {
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/login", bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var payload struct {
		Data struct {
			User checkedUser `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if payload.Data.User.Username == "" {
		return nil, fmt.Errorf("login response carries no user")
	}
	return &payload.Data.User, nil
}

func newBrowser() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: 20 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func get(ctx context.Context, client *http.Client, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func post(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s answered %d", url, resp.StatusCode)
	}
	return nil
}
