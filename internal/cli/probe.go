/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/acronis/go-callthrottle/httpclient"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/retry"
	"github.com/acronis/go-callthrottle/throttle"
)

// probeOpts holds flag values of the 'probe' command.
type probeOpts struct {
	configPath string
	class      string
	url        string
	method     string
	count      int
	priority   int
	distinct   bool
	direct     bool
	retries    int
}

// probeSummary aggregates results of all probe requests.
type probeSummary struct {
	sent      atomic.Int64
	succeeded atomic.Int64
	errored   atomic.Int64

	mu       sync.Mutex
	statuses map[int]int
	errs     map[string]int
}

func newProbeSummary() *probeSummary {
	return &probeSummary{statuses: make(map[int]int), errs: make(map[string]int)}
}

func (s *probeSummary) addResponse(code int) {
	if code >= 200 && code < 300 {
		s.succeeded.Inc()
	}
	s.mu.Lock()
	s.statuses[code]++
	s.mu.Unlock()
}

func (s *probeSummary) addError(err error) {
	s.errored.Inc()
	s.mu.Lock()
	s.errs[err.Error()]++
	s.mu.Unlock()
}

// newProbeCmd creates the 'probe' command.
func newProbeCmd() *cobra.Command {
	var opts probeOpts

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send test requests through a throttle class",
		Long: `Send a number of concurrent HTTP requests through the throttle instance of a class
and print a summary with per-status counts and the final stats of the instance.

Identical requests share one upstream call while it is in flight; use --distinct to make
every request unique. With --direct the throttle is bypassed and every request retries
soft failures on its own, which is useful to compare the upstream behavior.

Example:
  callthrottle probe --class ethereum_rpc --url https://rpc.example.com/health --count 20 --distinct`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&opts.class, "class", "external_api", "throttle class")
	cmd.Flags().StringVar(&opts.url, "url", "", "request URL")
	cmd.Flags().StringVar(&opts.method, "method", http.MethodGet, "request method")
	cmd.Flags().IntVar(&opts.count, "count", 10, "number of requests")
	cmd.Flags().IntVar(&opts.priority, "priority", 0, "priority of requests in the throttle queue")
	cmd.Flags().BoolVar(&opts.distinct, "distinct", false, "add a sequence query parameter so requests are not coalesced")
	cmd.Flags().BoolVar(&opts.direct, "direct", false, "bypass the throttle and retry soft failures per request")
	cmd.Flags().IntVar(&opts.retries, "retries", 3, "max retries per request in --direct mode (0 means unlimited)")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runProbe(ctx context.Context, out io.Writer, opts probeOpts) error {
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if _, err := url.ParseRequestURI(opts.url); err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}

	cfg, err := LoadAppConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	var (
		send     func(ctx context.Context, req *http.Request) (*http.Response, error)
		instance *throttle.Instance
	)
	if opts.direct {
		client, cErr := httpclient.NewWithOpts(cfg.HTTPClient, httpclient.Opts{RequestType: "probe", Logger: logger})
		if cErr != nil {
			return cErr
		}
		send = directSender(client, opts.retries, logger)
	} else {
		registry, rErr := throttle.NewRegistry(cfg.Throttle.Classes, throttle.RegistryOpts{Logger: logger})
		if rErr != nil {
			return fmt.Errorf("create throttle registry: %w", rErr)
		}
		var ok bool
		if instance, ok = registry.Get(opts.class); !ok {
			return fmt.Errorf("unknown throttle class %q, available: %v", opts.class, registry.Names())
		}
		client, cErr := httpclient.NewWithOpts(cfg.HTTPClient, httpclient.Opts{
			Executor: instance, RequestType: opts.class, Logger: logger,
		})
		if cErr != nil {
			return cErr
		}
		send = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return client.Do(req.WithContext(httpclient.NewContextWithPriority(ctx, opts.priority)))
		}
	}

	summary := newProbeSummary()
	startedAt := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < opts.count; i++ {
		req, reqErr := newProbeRequest(ctx, opts, i)
		if reqErr != nil {
			return reqErr
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary.sent.Inc()
			resp, sendErr := send(ctx, req)
			if sendErr != nil {
				summary.addError(sendErr)
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			summary.addResponse(resp.StatusCode)
		}()
	}
	wg.Wait()

	return printProbeSummary(out, opts, summary, time.Since(startedAt), instance)
}

func newProbeRequest(ctx context.Context, opts probeOpts, seq int) (*http.Request, error) {
	reqURL := opts.url
	if opts.distinct {
		u, err := url.Parse(opts.url)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("probe_seq", strconv.Itoa(seq))
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}
	return http.NewRequestWithContext(ctx, opts.method, reqURL, http.NoBody)
}

// directSender returns a function that sends requests without throttling.
// Throttling statuses are turned into errors and retried with exponential backoff.
func directSender(
	client *http.Client, maxRetries int, logger log.FieldLogger,
) func(ctx context.Context, req *http.Request) (*http.Response, error) {
	policy := retry.NewExponentialBackoffPolicy(throttle.DefaultInitialBackoff, maxRetries)
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		var resp *http.Response
		notify := backoff.Notify(func(err error, d time.Duration) {
			logger.Warn("probe request will be retried", log.Error(err), log.Duration("delay", d))
		})
		err := retry.DoWithRetry(ctx, policy, throttle.IsSoftFailure, notify, func(ctx context.Context) error {
			r, err := client.Do(req.Clone(ctx))
			if err != nil {
				return err
			}
			if httpclient.IsThrottlingStatus(r.StatusCode) {
				_, _ = io.Copy(io.Discard, r.Body)
				_ = r.Body.Close()
				return httpclient.NewStatusError(r)
			}
			resp = r
			return nil
		})
		return resp, err
	}
}

func printProbeSummary(out io.Writer, opts probeOpts, s *probeSummary, elapsed time.Duration, instance *throttle.Instance) error {
	mode := "class " + opts.class
	if opts.direct {
		mode = "direct"
	}
	if _, err := fmt.Fprintf(out, "probe %s: sent=%d succeeded=%d errors=%d elapsed=%s\n",
		mode, s.sent.Load(), s.succeeded.Load(), s.errored.Load(), elapsed.Round(time.Millisecond)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		if _, err := fmt.Fprintf(out, "  status %d: %d\n", code, s.statuses[code]); err != nil {
			return err
		}
	}
	errTexts := make([]string, 0, len(s.errs))
	for text := range s.errs {
		errTexts = append(errTexts, text)
	}
	sort.Strings(errTexts)
	for _, text := range errTexts {
		if _, err := fmt.Fprintf(out, "  error %q: %d\n", text, s.errs[text]); err != nil {
			return err
		}
	}

	if instance == nil {
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(instance.Stats())
}
