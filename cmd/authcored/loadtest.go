package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/authcore/jwt"
	"github.com/kestrelhq/authcore/password"
	"github.com/kestrelhq/authcore/session"
	"github.com/kestrelhq/authcore/token"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	prefix      string
}

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func newLoadtestCmd(root *rootOptions) *cobra.Command {
	opts := &loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure session authenticate and rotate latency against Redis",
		Long: `Seed sessions in the Redis token store, then run an authenticate phase
and a rotate phase with concurrent workers and print latency percentiles.
Use --redis.embedded to run without an external Redis.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd, root, opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 1000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 5000, "operations per phase")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "loadtest", "redis key prefix")
	return cmd
}

func runLoadtest(cmd *cobra.Command, root *rootOptions, opts *loadtestOptions) error {
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("sessions, concurrency and ops must be > 0")
	}
	cfg, err := loadConfig(root.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client, mr, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}()

	sessions, err := newLoadtestSessions(client, opts.prefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	states := make([]*sessionState, opts.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := range states {
		pair, err := sessions.Start(ctx, fmt.Sprintf("user-%d", i), "")
		if err != nil {
			return oops.Code("LOADTEST_SEED_FAILED").With("session", i).Wrap(err)
		}
		states[i] = &sessionState{access: pair.Access, refresh: pair.Refresh}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validate := runPhase(opts.ops, opts.concurrency, func(r *mrand.Rand) error {
		st := states[r.IntN(len(states))]
		st.mu.Lock()
		raw := st.access
		st.mu.Unlock()
		_, err := sessions.Authenticate(ctx, raw, jwt.KindAccess)
		return err
	})
	rotate := runPhase(opts.ops, opts.concurrency, func(r *mrand.Rand) error {
		st := states[r.IntN(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		p, err := sessions.Authenticate(ctx, st.refresh, jwt.KindRefresh)
		if err != nil {
			return err
		}
		pair, err := sessions.Rotate(ctx, p)
		if err != nil {
			return err
		}
		st.access, st.refresh = pair.Access, pair.Refresh
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "authenticate", validate)
	printStats(out, "rotate", rotate)
	return nil
}

// newLoadtestSessions builds a session manager with throwaway keys.
func newLoadtestSessions(client redis.UniversalClient, prefix string) (*session.Manager, error) {
	_, accessKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	_, refreshKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodEd25519,
		Access:        jwt.Keys{PrivateKey: accessKey},
		Refresh:       jwt.Keys{PrivateKey: refreshKey},
		Issuer:        "authcored-loadtest",
	})
	if err != nil {
		return nil, err
	}
	digester, err := password.NewRefreshDigester(password.MinDigestCost)
	if err != nil {
		return nil, err
	}
	store := token.NewRedisStore(client, token.RedisOptions{Prefix: prefix})
	return session.NewManager(store, signer, digester, session.Config{RevokeOnRotate: true})
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
