package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/internal/memstore"
	"github.com/webshop/shopauth/password"
)

type loadtestOptions struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
	memoryKiB   uint32
}

// NewLoadtestCmd creates the loadtest subcommand.
func NewLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure login throughput against the redis lockout backend",
		Long: `Seed users in memory, then run concurrent login, rejected-login and
token validation phases. Without --redis-addr (or REDIS_ADDR) an embedded
miniredis is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.users, "users", 1000, "number of users to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 2000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().Uint32Var(&opts.memoryKiB, "argon-memory", 8*1024, "Argon2id memory in KiB for seeded credentials")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return oops.Code("INVALID_INPUT").Errorf("users, concurrency, and ops must be > 0")
	}

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return oops.Code("REDIS_UNAVAILABLE").Wrapf(err, "start miniredis")
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	defer cleanup()

	hasher, err := password.NewArgon2WithParams(password.Params{
		Memory:      opts.memoryKiB,
		Time:        1,
		Parallelism: 1,
		KeyLength:   password.DigestLength,
	})
	if err != nil {
		return oops.Code("INVALID_INPUT").Wrap(err)
	}

	// Every user shares one credential; the KDF cost is paid per Verify.
	const loadtestPassword = "loadtest-Secr3t!"
	credential, err := hasher.HashString(loadtestPassword)
	if err != nil {
		return oops.Code("HASH_FAILED").Wrap(err)
	}

	users := memstore.NewUsers()
	names := make([]string, opts.users)
	fmt.Fprintf(out, "seeding %d users...\n", opts.users)
	startSeed := time.Now()
	for i := range names {
		names[i] = fmt.Sprintf("user-%d", i)
		if _, err := users.Add(names[i], credential, "user"); err != nil {
			return oops.With("username", names[i]).Wrap(err)
		}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	cfg := shopauth.DefaultConfig()
	cfg.JWT.Secret = []byte("loadtest-signing-secret-0123456789abcdef")
	cfg.Lockout.Backend = shopauth.LockoutBackendRedis
	cfg.Lockout.RedisPrefix = "loadtest:lockout:"
	// Rejected logins must keep reaching the hasher instead of tripping the lock.
	cfg.Lockout.MaxAttempts = 1 << 30
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := shopauth.New().
		WithConfig(cfg).
		WithUserRepository(users).
		WithRedis(client).
		WithPasswordHasher(hasher).
		Build()
	if err != nil {
		return oops.Code("INVALID_INPUT").Wrap(err)
	}
	defer engine.Close()

	result, err := engine.Login(ctx, names[0], loadtestPassword)
	if err != nil {
		return oops.With("phase", "warmup").Wrap(err)
	}
	token := result.Token

	loginStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand) error {
		_, err := engine.Login(ctx, names[r.Intn(len(names))], loadtestPassword)
		return err
	})
	rejectStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand) error {
		_, err := engine.Login(ctx, names[r.Intn(len(names))], "wrong-password")
		if errors.Is(err, shopauth.ErrInvalidCredentials) {
			return nil
		}
		return fmt.Errorf("expected invalid credentials, got %v", err)
	})
	validateStats := runPhase(opts.ops, opts.concurrency, func(*rand.Rand) error {
		_, err := engine.ValidateToken(token)
		return err
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "login", loginStats)
	printStats(out, "reject", rejectStats)
	printStats(out, "validate", validateStats)
	return nil
}

// runPhase executes op ops times across concurrency workers and records the
// latency of each call. Errors returned by op count as failures.
func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	s := phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
	}
	if total > 0 {
		s.opsPerS = float64(len(samples)) / total.Seconds()
	}
	return s
}

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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
