// Command panelauth-loadtest measures login, session validation and rate
// limiting throughput against an in-memory store and Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/store/memory"
)

const loadPassword = "Load-test-password1"

func main() {
	var (
		users       = flag.Int("users", 500, "number of users to seed and sign in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (validate + rate limit)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
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
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := panelauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(uuid.NewString() + uuid.NewString())
	st := memory.New()
	engine, err := panelauth.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	names, err := seedUsers(ctx, st, engine, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	tokens, loginStats := runLoginPhase(ctx, engine, names, *concurrency)
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no logins succeeded")
		os.Exit(1)
	}
	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	limiter := engine.RateLimiter()
	limitStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := limiter.Check(ctx, fmt.Sprintf("10.0.%d.%d", r.Intn(256), r.Intn(256)), rate.ActionAPIGeneral)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("rate-check", limitStats)
}

func seedUsers(ctx context.Context, st *memory.Store, engine *panelauth.Engine, n int) ([]string, error) {
	hash, err := engine.PasswordHasher().Hash(loadPassword)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("load%d", i)
		err := st.CreateUser(ctx, &store.User{
			ID:            uuid.NewString(),
			Username:      names[i],
			Email:         names[i] + "@load.test",
			PasswordHash:  hash,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// runLoginPhase signs every user in once. Each login comes from its own
// address so the per-address login limit does not interfere.
func runLoginPhase(ctx context.Context, engine *panelauth.Engine, names []string, concurrency int) ([]string, phaseStats) {
	var (
		mu     sync.Mutex
		tokens = make([]string, 0, len(names))
	)
	stats := runPhase(len(names), concurrency, func(_ *rand.Rand, i int) error {
		lctx := panelauth.WithClientIP(ctx, fmt.Sprintf("198.18.%d.%d", i/256, i%256))
		out := engine.Login(lctx, panelauth.LoginRequest{Username: names[i], Password: loadPassword})
		if !out.OK() || out.Session == nil {
			return fmt.Errorf("login %s failed", names[i])
		}
		mu.Lock()
		tokens = append(tokens, out.Session.Token)
		mu.Unlock()
		return nil
	})
	return tokens, stats
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
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
				err := op(r, i)
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

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
