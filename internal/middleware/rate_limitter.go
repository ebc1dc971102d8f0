package middleware

import (
	"net/http"
	"sync"
	"time"

	"EmotionOverlay/pkg/handlerUtil"
	"EmotionOverlay/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

var (
	ErrTooManyRequests = response.NewError(http.StatusTooManyRequests, "too many requests")
)

// limiterIdleTTL must exceed burst/rate so an evicted client would have had
// a full bucket anyway.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP and forgets clients that
// have been idle for idleTTL.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		clients:   make(map[string]*clientLimiter),
		rate:      reqRate,
		burstSize: burstSize,
		idleTTL:   limiterIdleTTL,
		now:       time.Now,
	}
}

func (r *rateLimiter) allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= r.idleTTL {
		r.evictIdleLocked(now)
		r.lastSweep = now
	}

	c, ok := r.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.clients[ip] = c
	}
	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

func (r *rateLimiter) evictIdleLocked(now time.Time) {
	for ip, c := range r.clients {
		if now.Sub(c.lastSeen) >= r.idleTTL {
			delete(r.clients, ip)
		}
	}
}

func (r *rateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	clientIP := ctx.IP()

	if !m.rateLimitter.allow(clientIP) {
		return handlerUtil.New(m.log).Handle(ctx, m.GetRequestID(ctx), ErrTooManyRequests, ctx.Path(), "rate_limit")
	}

	return ctx.Next()
}
