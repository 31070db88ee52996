package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

// Component states reported by a check.
const (
	checkUp       = "up"
	checkDown     = "down"
	checkDegraded = "degraded"
	checkDisabled = "disabled"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string                    `json:"status"` // healthy, degraded, unhealthy
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of one component check.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type componentCheck struct {
	name string
	run  func(ctx context.Context) ComponentCheck
}

// HealthChecker checks Postgres, Redis and the overdue batch backlog. A
// nil dependency is reported as disabled and does not affect the status.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	startTime   time.Time
	backlogWarn int
	components  []componentCheck
}

// NewHealthChecker creates a HealthChecker. Both arguments may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	hc := &HealthChecker{
		db:          db,
		redisClient: redisClient,
		startTime:   time.Now(),
		backlogWarn: 50,
	}
	hc.components = []componentCheck{
		{"database", hc.pingDatabase},
		{"redis", hc.pingRedis},
		{"batches", hc.overdueBatches},
	}
	return hc
}

// HandleHealth always answers 200. The body carries the overall status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status: determineOverallStatus(checks),
		Uptime: formatUptime(time.Since(hc.startTime)),
		Checks: checks,
	})
}

// HandleLiveness answers 200 without touching any dependency.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness answers 503 while the database is unreachable.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runChecks(r.Context())
	overall := determineOverallStatus(checks)
	code := http.StatusOK
	if overall == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{
		"ready":  code == http.StatusOK,
		"status": overall,
		"checks": checks,
	})
}

// runChecks runs every component check concurrently.
func (hc *HealthChecker) runChecks(ctx context.Context) map[string]ComponentCheck {
	type named struct {
		name string
		res  ComponentCheck
	}
	results := make(chan named, len(hc.components))
	for _, c := range hc.components {
		go func(c componentCheck) { results <- named{c.name, c.run(ctx)} }(c)
	}
	checks := make(map[string]ComponentCheck, len(hc.components))
	for range hc.components {
		n := <-results
		checks[n.name] = n.res
	}
	return checks
}

func (hc *HealthChecker) pingDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: checkDisabled, Message: "in-memory store"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	err := hc.db.PingContext(ctx)
	return timed(time.Since(start), time.Second, err)
}

func (hc *HealthChecker) pingRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: checkDisabled, Message: "dispatch lock uses postgres"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := hc.redisClient.Ping(ctx).Err()
	return timed(time.Since(start), 500*time.Millisecond, err)
}

// overdueBatches counts due batches of active campaigns that no dispatcher
// has claimed yet.
func (hc *HealthChecker) overdueBatches(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: checkDisabled}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	var overdue int
	err := hc.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_batches b
		JOIN campaigns c ON c.id = b.campaign_id
		WHERE b.status = 'pending' AND b.scheduled_time <= NOW() AND c.status = 'active'
	`).Scan(&overdue)
	check := ComponentCheck{Status: checkUp, Latency: time.Since(start).String()}
	switch {
	case err != nil:
		check.Status = checkDegraded
		check.Message = fmt.Sprintf("backlog query: %v", err)
	case overdue > hc.backlogWarn:
		check.Status = checkDegraded
		check.Message = fmt.Sprintf("%d overdue batches, is a worker running?", overdue)
	default:
		check.Message = fmt.Sprintf("%d overdue batches", overdue)
	}
	return check
}

func timed(latency, slow time.Duration, err error) ComponentCheck {
	check := ComponentCheck{Status: checkUp, Latency: latency.String()}
	switch {
	case err != nil:
		check.Status = checkDown
		check.Message = err.Error()
	case latency > slow:
		check.Status = checkDegraded
		check.Message = "slow"
	}
	return check
}

// determineOverallStatus is unhealthy when the database is down, degraded
// when anything else is down or degraded, and healthy otherwise. Disabled
// components are ignored.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if checks["database"].Status == checkDown {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == checkDown || c.Status == checkDegraded {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime renders d as "3d 4h 12m 5s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int(d.Seconds())
	days, hours, mins := secs/86400, secs/3600%24, secs/60%60
	secs %= 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
