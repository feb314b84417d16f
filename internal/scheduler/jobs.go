package scheduler

import (
	"context"
	"time"

	"chip-settlement/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	JobBalanceCheck  = "balance_check"
	JobHealthCheck   = "health_check"
	JobWithdrawSweep = "withdrawal_sweep"
	JobAlertPurge    = "alert_purge"
	JobWatchCleanup  = "watch_cleanup"
	JobDepositResume = "deposit_resume"
)

type WalletMonitor interface {
	CheckWalletBalance(ctx context.Context) (decimal.Decimal, error)
	HealthCheck(ctx context.Context) error
}

type WithdrawalSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

type AlertPurger interface {
	PurgeAlerts(ctx context.Context, before time.Time) (int64, error)
}

type DepositMaintainer interface {
	CleanupIdleWatches(ctx context.Context, ttl time.Duration) ([]string, error)
	ResumePending(ctx context.Context) (int, error)
}

type Deps struct {
	Monitor     WalletMonitor
	Withdrawals WithdrawalSweeper
	Alerts      AlertPurger
	Deposits    DepositMaintainer
	Now         func() time.Time
}

// SettlementJobs builds the periodic maintenance jobs. A nil dependency
// leaves its jobs out.
func SettlementJobs(mon config.MonitorConfig, ch config.ChainConfig, d Deps) []Job {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	var jobs []Job
	if d.Monitor != nil {
		jobs = append(jobs,
			Job{Name: JobBalanceCheck, Spec: mon.BalanceCheckSpec, Timeout: time.Minute, Run: func(ctx context.Context) error {
				_, err := d.Monitor.CheckWalletBalance(ctx)
				return err
			}},
			Job{Name: JobHealthCheck, Spec: mon.HealthCheckSpec, Timeout: time.Minute, Run: d.Monitor.HealthCheck},
		)
	}
	if d.Withdrawals != nil {
		jobs = append(jobs, Job{Name: JobWithdrawSweep, Spec: mon.SweepSpec, Timeout: 5 * time.Minute, Run: func(ctx context.Context) error {
			n, err := d.Withdrawals.SweepStale(ctx)
			if n > 0 {
				log.Info().Int("count", n).Msg("swept stale withdrawals")
			}
			return err
		}})
	}
	if d.Alerts != nil && mon.AlertRetention > 0 {
		jobs = append(jobs, Job{Name: JobAlertPurge, Spec: mon.PurgeSpec, Timeout: 5 * time.Minute, Run: func(ctx context.Context) error {
			n, err := d.Alerts.PurgeAlerts(ctx, now().Add(-mon.AlertRetention))
			if n > 0 {
				log.Info().Int64("count", n).Msg("purged resolved alerts")
			}
			return err
		}})
	}
	if d.Deposits != nil {
		if ch.WatchIdleTTL > 0 {
			jobs = append(jobs, Job{Name: JobWatchCleanup, Spec: mon.WatchCleanupSpec, Timeout: 5 * time.Minute, Run: func(ctx context.Context) error {
				_, err := d.Deposits.CleanupIdleWatches(ctx, ch.WatchIdleTTL)
				return err
			}})
		}
		jobs = append(jobs, Job{Name: JobDepositResume, Spec: mon.DepositResumeSpec, Timeout: 5 * time.Minute, Run: func(ctx context.Context) error {
			_, err := d.Deposits.ResumePending(ctx)
			return err
		}})
	}
	return jobs
}

// Register adds every job to s.
func Register(s *Scheduler, jobs []Job) error {
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}
