package requestlog

import (
	"context"
	"fmt"
	"time"

	internalsettings "github.com/router-for-me/PolicyRouter/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxDeleteBatchesPerRun = 2000

// IntSettings resolves runtime integer overrides.
type IntSettings interface {
	Int(key string) (int, bool)
}

// Pruner deletes audit rows older than the retention window.
type Pruner struct {
	db            *gorm.DB
	settings      IntSettings
	retentionDays int
}

// NewPruner builds a pruner. retentionDays is used unless a runtime setting overrides it.
func NewPruner(db *gorm.DB, settings IntSettings, retentionDays int) *Pruner {
	return &Pruner{db: db, settings: settings, retentionDays: retentionDays}
}

// RetentionDays returns the effective request log retention.
func (p *Pruner) RetentionDays() int {
	return p.intSetting(internalsettings.RequestLogRetentionDaysKey, p.retentionDays)
}

// Prune applies the configured retention to request logs and decision logs.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	deleted, errLogs := p.PruneOlderThan(ctx, p.RetentionDays())
	if errLogs != nil {
		return deleted, errLogs
	}
	decisionDays := p.intSetting(internalsettings.DecisionLogRetentionDaysKey, internalsettings.DefaultDecisionLogRetentionDays)
	if decisionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -decisionDays)
		decisions, errDecisions := p.deleteAll(ctx, "policy_decision_logs", "decided_at", cutoff)
		if errDecisions != nil {
			return deleted, errDecisions
		}
		if decisions > 0 {
			log.Infof("request log pruner: deleted %d decision rows (retention_days=%d)", decisions, decisionDays)
		}
	}
	return deleted, nil
}

// PruneOlderThan deletes request logs older than days. days <= 0 keeps everything.
func (p *Pruner) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("requestlog: nil db")
	}
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, errDelete := p.deleteAll(ctx, "policy_request_logs", "created_at", cutoff)
	if deleted > 0 {
		log.Infof("request log pruner: deleted %d rows (cutoff=%s retention_days=%d)", deleted, cutoff.Format(time.RFC3339), days)
	}
	return deleted, errDelete
}

func (p *Pruner) deleteAll(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	limit := p.intSetting(internalsettings.RequestLogPruneBatchSizeKey, internalsettings.DefaultRequestLogPruneBatchSize)
	if limit <= 0 {
		limit = internalsettings.DefaultRequestLogPruneBatchSize
	}

	total := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if errCtx := ctx.Err(); errCtx != nil {
			return total, errCtx
		}
		// Limited subquery keeps each delete short.
		res := p.db.WithContext(ctx).Exec(fmt.Sprintf(`
			DELETE FROM %[1]s
			WHERE id IN (
				SELECT id FROM %[1]s
				WHERE %[2]s < ?
				ORDER BY %[2]s ASC
				LIMIT ?
			)
		`, table, column), cutoff, limit)
		if res.Error != nil {
			return total, fmt.Errorf("requestlog: prune %s: %w", table, res.Error)
		}
		if res.RowsAffected <= 0 {
			break
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (p *Pruner) intSetting(key string, fallback int) int {
	if p.settings == nil {
		return fallback
	}
	if v, ok := p.settings.Int(key); ok && v >= 0 {
		return v
	}
	return fallback
}
