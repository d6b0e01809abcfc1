package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/curadesk/curadesk/internal/pkg/cache"
	"github.com/curadesk/curadesk/internal/pkg/database"
)

const billingStatsKey = "billing:counters:daily"

// hash fields are "<metric>|<YYYY-MM-DD>" so one flush drains all metrics.
func field(metric string, day time.Time) string {
	return metric + "|" + day.UTC().Format("2006-01-02")
}

// Add increments the pending counter for a metric on today's date in Redis.
func Add(metric string) error {
	return AddN(metric, 1)
}

// AddN increments the pending counter for a metric by n on today's date.
func AddN(metric string, n int64) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, billingStatsKey, field(metric, time.Now()), n).Err()
}

// Flush drains the pending counters to billing_daily_stats. Uses RENAME to a
// temporary key for an atomic drain without losing in-flight increments.
func Flush() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", billingStatsKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", billingStatsKey, tmpKey).Err(); err != nil {
		// Key absent means nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if cache.IsNil(err) {
			return nil
		}
		return err
	}

	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pending struct {
		metric string
		day    string
		inc    int64
	}
	rows := make([]pending, 0, len(data))
	for k, v := range data {
		metric, day, ok := strings.Cut(k, "|")
		if !ok {
			continue
		}
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		rows = append(rows, pending{metric: metric, day: day, inc: inc})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].day != rows[j].day {
			return rows[i].day < rows[j].day
		}
		return rows[i].metric < rows[j].metric
	})

	db := database.GetDB()
	for _, r := range rows {
		sql := "INSERT INTO billing_daily_stats (date, metric, count, created_at, updated_at) " +
			"VALUES (?, ?, ?, NOW(), NOW()) " +
			"ON DUPLICATE KEY UPDATE count = count + VALUES(count), updated_at = NOW()"
		if err := db.Exec(sql, r.day, r.metric, r.inc).Error; err != nil {
			return err
		}
	}
	return nil
}
