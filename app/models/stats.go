package models

import "time"

// Metric names flushed from the Redis counters into billing_daily_stats.
const (
	StatWebhooksProcessed = "webhooks_processed"
	StatWebhooksIgnored   = "webhooks_ignored"
	StatPaymentsRecorded  = "payments_recorded"
)

// BillingDailyStat holds one counter value per metric per day. Rows are
// incremented in batches by the counter flusher, never written per request.
type BillingDailyStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:ux_billing_daily_stats_date_metric,priority:1" json:"date"`
	Metric    string    `gorm:"type:varchar(50);not null;uniqueIndex:ux_billing_daily_stats_date_metric,priority:2" json:"metric"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
