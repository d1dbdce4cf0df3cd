package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver for the reporting connection
)

// ReportingDB is a raw database/sql connection used for aggregate reporting
// queries that bypass GORM. Only available on PostgreSQL.
type ReportingDB struct {
	conn *sql.DB
}

// NewReportingDB opens the raw reporting connection
func NewReportingDB(host, port, dbname, user, password string) (*ReportingDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open reporting connection: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Reporting connection established")
	return &ReportingDB{conn: conn}, nil
}

// ChannelQuality aggregates closed-event performance for one channel
type ChannelQuality struct {
	ChannelID    int64
	TotalEvents  int64
	ClosedEvents int64
	Wins         int64
	AvgProfitPct float64
}

// QualityScore computes the 0-100 composite used to rank channels:
// win rate, average profit, sample size and completion rate.
func (q ChannelQuality) QualityScore() float64 {
	if q.ClosedEvents == 0 {
		return 0
	}

	winRate := float64(q.Wins) / float64(q.ClosedEvents)
	completion := float64(q.ClosedEvents) / float64(q.TotalEvents)

	sampleWeight := float64(q.ClosedEvents) / 50.0
	if sampleWeight > 1 {
		sampleWeight = 1
	}

	profitComponent := q.AvgProfitPct * 2
	if profitComponent > 20 {
		profitComponent = 20
	}
	if profitComponent < -20 {
		profitComponent = -20
	}

	score := winRate*50 + profitComponent + completion*10 + sampleWeight*20
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// GetChannelQuality aggregates event outcomes per channel over the lookback
func (r *ReportingDB) GetChannelQuality(lookbackDays int) ([]ChannelQuality, error) {
	rows, err := r.conn.Query(`
		SELECT channel_id,
		       COUNT(*) AS total_events,
		       COUNT(*) FILTER (WHERE outcome <> 'pending') AS closed_events,
		       COUNT(*) FILTER (WHERE outcome = 'win') AS wins,
		       COALESCE(AVG(profit_pct) FILTER (WHERE outcome <> 'pending'), 0) AS avg_profit
		FROM signal_events
		WHERE triggered_at >= NOW() - make_interval(days => $1)
		GROUP BY channel_id`, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("GetChannelQuality: %w", err)
	}
	defer rows.Close()

	var stats []ChannelQuality
	for rows.Next() {
		var q ChannelQuality
		if err := rows.Scan(&q.ChannelID, &q.TotalEvents, &q.ClosedEvents, &q.Wins, &q.AvgProfitPct); err != nil {
			return nil, fmt.Errorf("GetChannelQuality scan: %w", err)
		}
		stats = append(stats, q)
	}
	return stats, rows.Err()
}

// Close closes the reporting connection
func (r *ReportingDB) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
