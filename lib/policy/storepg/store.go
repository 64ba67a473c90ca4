// Package storepg is a Postgres-backed policy.ProfileStore, for
// deployments that need profiles to survive an orchestrator restart and
// be shared across multiple orchestrator instances.
package storepg

import (
	"database/sql"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/gravitational/trace"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/policy"
)

// Store is a policy.ProfileStore backed by a `profiles` table.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and pings the database; it does not check that the
// `profiles` table exists.
// Schema migration is the caller's responsibility (golang-migrate).
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, trace.Wrap(err, "failed to connect to policy store")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ProfileID            string    `db:"profile_id"`
	ProfileName          string    `db:"profile_name"`
	ProfileVersion       string    `db:"profile_version"`
	UseCase              string    `db:"use_case"`
	LatencyBudgetMs      uint32    `db:"latency_budget_ms"`
	BandwidthFloorMbps   float64   `db:"bandwidth_floor_mbps"`
	BandwidthCeilingMbps float64   `db:"bandwidth_ceiling_mbps"`
	FecMode              string    `db:"fec_mode"`
	Priority             int       `db:"priority"`
	PowerProfile         string    `db:"power_profile"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func toRow(p *policy.Profile) row {
	return row{
		ProfileID:            p.ProfileID,
		ProfileName:          p.ProfileName,
		ProfileVersion:       p.ProfileVersion.String(),
		UseCase:              string(p.UseCase),
		LatencyBudgetMs:      p.LatencyBudgetMs,
		BandwidthFloorMbps:   p.BandwidthFloorMbps,
		BandwidthCeilingMbps: p.BandwidthCeilingMbps,
		FecMode:              string(p.FecMode),
		Priority:             p.Priority,
		PowerProfile:         string(p.PowerProfile),
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func fromRow(r row) *policy.Profile {
	return &policy.Profile{
		ProfileID:            r.ProfileID,
		ProfileName:          r.ProfileName,
		ProfileVersion:       semver.New(r.ProfileVersion),
		UseCase:              policy.UseCase(r.UseCase),
		LatencyBudgetMs:      r.LatencyBudgetMs,
		BandwidthFloorMbps:   r.BandwidthFloorMbps,
		BandwidthCeilingMbps: r.BandwidthCeilingMbps,
		FecMode:              policy.FecMode(r.FecMode),
		Priority:             r.Priority,
		PowerProfile:         policy.PowerProfile(r.PowerProfile),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// Create implements policy.ProfileStore.
func (s *Store) Create(p *policy.Profile) error {
	r := toRow(p)
	_, err := s.db.NamedExec(`
		INSERT INTO profiles (profile_id, profile_name, profile_version, use_case,
			latency_budget_ms, bandwidth_floor_mbps, bandwidth_ceiling_mbps,
			fec_mode, priority, power_profile, created_at, updated_at)
		VALUES (:profile_id, :profile_name, :profile_version, :use_case,
			:latency_budget_ms, :bandwidth_floor_mbps, :bandwidth_ceiling_mbps,
			:fec_mode, :priority, :power_profile, :created_at, :updated_at)`, r)
	if err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Get implements policy.ProfileStore.
func (s *Store) Get(profileID string) (*policy.Profile, error) {
	var r row
	err := s.db.Get(&r, `SELECT * FROM profiles WHERE profile_id = $1`, profileID)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, nil, "profile "+profileID+" not found")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return fromRow(r), nil
}

// Update implements policy.ProfileStore.
func (s *Store) Update(p *policy.Profile) error {
	r := toRow(p)
	res, err := s.db.NamedExec(`
		UPDATE profiles SET profile_name=:profile_name, profile_version=:profile_version,
			use_case=:use_case, latency_budget_ms=:latency_budget_ms,
			bandwidth_floor_mbps=:bandwidth_floor_mbps, bandwidth_ceiling_mbps=:bandwidth_ceiling_mbps,
			fec_mode=:fec_mode, priority=:priority, power_profile=:power_profile, updated_at=:updated_at
		WHERE profile_id=:profile_id`, r)
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.KindNotFound, nil, "profile "+p.ProfileID+" not found")
	}
	return nil
}

// Delete implements policy.ProfileStore.
func (s *Store) Delete(profileID string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE profile_id = $1`, profileID)
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.KindNotFound, nil, "profile "+profileID+" not found")
	}
	return nil
}

// List implements policy.ProfileStore.
func (s *Store) List() ([]*policy.Profile, error) {
	var rows []row
	if err := s.db.Select(&rows, `SELECT * FROM profiles ORDER BY profile_id`); err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*policy.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}
