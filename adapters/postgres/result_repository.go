package postgres

import (
	"context"
	"fmt"
	"time"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal/errors"
	"metesad/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// resultRepository mirrors the result tables into Postgres. Every save
// replaces the dataset's rows inside one transaction.
type resultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a Postgres backed result store
func NewResultRepository(db *sqlx.DB) ports.ResultStore {
	return &resultRepository{db: db}
}

type fitRow struct {
	Dataset       string          `db:"dataset"`
	Site          string          `db:"site"`
	Model         string          `db:"model"`
	S0            int             `db:"s0"`
	N0            int             `db:"n0"`
	K             int             `db:"k"`
	Params        pq.Float64Array `db:"params"`
	LogLikelihood float64         `db:"log_likelihood"`
	AICc          float64         `db:"aicc"`
	RSquared      float64         `db:"r_squared"`
	AkaikeWeight  float64         `db:"akaike_weight"`
}

type obsPredRow struct {
	Dataset string `db:"dataset"`
	Site    string `db:"site"`
	Rank    int    `db:"rank"`
	Obs     int    `db:"obs"`
	Pred    int    `db:"pred"`
}

type batchRow struct {
	RunID     string    `db:"run_id"`
	Dataset   string    `db:"dataset"`
	Site      string    `db:"site"`
	Model     string    `db:"model"`
	Seed      int64     `db:"seed"`
	S0        int       `db:"s0"`
	N0        int       `db:"n0"`
	CreatedAt time.Time `db:"created_at"`
}

type replicateRow struct {
	RunID         string  `db:"run_id"`
	Index         int     `db:"idx"`
	Sampler       string  `db:"sampler"`
	LogLikelihood float64 `db:"log_likelihood"`
	AICc          float64 `db:"aicc"`
	RSquared      float64 `db:"r_squared"`
}

type nullRow struct {
	Dataset    string  `db:"dataset"`
	Site       string  `db:"site"`
	Model      string  `db:"model"`
	Replicates int     `db:"replicates"`
	ObservedR2 float64 `db:"observed_r2"`
	MeanR2     float64 `db:"mean_r2"`
	StdDevR2   float64 `db:"sd_r2"`
	LowerR2    float64 `db:"lower_r2"`
	MedianR2   float64 `db:"median_r2"`
	UpperR2    float64 `db:"upper_r2"`
	PValueR2   float64 `db:"p_r2"`
	ObservedLL float64 `db:"observed_ll"`
	MeanLL     float64 `db:"mean_ll"`
	PValueLL   float64 `db:"p_ll"`
}

type failureRow struct {
	Dataset string `db:"dataset"`
	Site    string `db:"site"`
	Stage   string `db:"stage"`
	Code    string `db:"code"`
	Reason  string `db:"reason"`
}

func (r *resultRepository) SaveFits(ctx context.Context, dataset core.DatasetName, results []fit.FitResult) error {
	rows := make([]fitRow, len(results))
	for i, f := range results {
		rows[i] = fitRow{
			Dataset: string(f.Dataset), Site: string(f.Community), Model: string(f.Model),
			S0: f.S0, N0: f.N0, K: f.K, Params: pq.Float64Array(append([]float64{}, f.Params...)),
			LogLikelihood: f.LogLikelihood, AICc: f.AICc, RSquared: f.RSquared, AkaikeWeight: f.AkaikeWeight,
		}
	}
	return replaceRows(ctx, r, dataset, "sad_fits", `
		INSERT INTO sad_fits (dataset, site, model, s0, n0, k, params, log_likelihood, aicc, r_squared, akaike_weight)
		VALUES (:dataset, :site, :model, :s0, :n0, :k, :params, :log_likelihood, :aicc, :r_squared, :akaike_weight)
		ON CONFLICT (dataset, site, model) DO UPDATE SET
			s0 = EXCLUDED.s0, n0 = EXCLUDED.n0, k = EXCLUDED.k, params = EXCLUDED.params,
			log_likelihood = EXCLUDED.log_likelihood, aicc = EXCLUDED.aicc,
			r_squared = EXCLUDED.r_squared, akaike_weight = EXCLUDED.akaike_weight, updated_at = NOW()`,
		rows)
}

func (r *resultRepository) LoadFits(ctx context.Context, dataset core.DatasetName) ([]fit.FitResult, error) {
	var rows []fitRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT dataset, site, model, s0, n0, k, params, log_likelihood, aicc, r_squared, akaike_weight
		FROM sad_fits WHERE dataset = $1 ORDER BY site, model`, string(dataset)); err != nil {
		return nil, errors.StorageError("failed to load fits", err)
	}
	out := make([]fit.FitResult, len(rows))
	for i, row := range rows {
		out[i] = fit.FitResult{
			Model: core.ModelName(row.Model), Dataset: core.DatasetName(row.Dataset), Community: core.CommunityID(row.Site),
			S0: row.S0, N0: row.N0, K: row.K, LogLikelihood: row.LogLikelihood,
			AICc: row.AICc, RSquared: row.RSquared, AkaikeWeight: row.AkaikeWeight,
		}
		if len(row.Params) > 0 {
			out[i].Params = []float64(row.Params)
		}
	}
	return out, nil
}

func (r *resultRepository) SaveObsPred(ctx context.Context, dataset core.DatasetName, rows []fit.ObsPred) error {
	out := make([]obsPredRow, len(rows))
	for i, op := range rows {
		out[i] = obsPredRow{Dataset: string(op.Dataset), Site: string(op.Community), Rank: op.Rank, Obs: op.Observed, Pred: op.Predicted}
	}
	return replaceRows(ctx, r, dataset, "sad_obs_pred", `
		INSERT INTO sad_obs_pred (dataset, site, rank, obs, pred)
		VALUES (:dataset, :site, :rank, :obs, :pred)`, out)
}

func (r *resultRepository) LoadObsPred(ctx context.Context, dataset core.DatasetName) ([]fit.ObsPred, error) {
	var rows []obsPredRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT dataset, site, rank, obs, pred FROM sad_obs_pred
		WHERE dataset = $1 ORDER BY site, rank`, string(dataset)); err != nil {
		return nil, errors.StorageError("failed to load obs/pred rows", err)
	}
	out := make([]fit.ObsPred, len(rows))
	for i, row := range rows {
		out[i] = fit.ObsPred{Dataset: core.DatasetName(row.Dataset), Community: core.CommunityID(row.Site), Rank: row.Rank, Observed: row.Obs, Predicted: row.Pred}
	}
	return out, nil
}

// SaveBatches replaces the dataset's batches; replicates cascade with them
func (r *resultRepository) SaveBatches(ctx context.Context, dataset core.DatasetName, batches []*fit.SimulationBatch) error {
	var brows []batchRow
	var rrows []replicateRow
	for _, b := range batches {
		if !b.Sealed() {
			return errors.InternalError(fmt.Sprintf("refusing to save unsealed batch %s", b.Key()))
		}
		brows = append(brows, batchRow{
			RunID: string(b.RunID), Dataset: string(b.Dataset), Site: string(b.Community), Model: string(b.Model),
			Seed: b.Seed, S0: b.S0, N0: b.N0, CreatedAt: b.CreatedAt.Time(),
		})
		for _, st := range b.Replicates {
			rrows = append(rrows, replicateRow{
				RunID: string(b.RunID), Index: st.Index, Sampler: string(st.Sampler),
				LogLikelihood: st.LogLikelihood, AICc: st.AICc, RSquared: st.RSquared,
			})
		}
	}

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sad_batches WHERE dataset = $1`, string(dataset)); err != nil {
			return err
		}
		if len(brows) > 0 {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO sad_batches (run_id, dataset, site, model, seed, s0, n0, created_at)
				VALUES (:run_id, :dataset, :site, :model, :seed, :s0, :n0, :created_at)`, brows); err != nil {
				return err
			}
		}
		for start := 0; start < len(rrows); start += insertChunk {
			end := min(start+insertChunk, len(rrows))
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO sad_replicates (run_id, idx, sampler, log_likelihood, aicc, r_squared)
				VALUES (:run_id, :idx, :sampler, :log_likelihood, :aicc, :r_squared)`, rrows[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *resultRepository) LoadBatches(ctx context.Context, dataset core.DatasetName) ([]*fit.SimulationBatch, error) {
	var brows []batchRow
	if err := r.db.SelectContext(ctx, &brows, `
		SELECT run_id, dataset, site, model, seed, s0, n0, created_at
		FROM sad_batches WHERE dataset = $1 ORDER BY site, model`, string(dataset)); err != nil {
		return nil, errors.StorageError("failed to load batches", err)
	}

	out := make([]*fit.SimulationBatch, 0, len(brows))
	for _, br := range brows {
		var rrows []replicateRow
		if err := r.db.SelectContext(ctx, &rrows, `
			SELECT run_id, idx, sampler, log_likelihood, aicc, r_squared
			FROM sad_replicates WHERE run_id = $1 ORDER BY idx`, br.RunID); err != nil {
			return nil, errors.StorageError("failed to load replicates", err)
		}
		key := core.ArtifactKey{Dataset: core.DatasetName(br.Dataset), Community: core.CommunityID(br.Site), Model: core.ModelName(br.Model)}
		b := fit.NewSimulationBatch(key, br.S0, br.N0, br.Seed)
		b.RunID = core.RunID(br.RunID)
		b.CreatedAt = core.NewTimestamp(br.CreatedAt)
		stats := make([]fit.ReplicateStat, len(rrows))
		for i, rr := range rrows {
			stats[i] = fit.ReplicateStat{Index: rr.Index, Sampler: fit.SamplerStrategy(rr.Sampler), LogLikelihood: rr.LogLikelihood, AICc: rr.AICc, RSquared: rr.RSquared}
		}
		if err := b.Seal(stats); err != nil {
			return nil, errors.StorageError("stored batch is incomplete", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *resultRepository) SaveNullSummaries(ctx context.Context, dataset core.DatasetName, summaries []fit.NullSummary) error {
	rows := make([]nullRow, len(summaries))
	for i, n := range summaries {
		rows[i] = nullRow{
			Dataset: string(n.Dataset), Site: string(n.Community), Model: string(n.Model), Replicates: n.Replicates,
			ObservedR2: n.ObservedR2, MeanR2: n.MeanR2, StdDevR2: n.StdDevR2, LowerR2: n.LowerR2,
			MedianR2: n.MedianR2, UpperR2: n.UpperR2, PValueR2: n.PValueR2,
			ObservedLL: n.ObservedLL, MeanLL: n.MeanLL, PValueLL: n.PValueLL,
		}
	}
	return replaceRows(ctx, r, dataset, "sad_null_summaries", `
		INSERT INTO sad_null_summaries (dataset, site, model, replicates, observed_r2, mean_r2, sd_r2,
			lower_r2, median_r2, upper_r2, p_r2, observed_ll, mean_ll, p_ll)
		VALUES (:dataset, :site, :model, :replicates, :observed_r2, :mean_r2, :sd_r2,
			:lower_r2, :median_r2, :upper_r2, :p_r2, :observed_ll, :mean_ll, :p_ll)`,
		rows)
}

func (r *resultRepository) SaveFailures(ctx context.Context, dataset core.DatasetName, failures []fit.Failure) error {
	rows := make([]failureRow, len(failures))
	for i, f := range failures {
		rows[i] = failureRow{Dataset: string(f.Dataset), Site: string(f.Community), Stage: f.Stage, Code: f.Code, Reason: f.Reason}
	}
	return replaceRows(ctx, r, dataset, "sad_failures", `
		INSERT INTO sad_failures (dataset, site, stage, code, reason)
		VALUES (:dataset, :site, :stage, :code, :reason)`, rows)
}

// insertChunk keeps named batch inserts under the Postgres parameter limit
const insertChunk = 1000

// replaceRows deletes the dataset's rows from table and bulk inserts rows
func replaceRows[T any](ctx context.Context, r *resultRepository, dataset core.DatasetName, table, insert string, rows []T) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE dataset = $1", string(dataset)); err != nil {
			return err
		}
		for start := 0; start < len(rows); start += insertChunk {
			end := min(start+insertChunk, len(rows))
			if _, err := tx.NamedExecContext(ctx, insert, rows[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *resultRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return errors.StorageError("failed to write results", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError("failed to commit results", err)
	}
	return nil
}
