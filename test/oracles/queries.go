// Package oracles holds SQL invariants over the documents table that must
// hold at every instant of a stress run.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_active_match",
			SQL: `SELECT fields->>'taskId', fields->>'workerId', COUNT(*) FROM documents
                  WHERE collection = 'matches'
                    AND fields->>'status' IN ('pending','accepted','in_progress')
                  GROUP BY 1, 2 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_earnings_need_completion",
			SQL: `SELECT c.id, m.fields->>'status' FROM documents c
                  LEFT JOIN documents m ON m.collection = 'matches' AND m.id = c.id
                  WHERE c.collection = 'completed_tasks'
                    AND COALESCE(m.fields->>'status', '') <> 'completed'`,
		},
		{
			Name: "O3_earnings_match_pay",
			SQL: `SELECT c.id, c.fields->>'amount', j.fields->>'pay' FROM documents c
                  JOIN documents j ON j.collection = 'jobs' AND j.id = c.fields->>'taskId'
                  WHERE c.collection = 'completed_tasks'
                    AND (c.fields->>'amount')::numeric <> (j.fields->>'pay')::numeric`,
		},
		{
			Name: "O4_ratings_need_completion",
			SQL: `SELECT r.id FROM documents r
                  LEFT JOIN documents m ON m.collection = 'matches' AND m.id = r.fields->>'matchId'
                  WHERE r.collection = 'ratings'
                    AND COALESCE(m.fields->>'status', '') <> 'completed'`,
		},
		{
			Name: "O5_ratings_by_participants",
			SQL: `SELECT r.id FROM documents r
                  JOIN documents m ON m.collection = 'matches' AND m.id = r.fields->>'matchId'
                  WHERE r.collection = 'ratings'
                    AND (r.fields->>'raterId' NOT IN (m.fields->>'workerId', m.fields->>'posterId')
                      OR r.fields->>'ratedId' NOT IN (m.fields->>'workerId', m.fields->>'posterId')
                      OR r.fields->>'raterId' = r.fields->>'ratedId')`,
		},
		{
			Name: "O6_notify_trigger_present",
			SQL: `SELECT 'missing_documents_notify_trg' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'documents_notify_trg')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
