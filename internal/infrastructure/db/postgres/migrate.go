package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the estimates table, its scope indexes and the notify
// trigger that feeds ChangeStream. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if table == "" {
		table = tableEstimates
	}
	for _, stmt := range schemaStatements(table) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string) []string {
	t := quote(table)
	fn := quote(table + "_notify_change")
	ch := quote(table + "_channel")
	trg := quote(table + "_notify_change_trg")
	lit := strings.ReplaceAll(table, "'", "''")

	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id            TEXT PRIMARY KEY,
			created_by    TEXT NOT NULL,
			territory_id  TEXT,
			status        TEXT NOT NULL DEFAULT 'pending',
			total_price   NUMERIC(14,2) NOT NULL DEFAULT 0,
			customer_name TEXT NOT NULL DEFAULT '',
			address       TEXT,
			version       BIGINT NOT NULL DEFAULT 1,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + quote(table+"_created_by_idx") + ` ON ` + t + ` (created_by, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS ` + quote(table+"_territory_idx") + ` ON ` + t + ` (territory_id, created_at DESC)`,
		`CREATE OR REPLACE FUNCTION ` + ch + `(name text) RETURNS text AS $$
			SELECT CASE WHEN octet_length(name) > 63 THEN 'estsync:' || md5(name) ELSE name END
		$$ LANGUAGE sql IMMUTABLE`,
		`CREATE OR REPLACE FUNCTION ` + fn + `() RETURNS trigger AS $$
		DECLARE
			payload text;
		BEGIN
			payload := json_build_object(
				'eventType', TG_OP,
				'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
				'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
			)::text;
			PERFORM pg_notify(` + ch + `('` + lit + `:all'), payload);
			IF TG_OP <> 'DELETE' THEN
				PERFORM pg_notify(` + ch + `('` + lit + `:created_by:' || NEW.created_by), payload);
				IF NEW.territory_id IS NOT NULL THEN
					PERFORM pg_notify(` + ch + `('` + lit + `:territory_id:' || NEW.territory_id), payload);
				END IF;
			END IF;
			IF TG_OP <> 'INSERT' THEN
				PERFORM pg_notify(` + ch + `('` + lit + `:created_by:' || OLD.created_by), payload);
				IF OLD.territory_id IS NOT NULL THEN
					PERFORM pg_notify(` + ch + `('` + lit + `:territory_id:' || OLD.territory_id), payload);
				END IF;
			END IF;
			RETURN NULL;
		END
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS ` + trg + ` ON ` + t,
		`CREATE TRIGGER ` + trg + ` AFTER INSERT OR UPDATE OR DELETE ON ` + t +
			` FOR EACH ROW EXECUTE FUNCTION ` + fn + `()`,
	}
}
