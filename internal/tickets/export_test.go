package tickets

import "context"

// ResetSchema drops and recreates the Postgres ticket schema.
func ResetSchema(ctx context.Context, s *PostgresStore) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS tickets; DROP SEQUENCE IF EXISTS ticket_seq;`); err != nil {
		return err
	}
	return s.EnsureSchema(ctx)
}
