package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/plan"
)

// Export writes plans as an xz-compressed stream of JSON documents, one per
// line. An empty orgID exports every organisation. It returns the number of
// plans written.
func (s *Store) Export(ctx context.Context, w io.Writer, orgID string) (int, error) {
	query := `SELECT body FROM org_plans ORDER BY org_id, created_at, plan_id`
	args := []any{}
	if orgID != "" {
		query = `SELECT body FROM org_plans WHERE org_id = ? ORDER BY created_at, plan_id`
		args = append(args, orgID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "export plans")
	}
	defer rows.Close()

	xw, err := xz.NewWriter(w)
	if err != nil {
		return 0, errors.Wrap(err, "create xz writer")
	}

	n := 0
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return n, errors.Wrap(err, "scan plan")
		}
		if _, err := io.WriteString(xw, body+"\n"); err != nil {
			return n, errors.NewIO("write", "export", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, errors.Wrap(err, "export plans")
	}
	if err := xw.Close(); err != nil {
		return n, errors.NewIO("close", "export", err)
	}
	return n, nil
}

// Import reads a stream produced by Export and upserts every plan, keeping
// its id, organisation and version. Each plan is validated first; the whole
// import is rolled back if any plan fails.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "open xz stream")
	}

	n := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		dec := json.NewDecoder(xr)
		for {
			var p plan.Plan
			err := dec.Decode(&p)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "decode plan %d", n+1)
			}
			if p.ID == "" || p.OrgID == "" {
				return errors.NewValidation("id", "imported plan has no id or organisation")
			}
			if err := p.Validate(); err != nil {
				return errors.Wrapf(err, "plan %s", p.ID)
			}

			body, hash, err := encode(&p)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO org_plans (org_id, plan_id, name, body, hash, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (org_id, plan_id) DO UPDATE SET
					name = excluded.name, body = excluded.body, hash = excluded.hash,
					created_at = excluded.created_at, updated_at = excluded.updated_at`,
				p.OrgID, p.ID, p.Name, body, hash, formatTime(p.Created), formatTime(p.Updated))
			if err != nil {
				return errors.Wrapf(err, "import plan %s", p.ID)
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
