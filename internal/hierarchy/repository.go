package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads resource nodes from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository wrapper.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const nodeColumns = `id, kind, name, COALESCE(parent_id, 0), path, created_at, updated_at`

// Node loads a single node by id.
func (r *Repository) Node(ctx context.Context, id int64) (Node, error) {
	if r == nil || r.pool == nil {
		return Node{}, fmt.Errorf("hierarchy: repository not initialised")
	}
	query := `SELECT ` + nodeColumns + ` FROM resource_nodes WHERE id = $1`
	node, err := scanNode(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}
	return node, nil
}

// NodesByID loads a set of nodes keyed by id. Ids absent from the store are
// simply missing from the result map.
func (r *Repository) NodesByID(ctx context.Context, ids []int64) (map[int64]Node, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("hierarchy: repository not initialised")
	}
	if len(ids) == 0 {
		return map[int64]Node{}, nil
	}
	query := `SELECT ` + nodeColumns + ` FROM resource_nodes WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes := make(map[int64]Node, len(ids))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes[node.ID] = node
	}
	return nodes, rows.Err()
}

// AllNodes loads the entire tree in id order. The integrity sweep walks it
// to verify parent links and stored paths.
func (r *Repository) AllNodes(ctx context.Context) ([]Node, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("hierarchy: repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+nodeColumns+` FROM resource_nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	var kind string
	if err := row.Scan(&n.ID, &kind, &n.Name, &n.ParentID, &n.Path, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return Node{}, err
	}
	n.Kind = Kind(kind)
	return n, nil
}
