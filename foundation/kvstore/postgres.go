package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/database"
	"github.com/jmoiron/sqlx"
)

// scanPageSize is the number of rows retrieved per round trip by ScanPrefix
const scanPageSize = 500

// Schema creates the table used by Postgres
const Schema = `create table if not exists kv_item (
	pk         text primary key,
	item       jsonb not null,
	expires_at timestamptz null
);
create index if not exists kv_item_expires_at on kv_item (expires_at) where expires_at is not null;`

// Postgres implements Store on a single postgres table with a jsonb document column.
// Expiry is enforced on read and expired rows are removed by DeleteExpired.
type Postgres struct {
	log *log.Logger
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres creates Postgres store on db
func NewPostgres(log *log.Logger, db *sqlx.DB) *Postgres {
	return &Postgres{
		log: log,
		db:  db,
		now: time.Now,
	}
}

// Migrate creates the kv_item table if not present
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("creating kv_item table: %w", err)
	}
	return nil
}

// itemRow is the database representation of an Item
type itemRow struct {
	Key       string     `db:"pk"`
	Value     string     `db:"item"`
	ExpiresAt *time.Time `db:"expires_at"`
}

func (r *itemRow) toItem() Item {
	return Item{
		Key:       r.Key,
		Value:     []byte(r.Value),
		ExpiresAt: r.ExpiresAt,
	}
}

// Get implements Store
func (p *Postgres) Get(ctx context.Context, key string) (*Item, error) {
	query := p.db.Rebind("select pk, item::text as item, expires_at from kv_item " +
		"where pk = ? and (expires_at is null or expires_at > ?)")
	row := itemRow{}
	err := p.db.GetContext(ctx, &row, query, key, p.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting item %s: %w", key, err)
	}
	item := row.toItem()
	return &item, nil
}

// Put implements Store
func (p *Postgres) Put(ctx context.Context, item Item) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(upsertStatement), item.Key, string(item.Value), item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("putting item %s: %w", item.Key, err)
	}
	return nil
}

const upsertStatement = "insert into kv_item (pk, item, expires_at) values (?, cast(? as jsonb), ?) " +
	"on conflict (pk) do update set item = excluded.item, expires_at = excluded.expires_at"

// BatchGet implements Store
func (p *Postgres) BatchGet(ctx context.Context, keys []string) (map[string]Item, error) {
	keys = uniqueKeys(keys)
	results := make(map[string]Item, len(keys))
	if len(keys) == 0 {
		return results, nil
	}
	if len(keys) > MaxBatchKeys {
		return nil, fmt.Errorf("batch get of %d keys exceeds limit of %d", len(keys), MaxBatchKeys)
	}
	query, args, err := sqlx.In("select pk, item::text as item, expires_at from kv_item "+
		"where pk in (?) and (expires_at is null or expires_at > ?)", keys, p.now())
	if err != nil {
		return nil, err
	}
	var rows []itemRow
	err = p.db.SelectContext(ctx, &rows, p.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("batch get of %d keys: %w", len(keys), err)
	}
	for _, row := range rows {
		results[row.Key] = row.toItem()
	}
	return results, nil
}

// BatchWrite implements Store, all items are written in a single transaction
func (p *Postgres) BatchWrite(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	return database.Transact(ctx, p.log, p.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertStatement))
		if err != nil {
			return err
		}
		defer func() {
			_ = stmt.Close()
		}()
		for _, item := range items {
			_, err = stmt.ExecContext(ctx, item.Key, string(item.Value), item.ExpiresAt)
			if err != nil {
				return fmt.Errorf("writing item %s: %w", item.Key, err)
			}
		}
		return nil
	})
}

// ScanPrefix implements Store, paging through matching keys in key order
func (p *Postgres) ScanPrefix(ctx context.Context, prefix string, fn func(Item) error) error {
	query := p.db.Rebind("select pk, item::text as item, expires_at from kv_item " +
		"where pk like ? escape '\\' and pk > ? and (expires_at is null or expires_at > ?) " +
		"order by pk limit ?")
	pattern := escapeLikePrefix(prefix)
	lastKey := ""
	for {
		var rows []itemRow
		err := p.db.SelectContext(ctx, &rows, query, pattern, lastKey, p.now(), scanPageSize)
		if err != nil {
			return fmt.Errorf("scanning prefix %s after %q: %w", prefix, lastKey, err)
		}
		for _, row := range rows {
			if err = fn(row.toItem()); err != nil {
				return err
			}
		}
		if len(rows) < scanPageSize {
			return nil
		}
		lastKey = rows[len(rows)-1].Key
	}
}

// DeleteExpired implements Store
func (p *Postgres) DeleteExpired(ctx context.Context, at time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, p.db.Rebind("delete from kv_item where expires_at <= ?"), at)
	if err != nil {
		return 0, fmt.Errorf("deleting expired items: %w", err)
	}
	return result.RowsAffected()
}
