// Package storage persists reconstructed day tables in pebble. A day is
// written as one atomic batch with its stats marker set alongside the
// rows, so a crashed or failed run never leaves a partial day behind.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/quantops/tickrecon/pkg/batch"
	"github.com/quantops/tickrecon/pkg/recon"
)

// Key layout:
//   s:<day>                                  day stats marker (JSON)
//   o:<day>:<security>:<tick>:<biz>          order record (JSON)
//   t:<day>:<security>:<tick>:<biz>          trade record (JSON)
// Tick and biz are zero-padded so lexical key order equals the writer
// contract order (securityId, tickTime, bizIndex).

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens the store for serving; concurrent batch writers are
// refused by pebble's lock, readers are not.
func OpenReadOnly(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open result store read-only: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func dayKey(day string) []byte { return []byte("s:" + day) }

func orderKey(day string, r *recon.OrderRecord) []byte {
	return []byte(fmt.Sprintf("o:%s:%s:%09d:%012d", day, r.SecurityID, r.TickTime, r.BizIndex))
}

func tradeKey(day string, r *recon.TradeRecord) []byte {
	return []byte(fmt.Sprintf("t:%s:%s:%09d:%012d", day, r.SecurityID, r.TickTime, r.BizIndex))
}

func prefix(kind, day, securityID string) []byte {
	if securityID == "" {
		return []byte(fmt.Sprintf("%s:%s:", kind, day))
	}
	return []byte(fmt.Sprintf("%s:%s:%s:", kind, day, securityID))
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // whole keyspace
}

// SaveDay writes a day's full output and its stats marker in one synced
// batch. An existing day is overwritten in place.
func (s *Store) SaveDay(res *batch.Result) error {
	day := res.Stats.Day
	if day == "" {
		return fmt.Errorf("save day: empty day id")
	}

	b := s.db.NewBatch()
	defer b.Close()

	for i := range res.Orders {
		r := &res.Orders[i]
		val, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", r.OrderID, err)
		}
		if err := b.Set(orderKey(day, r), val, nil); err != nil {
			return err
		}
	}
	for i := range res.Trades {
		r := &res.Trades[i]
		val, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", r.BizIndex, err)
		}
		if err := b.Set(tradeKey(day, r), val, nil); err != nil {
			return err
		}
	}
	statsVal, err := json.Marshal(res.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := b.Set(dayKey(day), statsVal, nil); err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit day %s: %w", day, err)
	}
	return nil
}

// HasDay reports whether a completed day is already stored; the batch CLI
// uses it for skip-existing.
func (s *Store) HasDay(day string) (bool, error) {
	_, closer, err := s.db.Get(dayKey(day))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// DayStats returns the stored stats marker for a day.
func (s *Store) DayStats(day string) (batch.Stats, bool, error) {
	val, closer, err := s.db.Get(dayKey(day))
	if err == pebble.ErrNotFound {
		return batch.Stats{}, false, nil
	}
	if err != nil {
		return batch.Stats{}, false, err
	}
	defer closer.Close()

	var stats batch.Stats
	if err := json.Unmarshal(val, &stats); err != nil {
		return batch.Stats{}, false, fmt.Errorf("unmarshal stats for %s: %w", day, err)
	}
	return stats, true, nil
}

// LoadOrders reads a day's order table, optionally restricted to one
// security. Keys iterate in writer contract order already.
func (s *Store) LoadOrders(day, securityID string) ([]recon.OrderRecord, error) {
	var out []recon.OrderRecord
	err := s.scan(prefix("o", day, securityID), func(val []byte) error {
		var r recon.OrderRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// LoadTrades reads a day's trade table, optionally restricted to one
// security.
func (s *Store) LoadTrades(day, securityID string) ([]recon.TradeRecord, error) {
	var out []recon.TradeRecord
	err := s.scan(prefix("t", day, securityID), func(val []byte) error {
		var r recon.TradeRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *Store) scan(pfx []byte, visit func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pfx,
		UpperBound: keyUpperBound(pfx),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := visit(iter.Value()); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}
