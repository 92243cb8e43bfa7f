// Package feed loads a day's merged tick feed from CSV into memory,
// grouped by security for the batch runner. Parsing is strict about the
// fields reconstruction depends on and lenient about the rest: order ids
// and money fields are legitimately empty on some event types.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/quantops/tickrecon/pkg/recon"
)

// Required header columns, matching the exchange's merged feed export.
var columns = []string{
	"SecurityID", "BizIndex", "TickTime", "Type",
	"BuyOrderNO", "SellOrderNO", "Price", "Qty", "TradeMoney", "TickBSFlag",
}

// LoadDay reads one day's feed file and groups events per security,
// preserving file order within each group. The engine re-sorts anyway;
// grouping is all the runner needs.
func LoadDay(path string) (map[string][]recon.TickEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a merged tick feed CSV with a header row.
func Parse(r io.Reader) (map[string][]recon.TickEvent, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read feed header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, name := range columns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("feed header: %w: %s", recon.ErrMissingField, name)
		}
	}

	feed := make(map[string][]recon.TickEvent)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed row: %w", err)
		}
		line++

		ev, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("feed line %d: %w", line, err)
		}
		feed[ev.SecurityID] = append(feed[ev.SecurityID], ev)
	}
	return feed, nil
}

func parseRow(row []string, idx map[string]int) (recon.TickEvent, error) {
	get := func(name string) string { return row[idx[name]] }

	securityID := get("SecurityID")
	if securityID == "" {
		return recon.TickEvent{}, fmt.Errorf("%w: SecurityID", recon.ErrMissingField)
	}

	bizIndex, err := parseInt(get("BizIndex"), "BizIndex")
	if err != nil {
		return recon.TickEvent{}, err
	}
	tickTime, err := parseInt(get("TickTime"), "TickTime")
	if err != nil {
		return recon.TickEvent{}, err
	}
	qty, err := parseOptionalInt(get("Qty"), "Qty")
	if err != nil {
		return recon.TickEvent{}, err
	}
	buyID, err := parseOptionalInt(get("BuyOrderNO"), "BuyOrderNO")
	if err != nil {
		return recon.TickEvent{}, err
	}
	sellID, err := parseOptionalInt(get("SellOrderNO"), "SellOrderNO")
	if err != nil {
		return recon.TickEvent{}, err
	}
	price, err := parseMoney(get("Price"), "Price")
	if err != nil {
		return recon.TickEvent{}, err
	}
	money, err := parseMoney(get("TradeMoney"), "TradeMoney")
	if err != nil {
		return recon.TickEvent{}, err
	}

	return recon.TickEvent{
		SecurityID:  securityID,
		BizIndex:    bizIndex,
		TickTime:    tickTime,
		Type:        recon.ParseEventType(get("Type")),
		BuyOrderID:  buyID,
		SellOrderID: sellID,
		Price:       price,
		Qty:         qty,
		TradeMoney:  money,
		ActiveFlag:  recon.ParseActiveFlag(get("TickBSFlag")),
	}, nil
}

func parseInt(s, field string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: %s", recon.ErrMissingField, field)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseOptionalInt(s, field string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

// parseMoney goes through decimal to keep exported values like
// "50500.000000001" from picking up extra binary noise before the final
// float64 narrowing.
func parseMoney(s, field string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d.InexactFloat64(), nil
}
