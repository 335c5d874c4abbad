package hrrr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/fetch"
)

// Record is one message from a wgrib2 "short" inventory (.idx sidecar). Extent
// is the message length in bytes, or -1 for the final message whose length is
// only bounded by the end of the file.
type Record struct {
	Number     int
	Offset     int64
	Extent     int64
	When       time.Time
	Descriptor string // ":VAR:LEVEL:FCST:" as matched by selection patterns
}

// Inventory is an ordered list of GRIB messages.
type Inventory []Record

// ParseInventory reads a wgrib2 short inventory. Sub-records ("12.1", "12.2")
// share one message and are folded into it.
func ParseInventory(r io.Reader) (Inventory, error) {
	var inv Inventory
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("inventory line %d: too few fields", line)
		}

		numbers := strings.Split(fields[0], ".")
		number, err := strconv.Atoi(numbers[0])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: record number: %w", line, err)
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: offset: %w", line, err)
		}
		when, err := parseDateField(fields[2])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: %w", line, err)
		}

		desc := ":" + strings.Join(fields[3:], ":")
		if len(numbers) > 1 && numbers[1] != "1" {
			if len(inv) == 0 {
				return nil, fmt.Errorf("inventory line %d: sub-record without parent", line)
			}
			inv[len(inv)-1].Descriptor += "|" + desc
			continue
		}

		if n := len(inv); n > 0 {
			if offset < inv[n-1].Offset {
				return nil, fmt.Errorf("inventory line %d: offset %d goes backwards", line, offset)
			}
			inv[n-1].Extent = offset - inv[n-1].Offset
		}
		inv = append(inv, Record{
			Number:     number,
			Offset:     offset,
			Extent:     -1,
			When:       when,
			Descriptor: desc,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	if len(inv) == 0 {
		return nil, errors.New("empty inventory")
	}
	return inv, nil
}

// Select returns the byte ranges of every record whose descriptor matches re.
// Adjacent records are coalesced into one range.
func (inv Inventory) Select(re *regexp.Regexp) []fetch.ByteRange {
	var ranges []fetch.ByteRange
	for _, rec := range inv {
		if !re.MatchString(rec.Descriptor) {
			continue
		}
		end := int64(-1)
		if rec.Extent >= 0 {
			end = rec.Offset + rec.Extent - 1
		}
		if n := len(ranges); n > 0 && ranges[n-1].End >= 0 && ranges[n-1].End+1 == rec.Offset {
			ranges[n-1].End = end
			continue
		}
		ranges = append(ranges, fetch.ByteRange{Start: rec.Offset, End: end})
	}
	return ranges
}

// parseDateField reads "d=YYYYMMDDHH".
func parseDateField(s string) (time.Time, error) {
	v, ok := strings.CutPrefix(s, "d=")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date field %q", s)
	}
	t, err := time.Parse("2006010215", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date field %q", s)
	}
	return t, nil
}
