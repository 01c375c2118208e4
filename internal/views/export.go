package views

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/siddharth-mourya/powerlytic-be/internal/store"
)

// exportHeader is the column set of the CSV export.
// measured_at,ingested_at,device_id,organization_id,port_key,port_type,
// slave_id,read_id,read_name,read_tag,raw_value,calibrated_value,unit,
// quality,registers,bits_to_read,endianness
var exportHeader = []string{
	"measured_at", "ingested_at", "device_id", "organization_id",
	"port_key", "port_type", "slave_id", "read_id", "read_name", "read_tag",
	"raw_value", "calibrated_value", "unit", "quality",
	"registers", "bits_to_read", "endianness",
}

// ExportCSV streams the records matching the range query as CSV rows,
// oldest first.
func (b *Builder) ExportCSV(ctx context.Context, w io.Writer, q store.RangeQuery) error {
	q.Ascending = true
	records, err := b.source.Range(ctx, q)
	if err != nil {
		return fmt.Errorf("export csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, m := range records {
		var registers, bits, endianness string
		if m.Decode != nil {
			registers = strings.Join(m.Decode.RawRegistersHex, " ")
			bits = strconv.Itoa(int(m.Decode.BitsToRead))
			endianness = string(m.Decode.Endianness)
		}
		rec := []string{
			m.MeasuredAt.Format(time.RFC3339Nano),
			m.IngestedAt.Format(time.RFC3339Nano),
			m.DeviceID,
			m.OrganizationID,
			m.PortKey,
			string(m.PortType),
			m.SlaveID,
			m.ReadID,
			m.ReadName,
			m.ReadTag,
			strconv.FormatFloat(m.RawValue, 'g', -1, 64),
			strconv.FormatFloat(m.CalibratedValue, 'g', -1, 64),
			m.Unit,
			string(m.Quality),
			registers,
			bits,
			endianness,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
