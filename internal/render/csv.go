package render

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/atlasmap-sc/heatmap/internal/session"
)

// WriteCSV writes the visible heatmap: a header of item names in display
// order, then one row per active marker.
func WriteCSV(w io.Writer, s session.Snapshot) error {
	if !s.HasData() {
		return session.ErrNoDataset
	}
	order := s.DisplayOrder()
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(order)+1)
	header = append(header, "marker")
	for _, item := range order {
		header = append(header, s.Dataset.Items[item].Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(order)+1)
	for _, d := range s.ActiveMarkers {
		row[0] = s.Dataset.Names[d]
		for slot, item := range order {
			row[slot+1] = strconv.FormatFloat(s.Dataset.Items[item].Expression[d], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
