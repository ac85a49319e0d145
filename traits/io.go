package traits

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadTSV reads state observations from a TSV file.
//
// The file must contain the fields:
//
//   - taxon, the taxon name as in the tree
//   - state, the observed state
//
// Several states of an ambiguous taxon can be given either in
// separate rows or joined with '&' in a single field; '?' marks an
// unknown state. Here is an example file:
//
//	taxon	state
//	sp1	0
//	sp2	1
//	sp3	0&1
//	sp4	?
func ReadTSV(r io.Reader) (*Data, error) {
	tab := csv.NewReader(r)
	tab.Comma = '\t'
	tab.Comment = '#'

	head, err := tab.Read()
	if err != nil {
		return nil, fmt.Errorf("while reading header: %v", err)
	}
	fields := make(map[string]int, len(head))
	for i, h := range head {
		h = strings.ToLower(strings.TrimSpace(h))
		fields[h] = i
	}
	for _, h := range []string{"taxon", "state"} {
		if _, ok := fields[h]; !ok {
			return nil, fmt.Errorf("expecting field %q", h)
		}
	}

	d := New()
	for {
		row, err := tab.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		ln, _ := tab.FieldPos(0)
		if err != nil {
			return nil, fmt.Errorf("on row %d: %v", ln, err)
		}

		tax := row[fields["taxon"]]
		for _, s := range strings.Split(row[fields["state"]], "&") {
			d.Add(tax, s)
		}
	}
	return d, nil
}
