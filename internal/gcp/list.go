package gcp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseList reads a GCP descriptor file.
//
// The first non-blank, non-comment line is the projection definition. Every
// following line is "name easting northing elevation", separated by tabs,
// spaces, or commas. Text after '#' is ignored.
func ParseList(r io.Reader) (Projection, []GCP, error) {
	var (
		proj  Projection
		gcps  []GCP
		seen  = make(map[string]bool)
		found bool
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !found {
			proj = Projection{Definition: line}
			found = true
			continue
		}

		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < 4 {
			return Projection{}, nil, fmt.Errorf("line %d: expected name easting northing elevation, got %d fields", lineNo, len(fields))
		}

		g := GCP{Name: fields[0]}
		coords := []*float64{&g.Easting, &g.Northing, &g.Elevation}
		for i, dst := range coords {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return Projection{}, nil, fmt.Errorf("line %d: invalid coordinate %q: %w", lineNo, fields[i+1], err)
			}
			*dst = v
		}

		if seen[g.Name] {
			return Projection{}, nil, fmt.Errorf("line %d: duplicate gcp %q", lineNo, g.Name)
		}
		seen[g.Name] = true
		gcps = append(gcps, g)
	}
	if err := scanner.Err(); err != nil {
		return Projection{}, nil, fmt.Errorf("failed to read gcp list: %w", err)
	}
	if !found {
		return Projection{}, nil, fmt.Errorf("gcp list has no projection header")
	}

	return proj, gcps, nil
}

// WriteBundlerList writes tagged associations in the OpenDroneMap gcp_list.txt
// layout: a projection header, then "geo_x geo_y geo_z im_x im_y image gcp" rows.
// Untagged associations and dangling ones, whose GCP or image is not in gcps
// or images, are skipped. It returns the number of rows written.
func WriteBundlerList(w io.Writer, proj Projection, gcps []GCP, images []string, assocs []Association) (int, error) {
	byName := make(map[string]GCP, len(gcps))
	for _, g := range gcps {
		byName[g.Name] = g
	}
	known := make(map[string]bool, len(images))
	for _, name := range images {
		known[name] = true
	}

	rows := make([]Association, 0, len(assocs))
	for _, a := range assocs {
		if !a.IsTagged() {
			continue
		}
		if _, ok := byName[a.GCPName]; !ok || !known[a.ImageName] {
			continue
		}
		rows = append(rows, a)
	}
	SortAssociations(rows)

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, proj.Definition); err != nil {
		return 0, err
	}
	for _, a := range rows {
		g := byName[a.GCPName]
		_, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatFloat(g.Easting), formatFloat(g.Northing), formatFloat(g.Elevation),
			formatFloat(a.ImX), formatFloat(a.ImY), a.ImageName, a.GCPName)
		if err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
