package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// writeResult prints a job result as indented JSON or as a two-column table
// of flattened fields.
func writeResult(w io.Writer, result any, format string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if format != "table" {
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	rows := flatten("", v, nil)

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	return table.Render()
}

// flatten turns nested JSON into dotted key/value rows. Object keys are
// sorted; array elements are indexed.
func flatten(prefix string, v any, rows [][2]string) [][2]string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			rows = flatten(join(prefix, k), t[k], rows)
		}
	case []any:
		if len(t) == 0 {
			rows = append(rows, [2]string{prefix, "[]"})
		}
		for i, e := range t {
			rows = flatten(join(prefix, strconv.Itoa(i)), e, rows)
		}
	case nil:
		rows = append(rows, [2]string{prefix, "-"})
	case float64:
		rows = append(rows, [2]string{prefix, strconv.FormatFloat(t, 'f', -1, 64)})
	default:
		rows = append(rows, [2]string{prefix, fmt.Sprint(t)})
	}
	return rows
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
