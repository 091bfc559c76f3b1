package salesforce

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// maxIDsPerQuery keeps the IN clause well under the SOQL length limit.
const maxIDsPerQuery = 200

// Supported objects.
const (
	ObjectLead    = "Lead"
	ObjectContact = "Contact"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// FetchByIDs selects fields for the given record ids of a Lead or Contact
// object. Ids are queried in chunks. Results keep Salesforce's nesting for
// relationship fields and drop the attributes envelope.
func FetchByIDs(ctx context.Context, c Client, object string, fields, ids []string) ([]map[string]any, error) {
	if object != ObjectLead && object != ObjectContact {
		return nil, eris.Errorf("sf: unsupported object %q", object)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	selected, err := selectList(fields)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		soql := fmt.Sprintf("SELECT %s FROM %s WHERE Id IN (%s)",
			selected, object, quoteList(ids[start:end]))

		var rows []map[string]any
		if err := c.Query(ctx, soql, &rows); err != nil {
			return out, eris.Wrap(err, fmt.Sprintf("sf: fetch %s batch %d-%d", object, start, end))
		}
		for _, row := range rows {
			out = append(out, stripAttributes(row))
		}
	}
	return out, nil
}

// selectList dedups fields, always leads with Id, and rejects anything that
// is not a plain or dotted field name.
func selectList(fields []string) (string, error) {
	seen := map[string]bool{"Id": true}
	list := []string{"Id"}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		if !fieldPattern.MatchString(f) {
			return "", eris.Errorf("sf: invalid field name %q", f)
		}
		seen[f] = true
		list = append(list, f)
	}
	return strings.Join(list, ", "), nil
}

func quoteList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + escapeSoql(id) + "'"
	}
	return strings.Join(quoted, ", ")
}

func stripAttributes(row map[string]any) map[string]any {
	delete(row, "attributes")
	for _, v := range row {
		if nested, ok := v.(map[string]any); ok {
			stripAttributes(nested)
		}
	}
	return row
}

func cutPath(path string) (head, rest string, nested bool) {
	return strings.Cut(path, ".")
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
