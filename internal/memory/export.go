package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

type exportDocument struct {
	UserID     string    `json:"user_id"`
	ExportedAt time.Time `json:"exported_at"`
	Memories   []Entry   `json:"memories"`
}

// ImportResult reports how many rows an import created versus skipped.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Export serializes all of a user's memory entries. It returns the payload
// together with its content type.
func Export(ctx context.Context, store Store, userID string, format ExportFormat) ([]byte, string, error) {
	entries, err := store.ListEntries(ctx, ListFilter{UserID: userID})
	if err != nil {
		return nil, "", fmt.Errorf("export list entries: %w", err)
	}

	switch format {
	case FormatJSON, "":
		doc := exportDocument{
			UserID:     userID,
			ExportedAt: time.Now().UTC(),
			Memories:   entries,
		}
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal export: %w", err)
		}
		return raw, "application/json", nil
	case FormatMarkdown:
		return renderMarkdown(userID, entries), "text/markdown", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

func renderMarkdown(userID string, entries []Entry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory Export\n\nUser: %s\nEntries: %d\n", userID, len(entries))
	for _, t := range []EntryType{TypeFact, TypePreference, TypeContext, TypeInsight} {
		var section []Entry
		for _, e := range entries {
			if e.Type == t {
				section = append(section, e)
			}
		}
		if len(section) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", titleCase(string(t)))
		for _, e := range section {
			fmt.Fprintf(&b, "- **%s**: %s", e.Key, e.Value)
			var facets []string
			if e.Category != "" {
				facets = append(facets, "category: "+e.Category)
			}
			if e.IsPinned {
				facets = append(facets, "pinned")
			}
			facets = append(facets, fmt.Sprintf("importance: %d", e.Importance))
			fmt.Fprintf(&b, " _(%s)_\n", strings.Join(facets, ", "))
		}
	}
	return []byte(b.String())
}

// Import reads a JSON export and creates every well-formed row as a new
// entry for userID. Rows missing key, value, or a valid type are skipped
// and counted; no conflict detection is performed, so re-importing an
// existing export duplicates its rows.
func Import(ctx context.Context, store Store, userID string, data []byte) (ImportResult, error) {
	rows, err := decodeImport(data)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for _, row := range rows {
		if strings.TrimSpace(row.Key) == "" || strings.TrimSpace(row.Value) == "" || !ValidType(row.Type) {
			res.Skipped++
			continue
		}
		_, err := store.CreateEntry(ctx, Entry{
			UserID:     userID,
			Type:       row.Type,
			Key:        row.Key,
			Value:      row.Value,
			Source:     row.Source,
			Category:   row.Category,
			Tags:       row.Tags,
			Importance: row.Importance,
			IsPinned:   row.IsPinned,
		})
		if err != nil {
			return res, fmt.Errorf("import entry %q: %w", row.Key, err)
		}
		res.Imported++
	}
	return res, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func decodeImport(data []byte) ([]Entry, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err == nil && doc.Memories != nil {
		return doc.Memories, nil
	}
	var rows []Entry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse import payload: %w", err)
	}
	return rows, nil
}
