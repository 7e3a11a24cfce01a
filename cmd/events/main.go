// Command events prints the bot's event log as a tree rooted at a
// process.started event, or as per-type counts.
package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stupiduntilnot/freepsy/internal/db"
)

// node is one events row with its children.
type node struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	Type      string
	Payload   sql.NullString
	Children  []*node
}

type options struct {
	dbPath    string
	rootID    int64
	depth     int
	jsonOut   bool
	noPayload bool
	summary   bool
	only      string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "[events] %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.dbPath, "db", envOrDefault("FREEPSY_DB_PATH", "data/freepsy.db"), "SQLite database path")
	fs.Int64Var(&opts.rootID, "id", 0, "root event id (default: latest process.started)")
	fs.IntVar(&opts.depth, "L", 0, "limit display depth (0 = unlimited)")
	fs.BoolVar(&opts.jsonOut, "json", false, "print JSON")
	fs.BoolVar(&opts.noPayload, "no-payload", false, "hide payloads")
	fs.BoolVar(&opts.summary, "summary", false, "print event counts per type instead of the tree")
	fs.StringVar(&opts.only, "type", "", "keep only child events whose type starts with this prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	database, err := sql.Open("sqlite3", "file:"+opts.dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	rootID := opts.rootID
	if rootID == 0 {
		if rootID, err = latestProcess(database); err != nil {
			return err
		}
	}
	rows, err := loadSubtree(database, rootID)
	if err != nil {
		return fmt.Errorf("query subtree: %w", err)
	}
	root := link(rows, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}
	if opts.only != "" {
		prune(root, opts.only)
	}

	switch {
	case opts.summary:
		return writeSummary(out, database, root)
	case opts.jsonOut:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSON(root, 1, opts))
	default:
		writeTree(out, root, "", true, 1, opts)
		return nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func latestProcess(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = 'process.started' ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no process.started event found")
	}
	return id, err
}

func loadSubtree(database *sql.DB, rootID int64) ([]*node, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT id, timestamp, parent_id, event_type, payload
		FROM events WHERE id IN (SELECT id FROM subtree)
		ORDER BY id`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*node
	for rows.Next() {
		n := &node{}
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.ParentID, &n.Type, &n.Payload); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// link attaches each node to its parent. Rows arrive ordered by id, so
// children stay in id order.
func link(nodes []*node, rootID int64) *node {
	byID := make(map[int64]*node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ID == rootID || !n.ParentID.Valid {
			continue
		}
		if parent, ok := byID[n.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	return byID[rootID]
}

// prune drops descendants whose type lacks prefix and have no matching
// descendant themselves.
func prune(n *node, prefix string) bool {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if prune(c, prefix) {
			kept = append(kept, c)
		}
	}
	n.Children = kept
	return strings.HasPrefix(n.Type, prefix) || len(kept) > 0
}

func writeTree(w io.Writer, n *node, prefix string, last bool, depth int, opts options) {
	if depth == 1 {
		fmt.Fprintln(w, line(n, opts.noPayload))
	} else {
		branch := "├── "
		if last {
			branch = "└── "
		}
		fmt.Fprintln(w, prefix+branch+line(n, opts.noPayload))
	}

	childPrefix := prefix
	if depth > 1 {
		if last {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if opts.depth > 0 && depth >= opts.depth {
		if len(n.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, c := range n.Children {
		writeTree(w, c, childPrefix, i == len(n.Children)-1, depth+1, opts)
	}
}

// line renders "[id] time  type  key=value ..." with keys sorted.
func line(n *node, noPayload bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", n.ID, time.Unix(n.Timestamp, 0).UTC().Format(time.DateTime), n.Type)
	if noPayload {
		return b.String()
	}
	payload := decodePayload(n)
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(payload[k]))
	}
	return b.String()
}

func decodePayload(n *node) map[string]any {
	if !n.Payload.Valid || n.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(n.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonNode struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonNode     `json:"children,omitempty"`
}

func toJSON(n *node, depth int, opts options) jsonNode {
	j := jsonNode{ID: n.ID, Timestamp: n.Timestamp, Type: n.Type}
	if !opts.noPayload {
		j.Payload = decodePayload(n)
	}
	if opts.depth > 0 && depth >= opts.depth {
		return j
	}
	for _, c := range n.Children {
		j.Children = append(j.Children, toJSON(c, depth+1, opts))
	}
	return j
}

// writeSummary prints how often each event type occurs below the root,
// next to its count over the whole log.
func writeSummary(w io.Writer, database *sql.DB, root *node) error {
	counts := map[string]int{}
	var walk func(*node)
	walk = func(n *node) {
		counts[n.Type]++
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		total, err := db.CountEvents(database, t)
		if err != nil {
			return fmt.Errorf("count %s: %w", t, err)
		}
		if _, err := fmt.Fprintf(w, "%-22s %d of %d\n", t, counts[t], total); err != nil {
			return err
		}
	}
	return nil
}
