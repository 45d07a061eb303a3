package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Tender is the graph node for one procurement procedure, keyed by CIG code.
type Tender struct {
	Code            string
	Title           string
	CPVCode         string
	Buyer           string
	BaseAmount      float64
	PublicationDate time.Time
}

// Lot is one lot of a tender.
type Lot struct {
	ID         string
	Name       string
	CPVCode    string
	BaseAmount float64
}

// Client wraps the Neo4j driver with tender-domain operations. The graph is
// an optional enrichment layer; callers treat failures as non-fatal.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(ctx context.Context, uri, user, password string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Client{driver: driver, database: "neo4j"}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints the upserts rely on.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT tender_code_unique IF NOT EXISTS FOR (t:Tender) REQUIRE t.code IS UNIQUE",
		"CREATE CONSTRAINT lot_id_unique IF NOT EXISTS FOR (l:Lot) REQUIRE l.id IS UNIQUE",
		"CREATE INDEX tender_buyer IF NOT EXISTS FOR (t:Tender) ON (t.buyer_name)",
		"CREATE INDEX tender_cpv IF NOT EXISTS FOR (t:Tender) ON (t.cpv_code)",
	}
	for _, stmt := range statements {
		if _, err := neo4j.ExecuteQuery(ctx, c.driver, stmt, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database)); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertTender creates or refreshes a tender node.
func (c *Client) UpsertTender(ctx context.Context, t Tender) error {
	const q = `
MERGE (t:Tender {code: $code})
SET t.title = $title,
    t.cpv_code = $cpv,
    t.buyer_name = $buyer,
    t.base_amount = $amount,
    t.publication_date = $published`
	params := map[string]any{
		"code":      t.Code,
		"title":     t.Title,
		"cpv":       t.CPVCode,
		"buyer":     t.Buyer,
		"amount":    t.BaseAmount,
		"published": t.PublicationDate.Format("2006-01-02"),
	}
	_, err := neo4j.ExecuteQuery(ctx, c.driver, q, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return fmt.Errorf("upsert tender %s: %w", t.Code, err)
	}
	return nil
}

// UpsertLot attaches a lot to an existing tender.
func (c *Client) UpsertLot(ctx context.Context, tenderCode string, l Lot) error {
	const q = `
MATCH (t:Tender {code: $tender_code})
MERGE (l:Lot {id: $id})
SET l.name = $name,
    l.cpv_code = $cpv,
    l.base_amount = $amount
MERGE (t)-[:HAS_LOT]->(l)`
	params := map[string]any{
		"tender_code": tenderCode,
		"id":          l.ID,
		"name":        l.Name,
		"cpv":         l.CPVCode,
		"amount":      l.BaseAmount,
	}
	_, err := neo4j.ExecuteQuery(ctx, c.driver, q, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return fmt.Errorf("upsert lot %s: %w", l.ID, err)
	}
	return nil
}

// TenderContext builds a one-line structured summary of a tender and its
// lots, used as a hint for query rewriting.
func (c *Client) TenderContext(ctx context.Context, code string) (string, error) {
	const q = `
MATCH (t:Tender {code: $code})
OPTIONAL MATCH (t)-[:HAS_LOT]->(l:Lot)
RETURN t.title AS title, t.buyer_name AS buyer, t.base_amount AS amount,
       collect(l.name) AS lots`
	res, err := neo4j.ExecuteQuery(ctx, c.driver, q, map[string]any{"code": code},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return "", fmt.Errorf("tender context %s: %w", code, err)
	}
	if len(res.Records) == 0 {
		return "", nil
	}

	rec := res.Records[0]
	title, _, _ := neo4j.GetRecordValue[string](rec, "title")
	buyer, _, _ := neo4j.GetRecordValue[string](rec, "buyer")
	amount, _, _ := neo4j.GetRecordValue[float64](rec, "amount")
	lotsRaw, _, _ := neo4j.GetRecordValue[[]any](rec, "lots")

	var sb strings.Builder
	fmt.Fprintf(&sb, "gara %s", code)
	if title != "" {
		fmt.Fprintf(&sb, ": %s", title)
	}
	if buyer != "" {
		fmt.Fprintf(&sb, ", stazione appaltante %s", buyer)
	}
	if amount > 0 {
		fmt.Fprintf(&sb, ", importo base %.2f EUR", amount)
	}
	lots := make([]string, 0, len(lotsRaw))
	for _, l := range lotsRaw {
		if s, ok := l.(string); ok && s != "" {
			lots = append(lots, s)
		}
	}
	if len(lots) > 0 {
		fmt.Fprintf(&sb, ", lotti: %s", strings.Join(lots, "; "))
	}
	return sb.String(), nil
}
