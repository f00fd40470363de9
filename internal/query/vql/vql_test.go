package vql

import (
	"reflect"
	"testing"
)

func TestParseSimpleSelectStar(t *testing.T) {
	q, err := Parse("SELECT * FROM metrics WHERE service_name = 'api' LIMIT 100")
	if err != nil {
		t.Fatal(err)
	}
	if !q.Star || q.From != "metrics" || q.Limit != 100 {
		t.Fatalf("unexpected query: %+v", q)
	}
	if len(q.Where) != 1 || q.Where[0].Ident != "service_name" || q.Where[0].Op != OpEq {
		t.Fatalf("unexpected where clause: %+v", q.Where)
	}
}

func TestParseAggregateProjectionAndGroupBy(t *testing.T) {
	q, err := Parse("SELECT AVG(value), P95(value) FROM metrics WHERE status_code >= 500 GROUP BY service_name ORDER BY service_name DESC LIMIT 50")
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Projection) != 2 || q.Projection[0].Func != "AVG" || q.Projection[1].Func != "P95" {
		t.Fatalf("unexpected projection: %+v", q.Projection)
	}
	if q.OrderBy == nil || !q.OrderBy.Desc {
		t.Fatal("expected descending order by")
	}
}

func TestParseRejectsForbiddenKeyword(t *testing.T) {
	_, err := Parse("SELECT * FROM metrics; DROP TABLE metrics")
	if err == nil {
		t.Fatal("expected forbidden keyword rejection")
	}
	pe, ok := err.(*ParseError)
	if !ok || pe.Token != ";" {
		t.Fatalf("expected offending token ';', got %v", err)
	}
}

func TestParseRejectsNonWhitelistedIdentifier(t *testing.T) {
	_, err := Parse("SELECT secret_column FROM metrics")
	if err == nil {
		t.Fatal("expected identifier whitelist rejection")
	}
}

func TestParseRejectsTooManyWhereTerms(t *testing.T) {
	q := "SELECT * FROM metrics WHERE " +
		"value > 0 AND value > 1 AND value > 2 AND value > 3 AND value > 4 AND " +
		"value > 5 AND value > 6 AND value > 7 AND value > 8 AND value > 9 AND value > 10"
	_, err := Parse(q)
	if err == nil {
		t.Fatal("expected too-many-where-terms rejection")
	}
}

func TestParseCapsLimitAtMax(t *testing.T) {
	q, err := Parse("SELECT * FROM metrics LIMIT 999999")
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != maxLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxLimit, q.Limit)
	}
}

func TestRoundTripParseUnparse(t *testing.T) {
	original := "SELECT AVG(value), COUNT(id) FROM metrics WHERE service_name = 'checkout' AND status_code >= 500 GROUP BY service_name ORDER BY service_name ASC LIMIT 25"
	q1, err := Parse(original)
	if err != nil {
		t.Fatal(err)
	}
	q2, err := Parse(Unparse(q1))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(q1, q2) {
		t.Fatalf("round-trip mismatch:\n%+v\n%+v", q1, q2)
	}
}
