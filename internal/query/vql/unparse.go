package vql

import "strings"

// Unparse renders q back to canonical VQL text. Parse(Unparse(q)) == q
// holds structurally for every Query Parse accepts: canonical spacing and
// uppercase keywords make the rendering deterministic.
func Unparse(q *Query) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Star {
		sb.WriteString("*")
	} else {
		parts := make([]string, len(q.Projection))
		for i, p := range q.Projection {
			parts[i] = p.String()
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.From)

	if len(q.Where) > 0 {
		sb.WriteString(" WHERE ")
		parts := make([]string, len(q.Where))
		for i, c := range q.Where {
			parts[i] = c.Ident + " " + string(c.Op) + " " + c.Literal.String()
		}
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(q.GroupBy, ", "))
	}

	if q.OrderBy != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.OrderBy.Ident)
		if q.OrderBy.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(intToStr(q.Limit))
	return sb.String()
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
