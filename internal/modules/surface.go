package modules

import (
	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// Field is one scannable piece of a request: where it came from and its text.
type Field struct {
	Where string
	Text  string
}

// Surface enumerates the search surface of a record: path, every query
// value, the body (serialized if structured), every header value, and every
// cookie value.
func Surface(rec *analysis.Record) []Field {
	fields := make([]Field, 0, 4+len(rec.Query)+len(rec.Headers)+len(rec.Cookies))

	fields = append(fields, Field{Where: "path", Text: rec.Path})

	for key, vals := range rec.Query {
		for _, v := range vals {
			fields = append(fields, Field{Where: "query:" + key, Text: v})
		}
	}

	if body := rec.BodyText(); body != "" {
		fields = append(fields, Field{Where: "body", Text: body})
	}

	for key, vals := range rec.Headers {
		for _, v := range vals {
			fields = append(fields, Field{Where: "header:" + key, Text: v})
		}
	}

	for key, v := range rec.Cookies {
		fields = append(fields, Field{Where: "cookie:" + key, Text: v})
	}

	return fields
}
