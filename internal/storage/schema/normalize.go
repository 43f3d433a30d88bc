package schema

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/timex"
	"github.com/iancoleman/strcase"
)

// FieldName converts an external field name (camelCase or snake_case, or a
// collection alias) to the canonical snake_case column name.
func (c *Collection) FieldName(field string) string {
	if col, ok := c.Aliases[field]; ok {
		return col
	}
	snake := strcase.ToSnake(field)
	if col, ok := c.Aliases[snake]; ok {
		return col
	}
	return snake
}

// Canonical renames the keys of rec to canonical field names. Unknown fields
// are kept; see ToColumns for whitelisting.
func (c *Collection) Canonical(rec storage.Record) storage.Record {
	out := make(storage.Record, len(rec))
	for k, v := range rec {
		out[c.FieldName(k)] = v
	}
	return out
}

// ToColumns converts rec into native columns: canonical names, unknown fields
// and the tenant column stripped, timestamps formatted and foreign keys
// checked against their policy. partial relaxes the required-reference
// check for updates.
func (c *Collection) ToColumns(rec storage.Record, partial bool) (storage.Record, error) {
	canon := c.Canonical(rec)
	out := make(storage.Record, len(canon))
	for k, v := range canon {
		if k == TenantColumn || !c.HasColumn(k) {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = timex.UTC(t)
		}
		out[k] = v
	}

	for _, fk := range c.ForeignKeys {
		v, present := out[fk.Field]
		if !present {
			if fk.Required && !partial {
				return nil, fmt.Errorf("%w: %s.%s is required", common.ErrValidation, c.Name, fk.Field)
			}
			continue
		}
		ref, _ := v.(string)
		if v == nil || ref == "" {
			if fk.Required {
				return nil, fmt.Errorf("%w: %s.%s is required", common.ErrValidation, c.Name, fk.Field)
			}
			out[fk.Field] = nil
			continue
		}
		if storage.IsID(ref) {
			continue
		}
		if fk.Policy == Reject {
			return nil, fmt.Errorf("%w: %s.%s: malformed reference %v", common.ErrValidation, c.Name, fk.Field, v)
		}
		out[fk.Field] = nil
	}

	return out, nil
}

// FromRow converts a native row back to a logical record, dropping the
// tenant column.
func (c *Collection) FromRow(row storage.Record) storage.Record {
	out := make(storage.Record, len(row))
	for k, v := range row {
		if k == TenantColumn {
			continue
		}
		out[k] = v
	}
	return out
}
