// Package dbtypes holds column types shared by the gorm models.
package dbtypes

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringArray is a text[] column on postgres and a text column elsewhere.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return pq.StringArray(a).Value()
}

func (a *StringArray) Scan(src interface{}) error {
	return (*pq.StringArray)(a).Scan(src)
}

// GormDataType names the type for gorm's schema parser, which otherwise calls Value on
// the zero value.
func (StringArray) GormDataType() string { return "string_array" }

func (StringArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Contains reports whether s is an element of a.
func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// Vector is an embedding stored as real[] on postgres. It casts to pgvector's vector type
// in similarity queries. Nil means "no embedding".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return pq.Float32Array(v).Value()
}

func (v *Vector) Scan(src interface{}) error {
	return (*pq.Float32Array)(v).Scan(src)
}

func (Vector) GormDataType() string { return "vector" }

func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "real[]"
	}
	return "text"
}

// Literal renders v in pgvector's text input format.
func (v Vector) Literal() string {
	b := make([]byte, 0, len(v)*8+2)
	b = append(b, '[')
	for i, f := range v {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendFloat(b, f)
	}
	return string(append(b, ']'))
}
